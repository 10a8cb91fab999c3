package record

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certflow/internal/certification/models"
	"certflow/pkg/platform/sentinel"
	"certflow/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const selectColumns = `id, certification_number, owner_id, applicant_category, applicant, company,
	period, files, terms_accepted, internal_status, validation_status, submitted_at,
	processed_at, rejection_reason, sync_metadata, version, created_at, updated_at`

// PostgresStore persists certification records in PostgreSQL. Writes are
// compare-and-swap on the version column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate certifications: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, r *models.CertificationRecord) error {
	cols, err := encodeRecord(r)
	if err != nil {
		return err
	}
	_, err = tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO certifications (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)`,
		r.ID, r.CertificationNumber, r.OwnerID, string(r.Category), cols.applicant, cols.company,
		r.Period, cols.files, r.TermsAccepted, string(r.InternalStatus), string(r.ValidationStatus),
		r.SubmittedAt, r.ProcessedAt, r.RejectionReason, cols.sync, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("create certification: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create certification: %w", err)
	}
	r.Version = 1
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.CertificationRecord, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM certifications WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certification by id: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindByNumber(ctx context.Context, number string) (*models.CertificationRecord, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM certifications WHERE certification_number = $1`, number)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certification by number: %w", err)
	}
	return r, nil
}

// Update writes r if the stored version still equals expectedVersion.
func (s *PostgresStore) Update(ctx context.Context, r *models.CertificationRecord, expectedVersion int64) error {
	cols, err := encodeRecord(r)
	if err != nil {
		return err
	}
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE certifications SET
			owner_id = $3, applicant_category = $4, applicant = $5, company = $6, period = $7,
			files = $8, terms_accepted = $9, internal_status = $10, validation_status = $11,
			submitted_at = $12, processed_at = $13, rejection_reason = $14, sync_metadata = $15,
			updated_at = $16, version = version + 1
		WHERE id = $1 AND version = $2`,
		r.ID, expectedVersion, r.OwnerID, string(r.Category), cols.applicant, cols.company, r.Period,
		cols.files, r.TermsAccepted, string(r.InternalStatus), string(r.ValidationStatus),
		r.SubmittedAt, r.ProcessedAt, r.RejectionReason, cols.sync, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update certification: %w", err)
	}
	if err := s.checkSwapped(ctx, res, r.ID); err != nil {
		return err
	}
	r.Version = expectedVersion + 1
	return nil
}

// Delete removes a REGISTERED record whose version still equals expectedVersion.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		DELETE FROM certifications
		WHERE id = $1 AND version = $2 AND validation_status = $3`,
		id, expectedVersion, string(models.ValidationRegistered),
	)
	if err != nil {
		return fmt.Errorf("delete certification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete certification: %w", err)
	}
	if n == 1 {
		return nil
	}
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) checkSwapped(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certification: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

// ListByValidationStatus returns records in any of statuses, oldest
// submission first.
func (s *PostgresStore) ListByValidationStatus(ctx context.Context, statuses []models.ValidationStatus, limit int) ([]*models.CertificationRecord, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `SELECT ` + selectColumns + ` FROM certifications
		WHERE validation_status = ANY($1)
		ORDER BY COALESCE(submitted_at, created_at), id`
	args := []any{pq.Array(names)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certifications: %w", err)
	}
	defer rows.Close()

	var out []*models.CertificationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certification: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list certifications: %w", err)
	}
	return out, nil
}

// NextSequence atomically advances the per-prefix counter.
func (s *PostgresStore) NextSequence(ctx context.Context, prefix string) (int64, error) {
	var next int64
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO certification_sequences (prefix, last_value) VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET last_value = certification_sequences.last_value + 1
		RETURNING last_value`, strings.ToUpper(prefix)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next certification sequence: %w", err)
	}
	return next, nil
}

type encodedColumns struct {
	applicant []byte
	company   []byte
	files     []byte
	sync      []byte
}

func encodeRecord(r *models.CertificationRecord) (encodedColumns, error) {
	var cols encodedColumns
	var err error
	if cols.applicant, err = json.Marshal(r.Applicant); err != nil {
		return cols, fmt.Errorf("marshal applicant: %w", err)
	}
	if cols.company, err = json.Marshal(r.Company); err != nil {
		return cols, fmt.Errorf("marshal company: %w", err)
	}
	files := r.Files
	if files == nil {
		files = models.Files{}
	}
	if cols.files, err = json.Marshal(files); err != nil {
		return cols, fmt.Errorf("marshal files: %w", err)
	}
	entries := r.SyncMetadata
	if entries == nil {
		entries = []models.SyncEntry{}
	}
	if cols.sync, err = json.Marshal(entries); err != nil {
		return cols, fmt.Errorf("marshal sync metadata: %w", err)
	}
	return cols, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.CertificationRecord, error) {
	var (
		r                                 models.CertificationRecord
		category, internal, validation    string
		applicant, company, files, syncMD []byte
		submittedAt, processedAt          sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.CertificationNumber, &r.OwnerID, &category, &applicant, &company,
		&r.Period, &files, &r.TermsAccepted, &internal, &validation, &submittedAt,
		&processedAt, &r.RejectionReason, &syncMD, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Category = models.ApplicantCategory(category)
	r.InternalStatus = models.InternalStatus(internal)
	r.ValidationStatus = models.ValidationStatus(validation)
	if submittedAt.Valid {
		t := submittedAt.Time
		r.SubmittedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	if err := json.Unmarshal(applicant, &r.Applicant); err != nil {
		return nil, fmt.Errorf("unmarshal applicant: %w", err)
	}
	if err := json.Unmarshal(company, &r.Company); err != nil {
		return nil, fmt.Errorf("unmarshal company: %w", err)
	}
	r.Files = models.Files{}
	if err := json.Unmarshal(files, &r.Files); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	if err := json.Unmarshal(syncMD, &r.SyncMetadata); err != nil {
		return nil, fmt.Errorf("unmarshal sync metadata: %w", err)
	}
	if len(r.SyncMetadata) == 0 {
		r.SyncMetadata = nil
	}
	return &r, nil
}
