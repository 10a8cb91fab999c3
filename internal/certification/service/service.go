package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/events"
	"certflow/internal/certification/files"
	"certflow/internal/certification/lifecycle"
	"certflow/internal/certification/metrics"
	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	"certflow/internal/certification/store/claim"
	dErrors "certflow/pkg/domain-errors"
	"certflow/pkg/platform/tx"
	"certflow/pkg/requestcontext"
)

// RecordStore persists certification records. Update and Delete are
// compare-and-swap on the record version and return sentinel.ErrConflict
// when another writer got there first.
type RecordStore interface {
	Create(ctx context.Context, r *models.CertificationRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CertificationRecord, error)
	FindByNumber(ctx context.Context, number string) (*models.CertificationRecord, error)
	Update(ctx context.Context, r *models.CertificationRecord, expectedVersion int64) error
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error
	ListByValidationStatus(ctx context.Context, statuses []models.ValidationStatus, limit int) ([]*models.CertificationRecord, error)
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// ClaimStore hands out short-lived per-record write claims.
type ClaimStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (claim.Token, error)
	Release(ctx context.Context, key string, token claim.Token) error
}

const (
	defaultClaimTTL           = 2 * time.Minute
	defaultSyncTimeout        = 45 * time.Second
	defaultRefreshConcurrency = 4

	commitTimeout = 10 * time.Second
)

// Service is the caller-facing API of the certification core: requirement
// computation, eligibility, edits, submission and authority sync.
type Service struct {
	records   RecordStore
	claims    ClaimStore
	files     files.Store
	authority authority.Client
	publisher events.Publisher
	tx        tx.Transactor
	logger    *slog.Logger
	metrics   *metrics.Metrics

	claimTTL           time.Duration
	syncTimeout        time.Duration
	refreshConcurrency int

	statusCalls singleflight.Group
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithTransactor makes number allocation and insert of a new record atomic.
func WithTransactor(t tx.Transactor) Option {
	return func(s *Service) {
		if t != nil {
			s.tx = t
		}
	}
}

// WithClaimTTL bounds how long a crashed submitter can block a record.
func WithClaimTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTTL = d
		}
	}
}

// WithSyncTimeout bounds one authority round trip including retries.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

func WithRefreshConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.refreshConcurrency = n
		}
	}
}

// New constructs a Service.
func New(records RecordStore, claims ClaimStore, fileStore files.Store, client authority.Client, opts ...Option) *Service {
	s := &Service{
		records:            records,
		claims:             claims,
		files:              fileStore,
		authority:          client,
		tx:                 tx.NoopTransactor{},
		logger:             slog.New(slog.DiscardHandler),
		claimTTL:           defaultClaimTTL,
		syncTimeout:        defaultSyncTimeout,
		refreshConcurrency: defaultRefreshConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new draft application owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in models.ApplicationInput) (*models.CertificationRecord, error) {
	now := requestcontext.Now(ctx)
	if ownerID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner id is required")
	}
	if !in.Category.IsValid() {
		var fields dErrors.FieldErrors
		fields.Add(string(models.FieldApplicantCategory), "must be NATURAL_PERSON or LEGAL_REPRESENTATIVE")
		return nil, dErrors.NewValidation("invalid certification", fields)
	}
	if err := checkSlots(in.Files); err != nil {
		return nil, err
	}

	rec, err := models.NewRecord(uuid.New(), ownerID, in.Category, now)
	if err != nil {
		return nil, err
	}
	in.ApplyTo(rec)
	if fields := rules.Validate(rec, now); len(fields) > 0 {
		return nil, dErrors.NewValidation("invalid certification", fields)
	}

	prefix := rec.Category.NumberPrefix()
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		seq, err := s.records.NextSequence(ctx, prefix)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate certification number")
		}
		rec.CertificationNumber = models.FormatCertificationNumber(prefix, seq)
		return s.records.Create(ctx, rec)
	})
	if err != nil {
		return nil, s.translateStoreErr(err, "create")
	}
	s.logger.InfoContext(ctx, "certification created",
		"record_id", rec.ID,
		"certification_number", rec.CertificationNumber,
		"category", rec.Category,
	)
	return rec, nil
}

// Update replaces the applicant-editable fields of a record. Records that are
// not editable are rejected before any write is attempted.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in models.ApplicationInput) (*models.CertificationRecord, error) {
	now := requestcontext.Now(ctx)
	persisted, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !persisted.IsEditable() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"certification in status "+persisted.ValidationStatus.String()+" cannot be edited")
	}
	if in.Category != persisted.Category {
		var fields dErrors.FieldErrors
		fields.Add(string(models.FieldApplicantCategory), "cannot change after creation")
		return nil, dErrors.NewValidation("invalid certification", fields)
	}
	if err := checkSlots(in.Files); err != nil {
		return nil, err
	}

	candidate := persisted.Clone()
	displaced := in.ApplyTo(candidate)
	if fields := rules.Validate(candidate, now); len(fields) > 0 {
		return nil, dErrors.NewValidation("invalid certification", fields)
	}
	lifecycle.ReopenForEdit(candidate, now)

	err = s.withClaim(ctx, id, func() error {
		return s.records.Update(ctx, candidate, persisted.Version)
	})
	if err != nil {
		return nil, s.translateStoreErr(err, "update")
	}
	s.releaseFiles(ctx, displaced)
	s.logger.InfoContext(ctx, "certification updated",
		"record_id", candidate.ID,
		"version", candidate.Version,
	)
	return candidate, nil
}

// Delete removes a REGISTERED record and its evidence.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !rec.IsDeletable() {
		return dErrors.New(dErrors.CodeInvalidState,
			"certification in status "+rec.ValidationStatus.String()+" cannot be deleted")
	}
	err = s.withClaim(ctx, id, func() error {
		return s.records.Delete(ctx, id, rec.Version)
	})
	if err != nil {
		return s.translateStoreErr(err, "delete")
	}
	refs := make([]models.FileRef, 0, len(rec.Files))
	for _, ref := range rec.Files {
		refs = append(refs, ref)
	}
	s.releaseFiles(ctx, refs)
	s.logger.InfoContext(ctx, "certification deleted", "record_id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.CertificationRecord, error) {
	return s.load(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*models.CertificationRecord, error) {
	rec, err := s.records.FindByNumber(ctx, number)
	if err != nil {
		return nil, s.translateStoreErr(err, "find")
	}
	return rec, nil
}

// ComputeRequirements runs the rule engine on an explicit input.
func (s *Service) ComputeRequirements(in rules.Input) models.RequirementSet {
	return rules.ComputeRequirements(in)
}

// RequirementsFor computes the requirement set of a stored record. In UPDATE
// mode uploads marks the slots receiving a new file in the pending edit.
func (s *Service) RequirementsFor(ctx context.Context, id uuid.UUID, mode models.Mode, uploads map[models.FileSlot]bool) (models.RequirementSet, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if mode == models.ModeUpdate {
		return rules.ComputeRequirements(rules.InputForUpdate(rec, rec.Files, uploads, now)), nil
	}
	return rules.ComputeRequirements(rules.InputFor(rec, now)), nil
}

// Evaluate scores a stored record.
func (s *Service) Evaluate(ctx context.Context, id uuid.UUID) (models.Eligibility, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return models.Eligibility{}, err
	}
	_, elig := evaluate(rec, requestcontext.Now(ctx))
	return elig, nil
}

func (s *Service) IsEditable(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.IsEditable(), nil
}

func (s *Service) IsDeletable(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.IsDeletable(), nil
}

func (s *Service) CompletionPercentage(ctx context.Context, id uuid.UUID) (int, error) {
	elig, err := s.Evaluate(ctx, id)
	if err != nil {
		return 0, err
	}
	return elig.CompletionPercent, nil
}

func evaluate(rec *models.CertificationRecord, now time.Time) (models.RequirementSet, models.Eligibility) {
	return rules.EvaluateRecord(rec, rules.InputFor(rec, now))
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.CertificationRecord, error) {
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "find")
	}
	return rec, nil
}

// withClaim runs write while holding the record's submission claim, so local
// edits never interleave with an in-flight submission.
func (s *Service) withClaim(ctx context.Context, id uuid.UUID, write func() error) error {
	token, err := s.claims.Acquire(ctx, id.String(), s.claimTTL)
	if err != nil {
		return err
	}
	defer s.releaseClaim(ctx, id, token)
	return write()
}

func (s *Service) releaseClaim(ctx context.Context, id uuid.UUID, token claim.Token) {
	if err := s.claims.Release(context.WithoutCancel(ctx), id.String(), token); err != nil {
		s.logger.WarnContext(ctx, "failed to release submission claim",
			"record_id", id,
			"error", err,
		)
	}
}

func (s *Service) releaseFiles(ctx context.Context, refs []models.FileRef) {
	for _, ref := range refs {
		if ref.IsEmpty() {
			continue
		}
		if err := s.files.Delete(context.WithoutCancel(ctx), string(ref)); err != nil {
			s.logger.WarnContext(ctx, "failed to release evidence file",
				"file_ref", ref,
				"error", err,
			)
		}
	}
}

func checkSlots(f models.Files) error {
	var fields dErrors.FieldErrors
	for slot := range f {
		if !slot.IsValid() {
			fields.Add(string(slot), "unknown file slot")
		}
	}
	if len(fields) > 0 {
		return dErrors.NewValidation("invalid certification", fields)
	}
	return nil
}
