//go:build integration

package record_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	"certflow/internal/certification/store/record"
	"certflow/pkg/platform/sentinel"
	"certflow/pkg/platform/tx"
	"certflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *record.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = record.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "certifications", "certification_sequences")
	s.Require().NoError(err)
}

func newRecord(number string) *models.CertificationRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	r, _ := models.NewRecord(uuid.New(), "owner-"+number, models.CategoryLegalRepresentative, now)
	r.CertificationNumber = number
	expires := now.AddDate(1, 0, 0)
	r.Applicant = models.Applicant{
		IdentificationNumber: "0912345678",
		FirstName:            "Marta",
		LastName:             "Vera",
		BirthDate:            time.Date(1979, time.August, 3, 0, 0, 0, 0, time.UTC),
		Email:                "marta@example.com",
	}
	r.Company = models.Company{
		TaxID:                 "0990012345001",
		LegalName:             "Vera Exportaciones S.A.",
		Position:              "Gerente General",
		AppointmentExpiration: &expires,
	}
	r.Files = models.Files{models.SlotIDFront: "certifications/o/id_front/a.jpg"}
	return r
}

// TestRoundTrip verifies every column survives encode and scan.
func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	r := newRecord("CRL-000001")
	s.Require().NoError(s.store.Create(ctx, r))

	submitted := r.CreatedAt.Add(time.Minute)
	r.ValidationStatus = models.ValidationValidating
	r.InternalStatus = models.InternalInReview
	r.SubmittedAt = &submitted
	r.AppendSync(models.SyncEntry{
		Operation:  models.OperationSubmit,
		Status:     models.ValidationValidating,
		ReceivedAt: submitted,
		Raw:        json.RawMessage(`{"success":true}`),
	})
	s.Require().NoError(s.store.Update(ctx, r, 1))

	got, err := s.store.FindByNumber(ctx, "CRL-000001")
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal(int64(2), got.Version)
	s.Equal(r.Company.LegalName, got.Company.LegalName)
	s.True(r.Company.AppointmentExpiration.Equal(*got.Company.AppointmentExpiration))
	s.Equal(r.Files, got.Files)
	s.Require().Len(got.SyncMetadata, 1)
	s.JSONEq(`{"success":true}`, string(got.SyncMetadata[0].Raw))
	s.True(submitted.Equal(*got.SubmittedAt))
	s.Nil(got.ProcessedAt)

	now := submitted.Add(time.Hour)
	_, before := rules.EvaluateRecord(r, rules.InputFor(r, now))
	_, after := rules.EvaluateRecord(got, rules.InputFor(got, now))
	s.Equal(before, after)
}

// TestConcurrentUpdates verifies exactly one writer wins a version.
func (s *PostgresStoreSuite) TestConcurrentUpdates() {
	ctx := context.Background()
	r := newRecord("CRL-000002")
	s.Require().NoError(s.store.Create(ctx, r))

	const writers = 20
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := r.Clone()
			c.RejectionReason = uuid.NewString()
			err := s.store.Update(ctx, c, 1)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestDeleteGuards() {
	ctx := context.Background()
	r := newRecord("CRL-000003")
	s.Require().NoError(s.store.Create(ctx, r))

	s.ErrorIs(s.store.Delete(ctx, r.ID, 5), sentinel.ErrConflict)

	r.ValidationStatus = models.ValidationValidating
	s.Require().NoError(s.store.Update(ctx, r, 1))
	s.ErrorIs(s.store.Delete(ctx, r.ID, 2), sentinel.ErrInvalidState)

	draft := newRecord("CRL-000004")
	s.Require().NoError(s.store.Create(ctx, draft))
	s.Require().NoError(s.store.Delete(ctx, draft.ID, 1))
	_, err := s.store.FindByID(ctx, draft.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, draft.ID, 1), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateNumber() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newRecord("CRL-000005")))
	s.ErrorIs(s.store.Create(ctx, newRecord("CRL-000005")), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListByValidationStatus() {
	ctx := context.Background()
	base := time.Now().UTC()
	for i, st := range []models.ValidationStatus{models.ValidationApproved, models.ValidationRegistered, models.ValidationValidating} {
		r := newRecord("CRL-00010" + string(rune('0'+i)))
		submitted := base.Add(time.Duration(-i) * time.Hour)
		r.ValidationStatus = st
		r.SubmittedAt = &submitted
		s.Require().NoError(s.store.Create(ctx, r))
	}

	got, err := s.store.ListByValidationStatus(ctx,
		[]models.ValidationStatus{models.ValidationValidating, models.ValidationApproved}, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("CRL-000102", got[0].CertificationNumber)
	s.Equal("CRL-000100", got[1].CertificationNumber)
}

// TestSequenceInsideTransaction verifies sequences and inserts share an
// ambient transaction and roll back together.
func (s *PostgresStoreSuite) TestSequenceInsideTransaction() {
	ctx := context.Background()
	errBoom := errors.New("boom")
	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		seq, err := s.store.NextSequence(ctx, "CPN")
		s.Require().NoError(err)
		s.Equal(int64(1), seq)
		s.Require().NoError(s.store.Create(ctx, newRecord("CPN-000001")))
		return errBoom
	})
	s.ErrorIs(err, errBoom)

	_, err = s.store.FindByNumber(ctx, "CPN-000001")
	s.ErrorIs(err, sentinel.ErrNotFound)
	seq, err := s.store.NextSequence(ctx, "CPN")
	s.Require().NoError(err)
	s.Equal(int64(1), seq)
}
