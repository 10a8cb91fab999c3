package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/events"
	"certflow/internal/certification/lifecycle"
	"certflow/internal/certification/models"
	"certflow/internal/certification/store/record"
	dErrors "certflow/pkg/domain-errors"
)

func (s *ServiceSuite) TestSubmit() {
	s.Run("accepted submission moves the record to VALIDATING", func() {
		rec := s.createComplete()
		var sent authority.SubmitRequest
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req authority.SubmitRequest) (*authority.Ack, error) {
				sent = req
				return &authority.Ack{Status: models.ValidationValidating, ReceivedAt: s.now}, nil
			})

		res, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)

		s.Equal(lifecycle.OutcomeTransitioned, res.Outcome)
		after := s.stored(rec.ID)
		s.Equal(models.ValidationValidating, after.ValidationStatus)
		s.Equal(models.InternalInReview, after.InternalStatus)
		s.Require().NotNil(after.SubmittedAt)
		s.True(after.SubmittedAt.Equal(s.now))
		s.Len(after.SyncMetadata, 1)
		s.Equal(models.OperationSubmit, after.SyncMetadata[0].Operation)

		s.Equal(rec.CertificationNumber, sent.Applicant.CertificationNumber)
		s.Equal("1990-05-01", sent.Applicant.BirthDate)
		s.Require().Len(sent.Files, 3)
		s.Equal(models.SlotIDFront, sent.Files[0].Slot)
		s.Equal([]byte("evidence:id_front"), sent.Files[0].Content)
		s.InDelta(1, testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("accepted")), 0)
	})

	s.Run("publishes the committed transition", func() {
		rec := s.createComplete()
		ctrl := gomock.NewController(s.T())
		publisher := s.newPublisher(ctrl)
		publisher.EXPECT().Publish(gomock.Any(), gomock.Cond(func(t events.Transition) bool {
			return t.RecordID == rec.ID.String() &&
				t.From == string(models.ValidationRegistered) &&
				t.To == string(models.ValidationValidating) &&
				t.InternalStatus == string(models.InternalInReview)
		})).Return(nil)
		s.expectAccepted("")

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)
	})

	s.Run("publish failures do not undo the submission", func() {
		rec := s.createComplete()
		ctrl := gomock.NewController(s.T())
		publisher := s.newPublisher(ctrl)
		publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
		s.expectAccepted(models.ValidationValidating)

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.ValidationValidating, s.stored(rec.ID).ValidationStatus)
	})

	s.Run("incomplete record fails validation without calling the authority", func() {
		in := s.naturalPersonInput()
		in.Email = ""
		in.Files = nil
		rec, err := s.service.Create(s.ctx, ownerID, in)
		s.Require().NoError(err)

		_, err = s.service.Submit(s.ctx, rec.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		fields := dErrors.FieldsOf(err)
		s.True(fields.Has(string(models.FieldEmail)))
		s.True(fields.Has(string(models.SlotIDFront)))
		s.Equal(rec.Version, s.stored(rec.ID).Version)
	})

	s.Run("terms must be accepted", func() {
		in := s.naturalPersonInput()
		in.TermsAccepted = false
		rec, err := s.service.Create(s.ctx, ownerID, in)
		s.Require().NoError(err)

		_, err = s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.FieldsOf(err).Has(string(models.FieldTermsAccepted)))
	})

	s.Run("birth date is required for submission", func() {
		in := s.naturalPersonInput()
		in.BirthDate = time.Time{}
		rec, err := s.service.Create(s.ctx, ownerID, in)
		s.Require().NoError(err)

		elig, err := s.service.Evaluate(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.False(elig.CanSubmit)
		s.Equal([]models.Field{models.FieldBirthDate}, elig.Missing)

		_, err = s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.FieldsOf(err).Has(string(models.FieldBirthDate)))
	})

	s.Run("second submit is a no-op", func() {
		rec := s.submitted()

		res, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(lifecycle.OutcomeNoop, res.Outcome)
		s.NotEmpty(res.Warning)
		s.Equal(rec.Version, s.stored(rec.ID).Version)
	})

	s.Run("authority outage leaves the record untouched", func() {
		rec := s.createComplete()
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, authority.NewError(authority.ErrorOutage, authority.OperationSubmit, http.StatusServiceUnavailable, nil, nil))

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		after := s.stored(rec.ID)
		s.Equal(models.ValidationRegistered, after.ValidationStatus)
		s.Equal(models.InternalDraft, after.InternalStatus)
		s.Nil(after.SubmittedAt)
		s.Equal(rec.Version, after.Version)
	})

	s.Run("authority rejection keeps its messages", func() {
		rec := s.createComplete()
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, authority.NewError(authority.ErrorRejected, authority.OperationSubmit, http.StatusBadRequest,
				[]string{"fingerCode: does not match civil registry"}, nil))

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUpstreamRejected))
		s.Equal([]string{"fingerCode: does not match civil registry"}, authority.MessagesOf(err))
		s.Equal(models.ValidationRegistered, s.stored(rec.ID).ValidationStatus)
	})

	s.Run("authority timeout maps to a timeout", func() {
		rec := s.createComplete()
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, authority.NewError(authority.ErrorTimeout, authority.OperationSubmit, 0, nil, context.DeadlineExceeded))

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("acknowledgement carrying a verdict applies it", func() {
		rec := s.createComplete()
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&authority.Ack{
			Status:   models.ValidationRefused,
			Messages: []string{"selfie is blurred"},
		}, nil)

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)

		after := s.stored(rec.ID)
		s.Equal(models.ValidationRefused, after.ValidationStatus)
		s.Equal(models.InternalRejected, after.InternalStatus)
		s.Equal("selfie is blurred", after.RejectionReason)
		s.NotNil(after.SubmittedAt)
		s.NotNil(after.ProcessedAt)
	})

	s.Run("missing evidence bytes abort before the authority call", func() {
		rec := s.createComplete()
		s.Require().NoError(s.files.Delete(context.Background(), string(rec.Files[models.SlotSelfie])))

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Equal(models.ValidationRegistered, s.stored(rec.ID).ValidationStatus)
	})

	s.Run("concurrent submit reaches the authority once", func() {
		rec := s.createComplete()
		inFlight := make(chan struct{})
		release := make(chan struct{})
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, authority.SubmitRequest) (*authority.Ack, error) {
				close(inFlight)
				<-release
				return &authority.Ack{Status: models.ValidationValidating}, nil
			}).Times(1)

		done := make(chan error, 1)
		go func() {
			_, err := s.service.Submit(s.ctx, rec.ID)
			done <- err
		}()
		<-inFlight

		_, err := s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		close(release)
		s.Require().NoError(<-done)
		s.Equal(models.ValidationValidating, s.stored(rec.ID).ValidationStatus)
	})

	s.Run("accepted filing is committed after the caller goes away", func() {
		rec := s.createComplete()
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		svc := New(ctxAwareStore{s.records}, s.claims, s.files, s.authority, WithMetrics(s.metrics))
		s.authority.EXPECT().Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, authority.SubmitRequest) (*authority.Ack, error) {
				cancel()
				return &authority.Ack{Status: models.ValidationValidating, ReceivedAt: s.now}, nil
			})

		res, err := svc.Submit(ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.ValidationValidating, res.Record.ValidationStatus)
		s.Equal(models.ValidationValidating, s.stored(rec.ID).ValidationStatus)
	})

	s.Run("refused record must be edited before resubmission", func() {
		rec := s.submitted()
		_, err := s.service.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{
			Operation: models.OperationStatus,
			Status:    models.ValidationRefused,
			Messages:  []string{"id_back unreadable"},
		})
		s.Require().NoError(err)

		_, err = s.service.Submit(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		in := s.naturalPersonInput()
		edited, err := s.service.Update(s.ctx, rec.ID, in)
		s.Require().NoError(err)
		s.Equal(models.ValidationRefused, edited.ValidationStatus)
		s.Equal(models.InternalDraft, edited.InternalStatus)

		s.expectAccepted(models.ValidationValidating)
		res, err := s.service.Submit(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.ValidationValidating, res.Record.ValidationStatus)
		s.Empty(res.Record.RejectionReason)
		s.Nil(res.Record.ProcessedAt)
	})
}

// ctxAwareStore fails writes whose context has ended, like a network-backed
// store would.
type ctxAwareStore struct {
	*record.InMemoryStore
}

func (c ctxAwareStore) Update(ctx context.Context, rec *models.CertificationRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.InMemoryStore.Update(ctx, rec, expectedVersion)
}
