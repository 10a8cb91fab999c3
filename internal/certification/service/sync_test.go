package service

import (
	"context"
	"encoding/json"
	"sync"
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

// racingStore lets another writer commit right before the service's own
// compare-and-swap.
type racingStore struct {
	*record.InMemoryStore
	once   sync.Once
	before func()
}

func (r *racingStore) Update(ctx context.Context, rec *models.CertificationRecord, expectedVersion int64) error {
	r.once.Do(func() {
		if r.before != nil {
			r.before()
		}
	})
	return r.InMemoryStore.Update(ctx, rec, expectedVersion)
}

func (s *ServiceSuite) statusResponse(status models.ValidationStatus, msgs ...string) *authority.StatusResponse {
	return &authority.StatusResponse{
		Status:     status,
		Messages:   msgs,
		Raw:        json.RawMessage(`{"validationStatus":"` + string(status) + `"}`),
		ReceivedAt: s.now,
	}
}

func (s *ServiceSuite) TestCheckStatus() {
	s.Run("records never submitted are rejected", func() {
		rec := s.createComplete()

		_, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("approval then generation", func() {
		rec := s.submitted()
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).Return(s.statusResponse(models.ValidationApproved), nil)

		res, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(res.Changed())
		s.Equal(models.ValidationValidating, res.Previous)
		s.Equal(models.InternalApproved, res.Record.InternalStatus)
		s.NotNil(res.Record.ProcessedAt)

		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).Return(s.statusResponse(models.ValidationGenerated), nil)
		res, err = s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.ValidationGenerated, res.Record.ValidationStatus)
		s.Equal(models.InternalCompleted, res.Record.InternalStatus)
		s.Len(s.stored(rec.ID).SyncMetadata, 3)
	})

	s.Run("authority several steps ahead is followed edge by edge", func() {
		rec := s.submitted()
		ctrl := gomock.NewController(s.T())
		publisher := s.newPublisher(ctrl)
		edge := func(from, to models.ValidationStatus) any {
			return gomock.Cond(func(t events.Transition) bool {
				return t.RecordID == rec.ID.String() && t.From == string(from) && t.To == string(to)
			})
		}
		gomock.InOrder(
			publisher.EXPECT().Publish(gomock.Any(), edge(models.ValidationValidating, models.ValidationApproved)).Return(nil),
			publisher.EXPECT().Publish(gomock.Any(), edge(models.ValidationApproved, models.ValidationGenerated)).Return(nil),
		)
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).Return(s.statusResponse(models.ValidationGenerated), nil)

		res, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(res.Changed())
		s.Equal(models.ValidationValidating, res.Previous)

		after := s.stored(rec.ID)
		s.Equal(models.ValidationGenerated, after.ValidationStatus)
		s.Equal(models.InternalCompleted, after.InternalStatus)
		s.NotNil(after.ProcessedAt)
		s.Len(after.SyncMetadata, 2)
		s.InDelta(1, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("VALIDATING", "APPROVED")), 0)
		s.InDelta(1, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("APPROVED", "GENERATED")), 0)

		publisher.EXPECT().Publish(gomock.Any(), edge(models.ValidationGenerated, models.ValidationExpired)).Return(nil)
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).Return(s.statusResponse(models.ValidationExpired), nil)
		res, err = s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.ValidationExpired, res.Record.ValidationStatus)
	})

	s.Run("caller deadline does not wait for the authority", func() {
		rec := s.submitted()
		release := make(chan struct{})
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).
			DoAndReturn(func(context.Context, string) (*authority.StatusResponse, error) {
				<-release
				return s.statusResponse(models.ValidationApproved), nil
			})

		ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := s.service.CheckStatus(ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		s.Less(time.Since(start), time.Second)

		// The shared call finishes on its own and still applies the answer.
		close(release)
		s.Eventually(func() bool {
			got, err := s.records.FindByID(context.Background(), rec.ID)
			return err == nil && got.ValidationStatus == models.ValidationApproved
		}, 2*time.Second, 10*time.Millisecond)
	})

	s.Run("same status records the response without a transition", func() {
		rec := s.submitted()
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).Return(s.statusResponse(models.ValidationValidating), nil)

		res, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(lifecycle.OutcomeUnchanged, res.Outcome)
		after := s.stored(rec.ID)
		s.Equal(models.ValidationValidating, after.ValidationStatus)
		s.Len(after.SyncMetadata, 2)
		last, ok := after.LastSync()
		s.True(ok)
		s.Equal(models.OperationStatus, last.Operation)
	})

	s.Run("refusal stores the authority reasons", func() {
		rec := s.submitted()
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).
			Return(s.statusResponse(models.ValidationRefused, "id_front: expired document", "selfie: face not visible"), nil)

		res, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.InternalRejected, res.Record.InternalStatus)
		s.Equal("id_front: expired document; selfie: face not visible", res.Record.RejectionReason)
		s.True(res.Record.IsEditable())
	})

	s.Run("authority failure leaves the record untouched", func() {
		rec := s.submitted()
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).
			Return(nil, authority.NewError(authority.ErrorTimeout, authority.OperationStatus, 0, nil, context.DeadlineExceeded))

		_, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		s.Equal(rec.Version, s.stored(rec.ID).Version)
	})

	s.Run("unknown certification at the authority is an upstream rejection", func() {
		rec := s.submitted()
		s.authority.EXPECT().Status(gomock.Any(), rec.CertificationNumber).
			Return(nil, authority.NewError(authority.ErrorNotFound, authority.OperationStatus, 404, nil, nil))

		_, err := s.service.CheckStatus(s.ctx, rec.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUpstreamRejected))
	})
}

func (s *ServiceSuite) TestApplyExternalResponse() {
	s.Run("unrecognized status is rejected but stored", func() {
		rec := s.submitted()

		_, err := s.service.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{Status: "PENDING_REVIEW"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		after := s.stored(rec.ID)
		s.Equal(models.ValidationValidating, after.ValidationStatus)
		s.Equal(rec.Version+1, after.Version)
		s.Require().Len(after.SyncMetadata, 2)
		s.Equal(models.ValidationStatus("PENDING_REVIEW"), after.SyncMetadata[1].Status)
	})

	s.Run("illegal edge is rejected but stored", func() {
		rec := s.submitted()

		_, err := s.service.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{Status: models.ValidationRegistered})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		after := s.stored(rec.ID)
		s.Equal(models.ValidationValidating, after.ValidationStatus)
		s.Equal(models.InternalInReview, after.InternalStatus)
		s.Len(after.SyncMetadata, 2)
	})

	s.Run("terminal records stay terminal", func() {
		rec := s.submitted()
		for _, st := range []models.ValidationStatus{models.ValidationApproved, models.ValidationGenerated, models.ValidationExpired} {
			_, err := s.service.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{Status: st})
			s.Require().NoError(err)
		}

		_, err := s.service.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{Status: models.ValidationValidating})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		after := s.stored(rec.ID)
		s.Equal(models.ValidationExpired, after.ValidationStatus)
		s.Equal(models.InternalRejected, after.InternalStatus)
	})

	s.Run("a concurrent writer wins the race", func() {
		rec := s.submitted()
		racing := &racingStore{InMemoryStore: s.records}
		racing.before = func() {
			other := s.stored(rec.ID)
			other.RejectionReason = "written elsewhere"
			s.Require().NoError(s.records.Update(context.Background(), other, other.Version))
		}
		svc := New(racing, s.claims, s.files, s.authority, WithMetrics(s.metrics))

		_, err := svc.ApplyExternalResponse(s.ctx, rec.ID, models.ExternalResponse{Status: models.ValidationApproved})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		after := s.stored(rec.ID)
		s.Equal(models.ValidationValidating, after.ValidationStatus)
		s.Equal("written elsewhere", after.RejectionReason)
	})
}

func (s *ServiceSuite) TestRefreshInFlight() {
	s.Run("checks every in-flight record and counts outcomes", func() {
		first := s.submitted()
		second := s.submitted()
		draft := s.createComplete()

		s.authority.EXPECT().Status(gomock.Any(), first.CertificationNumber).Return(s.statusResponse(models.ValidationApproved), nil)
		s.authority.EXPECT().Status(gomock.Any(), second.CertificationNumber).
			Return(nil, authority.NewError(authority.ErrorOutage, authority.OperationStatus, 503, nil, nil))

		report, err := s.service.RefreshInFlight(s.ctx, 0)
		s.Require().NoError(err)
		s.Equal(RefreshReport{Checked: 2, Transitioned: 1, Failed: 1}, report)
		s.Equal(models.ValidationApproved, s.stored(first.ID).ValidationStatus)
		s.Equal(models.ValidationValidating, s.stored(second.ID).ValidationStatus)
		s.Equal(models.ValidationRegistered, s.stored(draft.ID).ValidationStatus)
	})

	s.Run("nothing in flight", func() {
		s.createComplete()

		report, err := s.service.RefreshInFlight(s.ctx, 10)
		s.Require().NoError(err)
		s.Zero(report.Checked)
	})
}
