package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/lifecycle"
	"certflow/internal/certification/models"
	dErrors "certflow/pkg/domain-errors"
	"certflow/pkg/requestcontext"
)

// SyncResult reports the effect of folding one authority response into a
// record.
type SyncResult struct {
	Record   *models.CertificationRecord
	Previous models.ValidationStatus
	Outcome  lifecycle.Outcome
}

// Changed reports whether the validation status moved.
func (r *SyncResult) Changed() bool {
	return r.Outcome == lifecycle.OutcomeTransitioned
}

// CheckStatus pulls the authority's current status for a submitted record and
// applies it. Concurrent refreshes of the same record share one authority
// call. Authority failures leave the record untouched.
//
// A caller whose context ends first gets CodeTimeout; the shared call keeps
// running and still applies the answer it gets.
func (s *Service) CheckStatus(ctx context.Context, id uuid.UUID) (*SyncResult, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ValidationStatus == models.ValidationRegistered || rec.SubmittedAt == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "certification has not been submitted yet")
	}

	ch := s.statusCalls.DoChan(id.String(), func() (any, error) {
		return s.fetchAndApply(context.WithoutCancel(ctx), rec)
	})
	select {
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "status refresh abandoned by caller",
			"record_id", id,
			"error", ctx.Err(),
		)
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "status check did not finish in time")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.DebugContext(ctx, "status refresh shared with concurrent caller", "record_id", id)
		}
		return res.Val.(*SyncResult), nil
	}
}

func (s *Service) fetchAndApply(ctx context.Context, rec *models.CertificationRecord) (*SyncResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	resp, err := s.authority.Status(callCtx, rec.CertificationNumber)
	if err != nil {
		s.logger.WarnContext(ctx, "authority status check failed",
			"record_id", rec.ID,
			"certification_number", rec.CertificationNumber,
			"category", authority.CategoryOf(err),
			"error", err,
		)
		return nil, translateAuthorityErr(err)
	}
	return s.ApplyExternalResponse(ctx, rec.ID, resp.AsExternal())
}

// ApplyExternalResponse folds an authority response into the stored record.
//
// Every response is appended to the record's sync metadata, even when the
// status does not move. Unrecognized statuses and unreachable ones are
// rejected with CodeInvalidState; the status stays put but the response is
// still stored. A concurrent writer makes the call fail with CodeConflict.
func (s *Service) ApplyExternalResponse(ctx context.Context, id uuid.UUID, resp models.ExternalResponse) (*SyncResult, error) {
	now := requestcontext.Now(ctx)
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if resp.Operation == "" {
		resp.Operation = models.OperationStatus
	}

	candidate := rec.Clone()
	outcome, err := lifecycle.ApplyExternalResponse(candidate, resp, now)
	if err != nil {
		s.logger.WarnContext(ctx, "authority response rejected",
			"record_id", rec.ID,
			"validation_status", rec.ValidationStatus,
			"response_status", resp.Status,
			"error", err,
		)
		if uerr := s.records.Update(ctx, candidate, rec.Version); uerr != nil {
			s.logger.WarnContext(ctx, "failed to store rejected authority response",
				"record_id", rec.ID,
				"error", uerr,
			)
		}
		return nil, err
	}

	if err := s.records.Update(ctx, candidate, rec.Version); err != nil {
		return nil, s.translateStoreErr(err, "sync")
	}

	s.recordTransitions(ctx, resp.Operation, rec, candidate)
	s.logger.InfoContext(ctx, "authority response applied",
		"record_id", candidate.ID,
		"from", rec.ValidationStatus,
		"to", candidate.ValidationStatus,
		"outcome", outcome,
	)
	return &SyncResult{
		Record:   candidate,
		Previous: rec.ValidationStatus,
		Outcome:  outcome,
	}, nil
}

// RefreshReport summarizes a RefreshInFlight sweep.
type RefreshReport struct {
	Checked      int `json:"checked"`
	Transitioned int `json:"transitioned"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
}

var inFlightStatuses = []models.ValidationStatus{
	models.ValidationValidating,
	models.ValidationApproved,
	models.ValidationGenerated,
}

// RefreshInFlight checks the authority status of up to limit in-flight
// records, oldest submission first. Per-record failures are counted and
// logged; the sweep only fails if the records cannot be listed.
func (s *Service) RefreshInFlight(ctx context.Context, limit int) (RefreshReport, error) {
	recs, err := s.records.ListByValidationStatus(ctx, inFlightStatuses, limit)
	if err != nil {
		return RefreshReport{}, s.translateStoreErr(err, "list")
	}

	var (
		mu     sync.Mutex
		report RefreshReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.refreshConcurrency)
	for _, rec := range recs {
		g.Go(func() error {
			res, err := s.CheckStatus(gctx, rec.ID)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				report.Failed++
				s.logger.WarnContext(gctx, "status refresh failed",
					"record_id", rec.ID,
					"certification_number", rec.CertificationNumber,
					"error", err,
				)
			case res.Changed():
				report.Transitioned++
			default:
				report.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "in-flight refresh finished",
		"checked", report.Checked,
		"transitioned", report.Transitioned,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
	)
	return report, nil
}
