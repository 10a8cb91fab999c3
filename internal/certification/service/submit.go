package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/events"
	"certflow/internal/certification/lifecycle"
	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	dErrors "certflow/pkg/domain-errors"
	"certflow/pkg/requestcontext"
)

// SubmitResult reports what a submit did. Warning is set when the call was a
// no-op on a record already submitted.
type SubmitResult struct {
	Record  *models.CertificationRecord
	Outcome lifecycle.Outcome
	Warning string
}

// Submit sends a complete draft to the validation authority.
//
// The record is moved to VALIDATING only after the authority accepts the
// submission. Validation failures, guard failures and authority failures leave
// the stored record untouched. A record already in flight is a no-op.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*SubmitResult, error) {
	now := requestcontext.Now(ctx)
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ValidationStatus.IsInFlight() {
		s.metrics.IncrementSubmission("noop")
		s.logger.WarnContext(ctx, "submit ignored for certification already in flight",
			"record_id", rec.ID,
			"validation_status", rec.ValidationStatus,
		)
		return &SubmitResult{
			Record:  rec,
			Outcome: lifecycle.OutcomeNoop,
			Warning: "certification already submitted",
		}, nil
	}

	set, elig := evaluate(rec, now)
	if fields := rules.ValidateForSubmission(rec, set, now); len(fields) > 0 {
		s.metrics.IncrementSubmission("invalid")
		return nil, dErrors.NewValidation("certification is not ready for submission", fields)
	}
	candidate := rec.Clone()
	if _, err := lifecycle.BeginValidation(candidate, elig, now); err != nil {
		s.metrics.IncrementSubmission("blocked")
		return nil, err
	}

	token, err := s.claims.Acquire(ctx, id.String(), s.claimTTL)
	if err != nil {
		s.metrics.IncrementSubmission("claimed")
		return nil, s.translateStoreErr(err, "submit")
	}
	defer s.releaseClaim(ctx, id, token)

	// Another submit may have committed between the load and the claim.
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ValidationStatus.IsInFlight() {
		s.metrics.IncrementSubmission("noop")
		return &SubmitResult{
			Record:  current,
			Outcome: lifecycle.OutcomeNoop,
			Warning: "certification already submitted",
		}, nil
	}
	if current.Version != rec.Version {
		s.metrics.IncrementRaceLoss("submit")
		s.metrics.IncrementSubmission("claimed")
		return nil, dErrors.New(dErrors.CodeConflict, "certification was changed by another request; reload and retry")
	}

	req, err := s.buildSubmitRequest(ctx, rec)
	if err != nil {
		s.metrics.IncrementSubmission("failed")
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	ack, err := s.authority.Submit(callCtx, req)
	if err != nil {
		s.metrics.IncrementSubmission("failed")
		s.logger.ErrorContext(ctx, "authority rejected submission",
			"record_id", rec.ID,
			"certification_number", rec.CertificationNumber,
			"category", authority.CategoryOf(err),
			"error", err,
		)
		return nil, translateAuthorityErr(err)
	}

	resp := ack.AsExternal()
	if resp.Status == "" {
		resp.Status = models.ValidationValidating
	}
	if _, err := lifecycle.ApplyExternalResponse(candidate, resp, now); err != nil {
		// The submission itself was accepted; keep VALIDATING and the
		// recorded acknowledgement.
		s.logger.WarnContext(ctx, "submission acknowledgement carried an unusable status",
			"record_id", rec.ID,
			"ack_status", resp.Status,
			"error", err,
		)
	}

	// The authority holds the filing now; a caller that went away must not
	// leave the record REGISTERED and invite a duplicate filing.
	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancelCommit()
	if err := s.records.Update(commitCtx, candidate, rec.Version); err != nil {
		s.metrics.IncrementSubmission("failed")
		s.logger.ErrorContext(ctx, "failed to commit accepted submission",
			"record_id", rec.ID,
			"certification_number", rec.CertificationNumber,
			"error", err,
		)
		return nil, s.translateStoreErr(err, "submit")
	}

	s.metrics.IncrementSubmission("accepted")
	s.recordTransitions(ctx, models.OperationSubmit, rec, candidate)
	s.logger.InfoContext(ctx, "certification submitted",
		"record_id", candidate.ID,
		"certification_number", candidate.CertificationNumber,
		"validation_status", candidate.ValidationStatus,
	)
	return &SubmitResult{Record: candidate, Outcome: lifecycle.OutcomeTransitioned}, nil
}

func (s *Service) buildSubmitRequest(ctx context.Context, rec *models.CertificationRecord) (authority.SubmitRequest, error) {
	req := authority.SubmitRequest{Applicant: authority.ApplicantFromRecord(rec)}
	for _, slot := range models.FileSlots {
		ref, ok := rec.Files[slot]
		if !ok || ref.IsEmpty() {
			continue
		}
		obj, err := s.files.Get(ctx, string(ref))
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to load evidence file",
				"record_id", rec.ID,
				"slot", slot,
				"file_ref", ref,
				"error", err,
			)
			return authority.SubmitRequest{}, dErrors.Wrap(err, dErrors.CodeUnavailable,
				"evidence file "+slot.String()+" could not be loaded")
		}
		req.Files = append(req.Files, authority.File{
			Slot:        slot,
			Name:        obj.Name,
			ContentType: obj.ContentType,
			Content:     obj.Content,
		})
	}
	return req, nil
}

// recordTransitions emits metrics and events for every status edge between
// before and after. One write can cover several edges: a submit whose
// acknowledgement already carries a verdict, or a poll that finds the
// authority several steps ahead.
func (s *Service) recordTransitions(ctx context.Context, operation string, before, after *models.CertificationRecord) {
	if before.ValidationStatus == after.ValidationStatus {
		return
	}
	path := []models.ValidationStatus{before.ValidationStatus}
	from := before.ValidationStatus
	if operation == models.OperationSubmit && from != models.ValidationValidating {
		path = append(path, models.ValidationValidating)
		from = models.ValidationValidating
	}
	if from != after.ValidationStatus {
		steps := lifecycle.Path(from, after.ValidationStatus)
		if steps == nil {
			steps = []models.ValidationStatus{after.ValidationStatus}
		}
		path = append(path, steps...)
	}
	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		s.metrics.IncrementTransition(from.String(), to.String())
		s.publish(ctx, events.Transition{
			RecordID:            after.ID.String(),
			CertificationNumber: after.CertificationNumber,
			OwnerID:             after.OwnerID,
			Operation:           operation,
			From:                from.String(),
			To:                  to.String(),
			InternalStatus:      lifecycle.Project(to).String(),
			RejectionReason:     after.RejectionReason,
			OccurredAt:          after.UpdatedAt,
		})
	}
}

func (s *Service) publish(ctx context.Context, t events.Transition) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, t); err != nil {
		s.logger.WarnContext(ctx, "failed to publish certification transition",
			"record_id", t.RecordID,
			"from", t.From,
			"to", t.To,
			"error", err,
		)
	}
}
