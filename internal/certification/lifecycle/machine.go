// Package lifecycle owns the dual status model of a certification record.
//
// ValidationStatus is authoritative and moves only along the transition table
// below. InternalStatus is re-projected from it on every transition, so the
// two never diverge except for the draft reset performed by local edits on a
// refused record (see ReopenForEdit).
//
//	REGISTERED ─┐
//	REFUSED ────┼─► VALIDATING ─► APPROVED ─► GENERATED ─► EXPIRED
//	ERROR ──────┘        │
//	                     └──────► REFUSED | ERROR
//
// The authority may move a record several steps along the forward chain
// between two polls; Path walks the skipped edges in order.
package lifecycle

import (
	"strings"
	"time"

	"certflow/internal/certification/models"
	dErrors "certflow/pkg/domain-errors"
)

// Outcome describes what an operation did to the record.
type Outcome string

const (
	// OutcomeTransitioned means ValidationStatus changed.
	OutcomeTransitioned Outcome = "transitioned"
	// OutcomeUnchanged means the response repeated the current status; only
	// metadata was recorded.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeNoop means the request was a benign duplicate (already submitted).
	OutcomeNoop Outcome = "noop"
)

var transitions = map[models.ValidationStatus]map[models.ValidationStatus]bool{
	models.ValidationRegistered: {models.ValidationValidating: true},
	models.ValidationRefused:    {models.ValidationValidating: true},
	models.ValidationError:      {models.ValidationValidating: true},
	models.ValidationValidating: {
		models.ValidationApproved: true,
		models.ValidationRefused:  true,
		models.ValidationError:    true,
	},
	models.ValidationApproved:  {models.ValidationGenerated: true},
	models.ValidationGenerated: {models.ValidationExpired: true},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.ValidationStatus) bool {
	return transitions[from][to]
}

var forwardChain = []models.ValidationStatus{
	models.ValidationValidating,
	models.ValidationApproved,
	models.ValidationGenerated,
	models.ValidationExpired,
}

// Path returns the statuses a record passes through to get from from to to,
// to included. A direct edge is a path of one. Further steps are allowed only
// forward along VALIDATING -> APPROVED -> GENERATED -> EXPIRED. Nil means to
// is unreachable.
func Path(from, to models.ValidationStatus) []models.ValidationStatus {
	if CanTransition(from, to) {
		return []models.ValidationStatus{to}
	}
	i, j := chainIndex(from), chainIndex(to)
	if i < 0 || j <= i {
		return nil
	}
	return append([]models.ValidationStatus(nil), forwardChain[i+1:j+1]...)
}

func chainIndex(s models.ValidationStatus) int {
	for i, c := range forwardChain {
		if c == s {
			return i
		}
	}
	return -1
}

var projection = map[models.ValidationStatus]models.InternalStatus{
	models.ValidationRegistered: models.InternalDraft,
	models.ValidationValidating: models.InternalInReview,
	models.ValidationApproved:   models.InternalApproved,
	models.ValidationGenerated:  models.InternalCompleted,
	models.ValidationRefused:    models.InternalRejected,
	models.ValidationError:      models.InternalRejected,
	models.ValidationExpired:    models.InternalRejected,
}

// Project maps a validation status to its internal bucket. Unknown statuses
// project to pending so a corrupt value never reads as approved.
func Project(s models.ValidationStatus) models.InternalStatus {
	if p, ok := projection[s]; ok {
		return p
	}
	return models.InternalPending
}

// IsConsistent reports whether the record's two statuses agree, allowing the
// draft reset of an edited REFUSED/ERROR record.
func IsConsistent(r *models.CertificationRecord) bool {
	if r.InternalStatus == Project(r.ValidationStatus) {
		return true
	}
	return r.ValidationStatus.IsFailure() && r.InternalStatus == models.InternalDraft
}

// BeginValidation applies the submit transition to VALIDATING.
//
// A record already VALIDATING, APPROVED or GENERATED yields OutcomeNoop with
// no change. Any other non-submittable state is a guard violation.
func BeginValidation(r *models.CertificationRecord, eligibility models.Eligibility, now time.Time) (Outcome, error) {
	if r.ValidationStatus.IsInFlight() {
		return OutcomeNoop, nil
	}
	if !CanTransition(r.ValidationStatus, models.ValidationValidating) {
		return "", dErrors.New(dErrors.CodeInvalidState,
			"certification in status "+r.ValidationStatus.String()+" cannot be submitted")
	}
	if !eligibility.CanSubmit {
		return "", dErrors.New(dErrors.CodeInvalidState, submitBlockReason(r, eligibility))
	}
	setStatus(r, models.ValidationValidating, now)
	submitted := now
	r.SubmittedAt = &submitted
	r.ProcessedAt = nil
	r.RejectionReason = ""
	return OutcomeTransitioned, nil
}

func submitBlockReason(r *models.CertificationRecord, e models.Eligibility) string {
	switch {
	case r.InternalStatus != models.InternalDraft:
		return "certification must be edited before it can be resubmitted"
	case !r.TermsAccepted:
		return "terms and conditions must be accepted"
	case e.CompletionPercent < 100 || len(e.Missing) > 0:
		return "certification is incomplete"
	}
	return "certification cannot be submitted"
}

// ApplyExternalResponse folds an authority response into the record.
//
// The response is always appended to SyncMetadata. A repeated status yields
// OutcomeUnchanged. A status several steps ahead on the forward chain is
// reached through every skipped edge. An unrecognized status or an
// unreachable one is rejected with CodeInvalidState after the metadata has
// been recorded, so callers may still persist the audit trail.
func ApplyExternalResponse(r *models.CertificationRecord, resp models.ExternalResponse, now time.Time) (Outcome, error) {
	received := resp.ReceivedAt
	if received.IsZero() {
		received = now
	}
	r.AppendSync(models.SyncEntry{
		Operation:  resp.Operation,
		Status:     resp.Status,
		ReceivedAt: received,
		Raw:        resp.Raw,
	})
	r.UpdatedAt = now

	if !resp.Status.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidState, "authority returned unrecognized status "+string(resp.Status))
	}
	if resp.Status == r.ValidationStatus {
		if resp.Status.IsFailure() && len(resp.Messages) > 0 {
			r.RejectionReason = JoinMessages(resp.Messages)
		}
		return OutcomeUnchanged, nil
	}
	path := Path(r.ValidationStatus, resp.Status)
	if path == nil {
		return "", dErrors.New(dErrors.CodeInvalidState,
			"illegal transition "+r.ValidationStatus.String()+" -> "+resp.Status.String())
	}

	for _, step := range path {
		setStatus(r, step, now)
		switch {
		case step.IsFailure():
			r.RejectionReason = JoinMessages(resp.Messages)
			processed := now
			r.ProcessedAt = &processed
		case step == models.ValidationApproved:
			processed := now
			r.ProcessedAt = &processed
			r.RejectionReason = ""
		}
	}
	return OutcomeTransitioned, nil
}

// ReopenForEdit resets a REFUSED or ERROR record to draft after a local edit so
// it can be resubmitted. Other statuses are left alone.
func ReopenForEdit(r *models.CertificationRecord, now time.Time) {
	if r.ValidationStatus.IsFailure() {
		r.InternalStatus = models.InternalDraft
	}
	r.UpdatedAt = now
}

func setStatus(r *models.CertificationRecord, s models.ValidationStatus, now time.Time) {
	r.ValidationStatus = s
	r.InternalStatus = Project(s)
	r.UpdatedAt = now
}

// JoinMessages renders the authority's message list as a rejection reason.
func JoinMessages(msgs []string) string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return "rejected by validation authority"
	}
	return strings.Join(out, "; ")
}
