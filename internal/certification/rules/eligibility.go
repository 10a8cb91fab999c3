package rules

import (
	"certflow/internal/certification/models"
)

// Evaluate scores a record against a requirement set. It is a query: calling
// it any number of times has no effect on the record.
//
// The birth date is not a listed requirement but the age rules depend on it,
// so a record without one is reported missing it and cannot be submitted. The
// completion percentage counts listed requirements only.
func Evaluate(r *models.CertificationRecord, set models.RequirementSet) models.Eligibility {
	total, filled := 0, 0
	var missing []models.Field
	for _, req := range set {
		if !req.Required {
			continue
		}
		total++
		if r.IsFilled(req) {
			filled++
			continue
		}
		missing = append(missing, req.Field)
	}

	ageKnown := !r.Applicant.BirthDate.IsZero()
	if !ageKnown {
		missing = append(missing, models.FieldBirthDate)
	}

	pct := CompletionPercent(filled, total)
	editable := r.ValidationStatus.IsEditable()
	return models.Eligibility{
		CompletionPercent: pct,
		CanSubmit:         r.InternalStatus == models.InternalDraft && pct == 100 && r.TermsAccepted && ageKnown && editable,
		CanEdit:           editable,
		CanDelete:         r.ValidationStatus.IsDeletable(),
		Missing:           missing,
	}
}

// CompletionPercent rounds 100*filled/total half up. An empty requirement set
// is complete.
func CompletionPercent(filled, total int) int {
	if total <= 0 {
		return 100
	}
	return (200*filled + total) / (2 * total)
}

// EvaluateRecord computes requirements for the whole record and evaluates it.
func EvaluateRecord(r *models.CertificationRecord, in Input) (models.RequirementSet, models.Eligibility) {
	set := ComputeRequirements(in)
	return set, Evaluate(r, set)
}
