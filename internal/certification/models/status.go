package models

// ValidationStatus is the authority's view of a certification. It is the
// authoritative status; InternalStatus is always derived from it.
type ValidationStatus string

const (
	ValidationRegistered ValidationStatus = "REGISTERED"
	ValidationValidating ValidationStatus = "VALIDATING"
	ValidationRefused    ValidationStatus = "REFUSED"
	ValidationError      ValidationStatus = "ERROR"
	ValidationApproved   ValidationStatus = "APPROVED"
	ValidationGenerated  ValidationStatus = "GENERATED"
	ValidationExpired    ValidationStatus = "EXPIRED"
)

var validationStatuses = map[ValidationStatus]bool{
	ValidationRegistered: true,
	ValidationValidating: true,
	ValidationRefused:    true,
	ValidationError:      true,
	ValidationApproved:   true,
	ValidationGenerated:  true,
	ValidationExpired:    true,
}

// IsValid reports whether s is a recognized authority status.
func (s ValidationStatus) IsValid() bool {
	return validationStatuses[s]
}

// IsEditable reports whether the applicant may still change the record.
func (s ValidationStatus) IsEditable() bool {
	return s == ValidationRegistered || s == ValidationRefused || s == ValidationError
}

// IsDeletable reports whether the record may be removed.
func (s ValidationStatus) IsDeletable() bool {
	return s == ValidationRegistered
}

// IsInFlight reports whether the authority still owes the record an update.
func (s ValidationStatus) IsInFlight() bool {
	return s == ValidationValidating || s == ValidationApproved || s == ValidationGenerated
}

// IsFailure reports whether the status carries a rejection reason.
func (s ValidationStatus) IsFailure() bool {
	return s == ValidationRefused || s == ValidationError
}

func (s ValidationStatus) String() string { return string(s) }

// InternalStatus is the coarse bucket shown to applicants and operators.
type InternalStatus string

const (
	InternalDraft     InternalStatus = "draft"
	InternalPending   InternalStatus = "pending"
	InternalInReview  InternalStatus = "in_review"
	InternalApproved  InternalStatus = "approved"
	InternalRejected  InternalStatus = "rejected"
	InternalCompleted InternalStatus = "completed"
)

func (s InternalStatus) String() string { return string(s) }
