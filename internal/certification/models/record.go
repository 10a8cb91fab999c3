package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	dErrors "certflow/pkg/domain-errors"
)

// ApplicantCategory is the primary branch of the requirement rules.
type ApplicantCategory string

const (
	CategoryNaturalPerson       ApplicantCategory = "NATURAL_PERSON"
	CategoryLegalRepresentative ApplicantCategory = "LEGAL_REPRESENTATIVE"
)

// ParseApplicantCategory constructs a category from external input.
func ParseApplicantCategory(s string) (ApplicantCategory, error) {
	c := ApplicantCategory(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported applicant category: "+s)
	}
	return c, nil
}

func (c ApplicantCategory) IsValid() bool {
	return c == CategoryNaturalPerson || c == CategoryLegalRepresentative
}

// NumberPrefix returns the certification number prefix for the category.
func (c ApplicantCategory) NumberPrefix() string {
	if c == CategoryLegalRepresentative {
		return "CRL"
	}
	return "CPN"
}

// FormatCertificationNumber renders <PREFIX>-<sequence>.
func FormatCertificationNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// SyncEntry is one raw authority response kept for audit and display.
type SyncEntry struct {
	Operation  string           `json:"operation"`
	Status     ValidationStatus `json:"status,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
	Raw        json.RawMessage  `json:"raw,omitempty"`
}

// MaxSyncEntries bounds SyncMetadata; the newest entries are kept.
const MaxSyncEntries = 20

// Applicant holds the personal data of the requester.
type Applicant struct {
	IdentificationNumber string    `json:"identification_number"`
	FirstName            string    `json:"first_name"`
	LastName             string    `json:"last_name"`
	SecondLastName       string    `json:"second_last_name,omitempty"`
	BirthDate            time.Time `json:"birth_date"`
	FingerCode           string    `json:"finger_code"`
	Email                string    `json:"email"`
	Phone                string    `json:"phone"`
	Address              string    `json:"address"`
	City                 string    `json:"city"`
	Province             string    `json:"province"`
}

// Company holds the category-dependent company data.
type Company struct {
	TaxID                 string     `json:"company_tax_id,omitempty"`
	LegalName             string     `json:"company_legal_name,omitempty"`
	Position              string     `json:"position_in_company,omitempty"`
	AppointmentExpiration *time.Time `json:"appointment_expiration,omitempty"`
}

// CertificationRecord is the aggregate root of one certificate application.
//
// Invariants:
//   - ValidationStatus is authoritative; InternalStatus is its projection
//     (see lifecycle.Project) after every status change
//   - editable only while ValidationStatus is REGISTERED, REFUSED or ERROR
//   - deletable only while REGISTERED
//   - Version increases by one on every persisted write
//   - SyncMetadata only grows at the tail; old entries fall off past MaxSyncEntries
type CertificationRecord struct {
	ID                  uuid.UUID         `json:"id"`
	CertificationNumber string            `json:"certification_number"`
	OwnerID             string            `json:"owner_id"`
	Category            ApplicantCategory `json:"applicant_category"`
	Applicant           Applicant         `json:"applicant"`
	Company             Company           `json:"company"`
	Period              string            `json:"period"`
	Files               Files             `json:"files"`
	TermsAccepted       bool              `json:"terms_accepted"`

	InternalStatus   InternalStatus   `json:"internal_status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	SyncMetadata     []SyncEntry      `json:"sync_metadata,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds a fresh REGISTERED/draft record.
func NewRecord(id uuid.UUID, ownerID string, category ApplicantCategory, now time.Time) (*CertificationRecord, error) {
	if id == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record id cannot be nil")
	}
	if !category.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported applicant category")
	}
	return &CertificationRecord{
		ID:               id,
		OwnerID:          ownerID,
		Category:         category,
		Files:            Files{},
		InternalStatus:   InternalDraft,
		ValidationStatus: ValidationRegistered,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Age returns completed years between the birth date and at. A zero birth
// date yields 0.
func (r *CertificationRecord) Age(at time.Time) int {
	return AgeAt(r.Applicant.BirthDate, at)
}

// AgeAt computes completed years; the birthday itself counts as completed.
func AgeAt(birth, at time.Time) int {
	if birth.IsZero() || at.Before(birth) {
		return 0
	}
	years := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		years--
	}
	return years
}

func (r *CertificationRecord) IsEditable() bool {
	return r.ValidationStatus.IsEditable()
}

func (r *CertificationRecord) IsDeletable() bool {
	return r.ValidationStatus.IsDeletable()
}

// TextValue returns the string form of a text field, empty when unset.
func (r *CertificationRecord) TextValue(field Field) string {
	switch field {
	case FieldIdentificationNumber:
		return r.Applicant.IdentificationNumber
	case FieldFirstName:
		return r.Applicant.FirstName
	case FieldLastName:
		return r.Applicant.LastName
	case FieldFingerCode:
		return r.Applicant.FingerCode
	case FieldEmail:
		return r.Applicant.Email
	case FieldPhone:
		return r.Applicant.Phone
	case FieldCity:
		return r.Applicant.City
	case FieldProvince:
		return r.Applicant.Province
	case FieldAddress:
		return r.Applicant.Address
	case FieldApplicantCategory:
		return string(r.Category)
	case FieldPeriod:
		return r.Period
	case FieldTermsAccepted:
		if r.TermsAccepted {
			return strconv.FormatBool(true)
		}
		return ""
	case FieldBirthDate:
		if r.Applicant.BirthDate.IsZero() {
			return ""
		}
		return r.Applicant.BirthDate.Format(time.DateOnly)
	case FieldCompanyTaxID:
		return r.Company.TaxID
	case FieldCompanyLegalName:
		return r.Company.LegalName
	case FieldPositionInCompany:
		return r.Company.Position
	case FieldAppointmentExpiration:
		if r.Company.AppointmentExpiration == nil {
			return ""
		}
		return r.Company.AppointmentExpiration.Format(time.DateOnly)
	}
	return ""
}

// IsFilled reports whether a requirement target holds a non-empty value.
func (r *CertificationRecord) IsFilled(req Requirement) bool {
	if req.Kind == KindFile {
		return r.Files.Has(FileSlot(req.Field))
	}
	return r.TextValue(req.Field) != ""
}

// AppendSync records a raw authority response, keeping the newest entries.
func (r *CertificationRecord) AppendSync(entry SyncEntry) {
	r.SyncMetadata = append(r.SyncMetadata, entry)
	if n := len(r.SyncMetadata); n > MaxSyncEntries {
		r.SyncMetadata = append([]SyncEntry(nil), r.SyncMetadata[n-MaxSyncEntries:]...)
	}
}

// LastSync returns the most recent authority response, if any.
func (r *CertificationRecord) LastSync() (SyncEntry, bool) {
	if len(r.SyncMetadata) == 0 {
		return SyncEntry{}, false
	}
	return r.SyncMetadata[len(r.SyncMetadata)-1], true
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *CertificationRecord) Clone() *CertificationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Files = r.Files.Clone()
	if r.Company.AppointmentExpiration != nil {
		t := *r.Company.AppointmentExpiration
		c.Company.AppointmentExpiration = &t
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	if r.SyncMetadata != nil {
		c.SyncMetadata = make([]SyncEntry, len(r.SyncMetadata))
		for i, e := range r.SyncMetadata {
			e.Raw = append(json.RawMessage(nil), e.Raw...)
			c.SyncMetadata[i] = e
		}
	}
	return &c
}
