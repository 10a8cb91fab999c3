package models

import (
	"encoding/json"
	"time"
)

// Authority operations recorded in SyncMetadata.
const (
	OperationSubmit = "submit"
	OperationStatus = "status"
)

// ExternalResponse is the authority's answer folded into the state machine.
// Raw is kept verbatim; Messages carry the authority's reasons on REFUSED or
// ERROR.
type ExternalResponse struct {
	Operation  string           `json:"operation"`
	Status     ValidationStatus `json:"validation_status"`
	Messages   []string         `json:"messages,omitempty"`
	Raw        json.RawMessage  `json:"raw,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// ApplicationInput is the applicant-editable part of a record as posted by a
// form. File slots carry references already stored through the storage
// collaborator; a slot absent from Files keeps its persisted reference.
type ApplicationInput struct {
	Category              ApplicantCategory `json:"applicant_category"`
	IdentificationNumber  string            `json:"identification_number"`
	FirstName             string            `json:"first_name"`
	LastName              string            `json:"last_name"`
	SecondLastName        string            `json:"second_last_name,omitempty"`
	BirthDate             time.Time         `json:"birth_date"`
	FingerCode            string            `json:"finger_code"`
	Email                 string            `json:"email"`
	Phone                 string            `json:"phone"`
	Address               string            `json:"address"`
	City                  string            `json:"city"`
	Province              string            `json:"province"`
	Period                string            `json:"period"`
	TermsAccepted         bool              `json:"terms_accepted"`
	CompanyTaxID          string            `json:"company_tax_id,omitempty"`
	CompanyLegalName      string            `json:"company_legal_name,omitempty"`
	PositionInCompany     string            `json:"position_in_company,omitempty"`
	AppointmentExpiration *time.Time        `json:"appointment_expiration,omitempty"`
	Files                 Files             `json:"files,omitempty"`
}

// Uploads reports which slots carry a new reference in this input.
func (in ApplicationInput) Uploads() map[FileSlot]bool {
	return in.Files.Presence()
}

// ApplyTo copies the editable fields onto r and merges new file references.
// It returns the references displaced by new uploads so callers can release
// them after the write commits.
func (in ApplicationInput) ApplyTo(r *CertificationRecord) []FileRef {
	r.Category = in.Category
	r.Applicant = Applicant{
		IdentificationNumber: in.IdentificationNumber,
		FirstName:            in.FirstName,
		LastName:             in.LastName,
		SecondLastName:       in.SecondLastName,
		BirthDate:            in.BirthDate,
		FingerCode:           in.FingerCode,
		Email:                in.Email,
		Phone:                in.Phone,
		Address:              in.Address,
		City:                 in.City,
		Province:             in.Province,
	}
	r.Company = Company{TaxID: in.CompanyTaxID}
	if in.Category == CategoryLegalRepresentative {
		r.Company.LegalName = in.CompanyLegalName
		r.Company.Position = in.PositionInCompany
		r.Company.AppointmentExpiration = in.AppointmentExpiration
	}
	r.Period = in.Period
	r.TermsAccepted = in.TermsAccepted

	if r.Files == nil {
		r.Files = Files{}
	}
	var displaced []FileRef
	for slot, ref := range in.Files {
		if ref.IsEmpty() {
			continue
		}
		if old := r.Files[slot]; !old.IsEmpty() && old != ref {
			displaced = append(displaced, old)
		}
		r.Files[slot] = ref
	}
	return displaced
}
