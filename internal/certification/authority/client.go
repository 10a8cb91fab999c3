// Package authority talks to the external validation authority.
//
// The authority is the system of record for approval and certificate
// generation. This package only moves requests and responses; folding the
// responses into a record is the lifecycle package's job.
package authority

import (
	"context"
	"encoding/json"
	"time"

	"certflow/internal/certification/models"
)

const (
	OperationSubmit = models.OperationSubmit
	OperationStatus = models.OperationStatus
)

// Client is the port the certification service depends on.
type Client interface {
	// Submit sends an application with its evidence. A nil error means the
	// authority accepted it for validation.
	Submit(ctx context.Context, req SubmitRequest) (*Ack, error)

	// Status fetches the current authority status of a certification.
	Status(ctx context.Context, certificationNumber string) (*StatusResponse, error)
}

// Applicant is the JSON payload sent alongside the evidence files.
type Applicant struct {
	CertificationNumber   string `json:"certificationNumber"`
	ApplicantCategory     string `json:"applicantCategory"`
	IdentificationNumber  string `json:"identificationNumber"`
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	SecondLastName        string `json:"secondLastName,omitempty"`
	BirthDate             string `json:"birthDate"`
	FingerCode            string `json:"fingerCode"`
	Email                 string `json:"email"`
	Phone                 string `json:"phone"`
	Address               string `json:"address"`
	City                  string `json:"city"`
	Province              string `json:"province"`
	Period                string `json:"period"`
	CompanyTaxID          string `json:"companyTaxId,omitempty"`
	CompanyLegalName      string `json:"companyLegalName,omitempty"`
	PositionInCompany     string `json:"positionInCompany,omitempty"`
	AppointmentExpiration string `json:"appointmentExpiration,omitempty"`
}

// File is one evidence document resolved from storage.
type File struct {
	Slot        models.FileSlot
	Name        string
	ContentType string
	Content     []byte
}

// SubmitRequest is a full application submission.
type SubmitRequest struct {
	Applicant Applicant
	Files     []File
}

// Ack is the authority's acceptance of a submission. Status may be empty when
// the authority does not echo one.
type Ack struct {
	Status     models.ValidationStatus
	Messages   []string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// StatusResponse is the latest authority view of a certification.
type StatusResponse struct {
	Status     models.ValidationStatus
	Messages   []string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// AsExternal converts the acknowledgement for the state machine.
func (a *Ack) AsExternal() models.ExternalResponse {
	return models.ExternalResponse{
		Operation:  OperationSubmit,
		Status:     a.Status,
		Messages:   a.Messages,
		Raw:        a.Raw,
		ReceivedAt: a.ReceivedAt,
	}
}

// AsExternal converts the status response for the state machine.
func (s *StatusResponse) AsExternal() models.ExternalResponse {
	return models.ExternalResponse{
		Operation:  OperationStatus,
		Status:     s.Status,
		Messages:   s.Messages,
		Raw:        s.Raw,
		ReceivedAt: s.ReceivedAt,
	}
}

// ApplicantFromRecord builds the submission payload of a record.
func ApplicantFromRecord(r *models.CertificationRecord) Applicant {
	a := Applicant{
		CertificationNumber:  r.CertificationNumber,
		ApplicantCategory:    string(r.Category),
		IdentificationNumber: r.Applicant.IdentificationNumber,
		FirstName:            r.Applicant.FirstName,
		LastName:             r.Applicant.LastName,
		SecondLastName:       r.Applicant.SecondLastName,
		FingerCode:           r.Applicant.FingerCode,
		Email:                r.Applicant.Email,
		Phone:                r.Applicant.Phone,
		Address:              r.Applicant.Address,
		City:                 r.Applicant.City,
		Province:             r.Applicant.Province,
		Period:               r.Period,
		CompanyTaxID:         r.Company.TaxID,
		CompanyLegalName:     r.Company.LegalName,
		PositionInCompany:    r.Company.Position,
	}
	if !r.Applicant.BirthDate.IsZero() {
		a.BirthDate = r.Applicant.BirthDate.Format(time.DateOnly)
	}
	if r.Company.AppointmentExpiration != nil {
		a.AppointmentExpiration = r.Company.AppointmentExpiration.Format(time.DateOnly)
	}
	return a
}
