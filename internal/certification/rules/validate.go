package rules

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"certflow/internal/certification/models"
	dErrors "certflow/pkg/domain-errors"
)

const (
	// IdentificationNumberLength is the fixed length of a national id.
	IdentificationNumberLength = 10
	// CompanyTaxIDLength is the fixed length of a company tax id.
	CompanyTaxIDLength = 13
	// MinimumApplicantAge is the youngest age allowed to request a certificate.
	MinimumApplicantAge = 18
)

var (
	fingerCodePattern = regexp.MustCompile(`^[A-Z]\d{4}[A-Z]\d{4}$`)
	phonePattern      = regexp.MustCompile(`^\+5939\d{8}$`)
)

// fieldFormat mirrors the format-checked fields of a record. Empty values
// pass; requiredness is the rule engine's job.
type fieldFormat struct {
	IdentificationNumber string `json:"identification_number" validate:"omitempty,len=10,numeric"`
	FingerCode           string `json:"finger_code" validate:"omitempty,fingercode"`
	Email                string `json:"email" validate:"omitempty,email,max=255"`
	Phone                string `json:"phone" validate:"omitempty,mobilephone"`
	FirstName            string `json:"first_name" validate:"omitempty,max=100"`
	LastName             string `json:"last_name" validate:"omitempty,max=100"`
	Address              string `json:"address" validate:"omitempty,max=255"`
	CompanyTaxID         string `json:"company_tax_id" validate:"omitempty,len=13,numeric"`
	CompanyLegalName     string `json:"company_legal_name" validate:"omitempty,max=255"`
	PositionInCompany    string `json:"position_in_company" validate:"omitempty,max=120"`
}

var recordValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("fingercode", func(fl validator.FieldLevel) bool {
		return fingerCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("mobilephone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

var tagMessages = map[string]string{
	"len":         "has the wrong length",
	"numeric":     "must contain digits only",
	"email":       "must be a valid email address",
	"max":         "is too long",
	"fingercode":  "must match the pattern A9999A9999",
	"mobilephone": "must be a mobile number in the form +5939XXXXXXXX",
}

// Validate checks the format and cross-field constraints of the values a
// record holds, independent of whether they are required. now is the entry
// time used for age and appointment checks.
func Validate(r *models.CertificationRecord, now time.Time) dErrors.FieldErrors {
	var fields dErrors.FieldErrors

	if !r.Category.IsValid() {
		fields.Add(string(models.FieldApplicantCategory), "must be NATURAL_PERSON or LEGAL_REPRESENTATIVE")
	}

	form := fieldFormat{
		IdentificationNumber: r.Applicant.IdentificationNumber,
		FingerCode:           r.Applicant.FingerCode,
		Email:                r.Applicant.Email,
		Phone:                r.Applicant.Phone,
		FirstName:            r.Applicant.FirstName,
		LastName:             r.Applicant.LastName,
		Address:              r.Applicant.Address,
		CompanyTaxID:         r.Company.TaxID,
		CompanyLegalName:     r.Company.LegalName,
		PositionInCompany:    r.Company.Position,
	}
	if err := recordValidate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				msg, ok := tagMessages[fe.Tag()]
				if !ok {
					msg = "is invalid"
				}
				fields.Add(fe.Field(), msg)
			}
		} else {
			fields.Add("record", err.Error())
		}
	}

	if birth := r.Applicant.BirthDate; !birth.IsZero() {
		switch {
		case birth.After(now):
			fields.Add(string(models.FieldBirthDate), "cannot be in the future")
		case models.AgeAt(birth, now) < MinimumApplicantAge:
			fields.Add(string(models.FieldBirthDate), "applicant must be at least 18 years old")
		}
	}

	if r.Category == models.CategoryLegalRepresentative {
		if exp := r.Company.AppointmentExpiration; exp != nil && !exp.After(now) {
			fields.Add(string(models.FieldAppointmentExpiration), "must be a future date")
		}
	}
	return fields
}

// ValidateForSubmission adds completeness failures to the format checks:
// every required field must be filled and the birth date must be known so the
// age rules can apply.
func ValidateForSubmission(r *models.CertificationRecord, set models.RequirementSet, now time.Time) dErrors.FieldErrors {
	fields := Validate(r, now)
	if r.Applicant.BirthDate.IsZero() && !fields.Has(string(models.FieldBirthDate)) {
		fields.Add(string(models.FieldBirthDate), "is required")
	}
	for _, req := range set {
		if req.Required && !r.IsFilled(req) {
			fields.Add(string(req.Field), "is required")
		}
	}
	return fields
}
