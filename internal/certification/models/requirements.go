package models

// Field names a requirement target: either a text field of the record or a
// file slot.
type Field string

const (
	FieldIdentificationNumber  Field = "identification_number"
	FieldFirstName             Field = "first_name"
	FieldLastName              Field = "last_name"
	FieldFingerCode            Field = "finger_code"
	FieldEmail                 Field = "email"
	FieldPhone                 Field = "phone"
	FieldCity                  Field = "city"
	FieldProvince              Field = "province"
	FieldAddress               Field = "address"
	FieldApplicantCategory     Field = "applicant_category"
	FieldPeriod                Field = "period"
	FieldTermsAccepted         Field = "terms_accepted"
	FieldBirthDate             Field = "birth_date"
	FieldCompanyTaxID          Field = "company_tax_id"
	FieldCompanyLegalName      Field = "company_legal_name"
	FieldPositionInCompany     Field = "position_in_company"
	FieldAppointmentExpiration Field = "appointment_expiration"
)

// SlotField returns the requirement field for a file slot.
func SlotField(slot FileSlot) Field {
	return Field(slot)
}

// Kind distinguishes text requirements from file requirements.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Mode distinguishes first creation from later edits.
type Mode string

const (
	ModeCreate Mode = "CREATE"
	ModeUpdate Mode = "UPDATE"
)

// Requirement states whether one field is currently mandatory.
type Requirement struct {
	Field    Field `json:"field"`
	Required bool  `json:"required"`
	Kind     Kind  `json:"kind"`
}

// RequirementSet is the ordered output of the rule engine.
type RequirementSet []Requirement

// IsRequired reports whether field is present and required.
func (rs RequirementSet) IsRequired(field Field) bool {
	for _, r := range rs {
		if r.Field == field {
			return r.Required
		}
	}
	return false
}

// Required returns only the mandatory entries.
func (rs RequirementSet) Required() RequirementSet {
	out := make(RequirementSet, 0, len(rs))
	for _, r := range rs {
		if r.Required {
			out = append(out, r)
		}
	}
	return out
}

// Eligibility is the evaluator's verdict for a record.
type Eligibility struct {
	CompletionPercent int     `json:"completion_percent"`
	CanSubmit         bool    `json:"can_submit"`
	CanEdit           bool    `json:"can_edit"`
	CanDelete         bool    `json:"can_delete"`
	Missing           []Field `json:"missing,omitempty"`
}
