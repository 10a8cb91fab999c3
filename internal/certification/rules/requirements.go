// Package rules holds the pure requirement and eligibility logic for
// certification records. Nothing here performs I/O or reads the clock; every
// input arrives as an argument.
package rules

import (
	"time"

	"certflow/internal/certification/models"
)

// VideoRequiredAge is the age from which the authorization video is mandatory.
const VideoRequiredAge = 65

// Input is everything the rule engine looks at.
type Input struct {
	Category             models.ApplicantCategory
	CompanyTaxIDProvided bool
	Age                  int
	Mode                 models.Mode
	// PersistedFiles marks slots already holding a stored reference. Ignored in
	// CREATE mode.
	PersistedFiles map[models.FileSlot]bool
	// NewUploads marks slots receiving a reference in this request.
	NewUploads map[models.FileSlot]bool
}

var baseTextFields = []models.Field{
	models.FieldIdentificationNumber,
	models.FieldFirstName,
	models.FieldLastName,
	models.FieldFingerCode,
	models.FieldEmail,
	models.FieldPhone,
	models.FieldCity,
	models.FieldProvince,
	models.FieldAddress,
	models.FieldApplicantCategory,
	models.FieldPeriod,
	models.FieldTermsAccepted,
}

var companyTextFields = []models.Field{
	models.FieldCompanyTaxID,
	models.FieldCompanyLegalName,
	models.FieldPositionInCompany,
	models.FieldAppointmentExpiration,
}

var identitySlots = map[models.FileSlot]bool{
	models.SlotIDFront: true,
	models.SlotIDBack:  true,
	models.SlotSelfie:  true,
}

// ComputeRequirements maps an Input to the full requirement set.
//
// Rule precedence (later rules only add requirements):
//  1. Base fields and the three identity images
//  2. Legal representatives: company data and all four company documents
//  3. Natural persons: company tax id and its PDF require each other
//  4. Age >= 65: authorization video
//  5. UPDATE mode: file slots backed by a persisted reference become optional
func ComputeRequirements(in Input) models.RequirementSet {
	text := make(map[models.Field]bool, len(baseTextFields)+len(companyTextFields))
	files := make(map[models.FileSlot]bool, len(models.FileSlots))

	// Rule 1
	for _, f := range baseTextFields {
		text[f] = true
	}
	for slot := range identitySlots {
		files[slot] = true
	}

	// Rules 2 and 3
	switch in.Category {
	case models.CategoryLegalRepresentative:
		for _, f := range companyTextFields {
			text[f] = true
		}
		for _, slot := range models.LegalRepresentativeSlots {
			files[slot] = true
		}
	default:
		if in.CompanyTaxIDProvided {
			files[models.SlotTaxIDPDF] = true
		}
		if in.slotPresent(models.SlotTaxIDPDF) {
			text[models.FieldCompanyTaxID] = true
		}
	}

	// Rule 4
	if in.Age >= VideoRequiredAge {
		files[models.SlotAuthorizationVideo] = true
	}

	// Rule 5
	if in.Mode == models.ModeUpdate {
		for slot, persisted := range in.PersistedFiles {
			if persisted {
				files[slot] = false
			}
		}
	}

	set := make(models.RequirementSet, 0, len(baseTextFields)+len(companyTextFields)+len(models.FileSlots))
	for _, f := range baseTextFields {
		set = append(set, models.Requirement{Field: f, Required: text[f], Kind: models.KindText})
	}
	for _, f := range companyTextFields {
		set = append(set, models.Requirement{Field: f, Required: text[f], Kind: models.KindText})
	}
	for _, slot := range models.FileSlots {
		set = append(set, models.Requirement{Field: models.SlotField(slot), Required: files[slot], Kind: models.KindFile})
	}
	return set
}

func (in Input) slotPresent(slot models.FileSlot) bool {
	if in.NewUploads[slot] {
		return true
	}
	return in.Mode == models.ModeUpdate && in.PersistedFiles[slot]
}

// InputFor builds the whole-record input used for completeness and submission:
// every reference the record holds counts as supplied.
func InputFor(r *models.CertificationRecord, now time.Time) Input {
	return Input{
		Category:             r.Category,
		CompanyTaxIDProvided: r.Company.TaxID != "",
		Age:                  r.Age(now),
		Mode:                 models.ModeCreate,
		NewUploads:           r.Files.Presence(),
	}
}

// InputForUpdate builds the edit-form input: candidate carries the newly
// posted text fields, persisted the references stored before this request.
func InputForUpdate(candidate *models.CertificationRecord, persisted models.Files, uploads map[models.FileSlot]bool, now time.Time) Input {
	return Input{
		Category:             candidate.Category,
		CompanyTaxIDProvided: candidate.Company.TaxID != "",
		Age:                  candidate.Age(now),
		Mode:                 models.ModeUpdate,
		PersistedFiles:       persisted.Presence(),
		NewUploads:           uploads,
	}
}
