package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"certflow/internal/certification/models"
)

func TestValidate(t *testing.T) {
	t.Run("complete record has no field errors", func(t *testing.T) {
		assert.Empty(t, Validate(completeNaturalPerson(t), evalNow))
	})

	t.Run("empty values pass format checks", func(t *testing.T) {
		r := completeNaturalPerson(t)
		r.Applicant = models.Applicant{}
		assert.Empty(t, Validate(r, evalNow))
	})

	cases := []struct {
		name   string
		mutate func(r *models.CertificationRecord)
		field  models.Field
	}{
		{"short identification number", func(r *models.CertificationRecord) { r.Applicant.IdentificationNumber = "12345" }, models.FieldIdentificationNumber},
		{"non numeric identification number", func(r *models.CertificationRecord) { r.Applicant.IdentificationNumber = "17123456AB" }, models.FieldIdentificationNumber},
		{"malformed finger code", func(r *models.CertificationRecord) { r.Applicant.FingerCode = "v1234v1234" }, models.FieldFingerCode},
		{"malformed email", func(r *models.CertificationRecord) { r.Applicant.Email = "luis.example.com" }, models.FieldEmail},
		{"landline phone", func(r *models.CertificationRecord) { r.Applicant.Phone = "+59322345678" }, models.FieldPhone},
		{"short company tax id", func(r *models.CertificationRecord) { r.Company.TaxID = "179000" }, models.FieldCompanyTaxID},
		{"birth date in the future", func(r *models.CertificationRecord) { r.Applicant.BirthDate = evalNow.AddDate(0, 0, 1) }, models.FieldBirthDate},
		{"seventeen years old", func(r *models.CertificationRecord) { r.Applicant.BirthDate = evalNow.AddDate(-18, 0, 1) }, models.FieldBirthDate},
		{"unknown category", func(r *models.CertificationRecord) { r.Category = "TRUST" }, models.FieldApplicantCategory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := completeNaturalPerson(t)
			tc.mutate(r)
			fields := Validate(r, evalNow)
			assert.True(t, fields.Has(string(tc.field)), "got %v", fields)
		})
	}

	t.Run("eighteenth birthday is accepted", func(t *testing.T) {
		r := completeNaturalPerson(t)
		r.Applicant.BirthDate = evalNow.AddDate(-18, 0, 0)
		assert.Empty(t, Validate(r, evalNow))
	})

	t.Run("legal representative appointment must not have expired", func(t *testing.T) {
		r := completeNaturalPerson(t)
		r.Category = models.CategoryLegalRepresentative
		today := evalNow
		r.Company.AppointmentExpiration = &today
		assert.True(t, Validate(r, evalNow).Has(string(models.FieldAppointmentExpiration)))

		tomorrow := evalNow.Add(24 * time.Hour)
		r.Company.AppointmentExpiration = &tomorrow
		assert.False(t, Validate(r, evalNow).Has(string(models.FieldAppointmentExpiration)))
	})
}

func TestValidateForSubmission(t *testing.T) {
	t.Run("complete record passes", func(t *testing.T) {
		r := completeNaturalPerson(t)
		set, _ := EvaluateRecord(r, InputFor(r, evalNow))
		assert.Empty(t, ValidateForSubmission(r, set, evalNow))
	})

	t.Run("reports every missing required field", func(t *testing.T) {
		r := completeNaturalPerson(t)
		r.Applicant.Email = ""
		r.Applicant.BirthDate = time.Time{}
		delete(r.Files, models.SlotIDBack)
		set, _ := EvaluateRecord(r, InputFor(r, evalNow))

		fields := ValidateForSubmission(r, set, evalNow)
		assert.True(t, fields.Has(string(models.FieldEmail)))
		assert.True(t, fields.Has(string(models.FieldBirthDate)))
		assert.True(t, fields.Has(string(models.SlotIDBack)))
		assert.False(t, fields.Has(string(models.FieldFirstName)))
	})

	t.Run("tax id without its pdf", func(t *testing.T) {
		r := completeNaturalPerson(t)
		r.Company.TaxID = "1790012345001"
		set, _ := EvaluateRecord(r, InputFor(r, evalNow))

		fields := ValidateForSubmission(r, set, evalNow)
		assert.True(t, fields.Has(string(models.SlotTaxIDPDF)))
	})
}
