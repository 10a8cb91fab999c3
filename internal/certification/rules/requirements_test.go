package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/internal/certification/models"
)

func required(set models.RequirementSet) map[models.Field]bool {
	out := make(map[models.Field]bool)
	for _, r := range set.Required() {
		out[r.Field] = true
	}
	return out
}

func slot(s models.FileSlot) models.Field { return models.SlotField(s) }

func TestComputeRequirements(t *testing.T) {
	t.Run("natural person base set", func(t *testing.T) {
		req := required(ComputeRequirements(Input{Category: models.CategoryNaturalPerson, Age: 30}))

		assert.Len(t, req, len(baseTextFields)+3)
		for _, f := range baseTextFields {
			assert.True(t, req[f], f)
		}
		assert.True(t, req[slot(models.SlotIDFront)])
		assert.True(t, req[slot(models.SlotIDBack)])
		assert.True(t, req[slot(models.SlotSelfie)])
		assert.False(t, req[slot(models.SlotTaxIDPDF)])
		assert.False(t, req[models.FieldCompanyTaxID])
		assert.False(t, req[slot(models.SlotAuthorizationVideo)])
	})

	t.Run("legal representative adds company data and documents", func(t *testing.T) {
		req := required(ComputeRequirements(Input{Category: models.CategoryLegalRepresentative, Age: 40}))

		for _, f := range companyTextFields {
			assert.True(t, req[f], f)
		}
		for _, s := range models.LegalRepresentativeSlots {
			assert.True(t, req[slot(s)], s)
		}
	})

	t.Run("video age boundary", func(t *testing.T) {
		cases := []struct {
			age  int
			want bool
		}{
			{age: 64, want: false},
			{age: 65, want: true},
			{age: 80, want: true},
		}
		for _, tc := range cases {
			set := ComputeRequirements(Input{Category: models.CategoryNaturalPerson, Age: tc.age})
			assert.Equal(t, tc.want, set.IsRequired(slot(models.SlotAuthorizationVideo)), "age %d", tc.age)
		}
	})

	t.Run("natural person tax id and its pdf require each other", func(t *testing.T) {
		withID := ComputeRequirements(Input{Category: models.CategoryNaturalPerson, CompanyTaxIDProvided: true})
		assert.True(t, withID.IsRequired(slot(models.SlotTaxIDPDF)))

		withPDF := ComputeRequirements(Input{
			Category:   models.CategoryNaturalPerson,
			NewUploads: map[models.FileSlot]bool{models.SlotTaxIDPDF: true},
		})
		assert.True(t, withPDF.IsRequired(models.FieldCompanyTaxID))
	})

	t.Run("update mode relaxes persisted slots only", func(t *testing.T) {
		set := ComputeRequirements(Input{
			Category: models.CategoryLegalRepresentative,
			Age:      70,
			Mode:     models.ModeUpdate,
			PersistedFiles: map[models.FileSlot]bool{
				models.SlotIDFront:            true,
				models.SlotAuthorizationVideo: true,
				models.SlotConstitutionPDF:    true,
			},
		})

		assert.False(t, set.IsRequired(slot(models.SlotIDFront)))
		assert.False(t, set.IsRequired(slot(models.SlotAuthorizationVideo)))
		assert.False(t, set.IsRequired(slot(models.SlotConstitutionPDF)))
		assert.True(t, set.IsRequired(slot(models.SlotIDBack)))
		assert.True(t, set.IsRequired(slot(models.SlotAppointmentPDF)))
		assert.True(t, set.IsRequired(models.FieldCompanyLegalName))
	})

	t.Run("persisted tax id pdf still pulls the tax id text in update mode", func(t *testing.T) {
		set := ComputeRequirements(Input{
			Category:       models.CategoryNaturalPerson,
			Mode:           models.ModeUpdate,
			PersistedFiles: map[models.FileSlot]bool{models.SlotTaxIDPDF: true},
		})
		assert.True(t, set.IsRequired(models.FieldCompanyTaxID))
		assert.False(t, set.IsRequired(slot(models.SlotTaxIDPDF)))
	})

	t.Run("every field is listed once in a stable order", func(t *testing.T) {
		in := Input{Category: models.CategoryLegalRepresentative, Age: 66}
		first := ComputeRequirements(in)
		second := ComputeRequirements(in)

		require.Equal(t, first, second)
		assert.Len(t, first, len(baseTextFields)+len(companyTextFields)+len(models.FileSlots))
		seen := make(map[models.Field]bool)
		for _, r := range first {
			assert.False(t, seen[r.Field], "duplicate %s", r.Field)
			seen[r.Field] = true
		}
		assert.Equal(t, models.KindFile, first[len(first)-1].Kind)
	})
}
