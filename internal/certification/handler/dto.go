package handler

import (
	"strings"
	"time"

	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	"certflow/internal/certification/service"
	dErrors "certflow/pkg/domain-errors"
)

type certificationResponse struct {
	*models.CertificationRecord
	Editable  bool `json:"editable"`
	Deletable bool `json:"deletable"`
}

func recordResponse(rec *models.CertificationRecord) certificationResponse {
	return certificationResponse{
		CertificationRecord: rec,
		Editable:            rec.IsEditable(),
		Deletable:           rec.IsDeletable(),
	}
}

// requirementsRequest drives the rule engine without a stored record, for
// forms rendered before the first save.
type requirementsRequest struct {
	Category             models.ApplicantCategory `json:"applicant_category"`
	CompanyTaxIDProvided bool                     `json:"company_tax_id_provided"`
	BirthDate            *time.Time               `json:"birth_date,omitempty"`
	Mode                 models.Mode              `json:"mode,omitempty"`
	PersistedFiles       []models.FileSlot        `json:"persisted_files,omitempty"`
	NewUploads           []models.FileSlot        `json:"new_uploads,omitempty"`
}

func (req requirementsRequest) toInput(now time.Time) (rules.Input, error) {
	category, err := models.ParseApplicantCategory(string(req.Category))
	if err != nil {
		return rules.Input{}, err
	}
	mode := models.Mode(strings.ToUpper(string(req.Mode)))
	switch mode {
	case "":
		mode = models.ModeCreate
	case models.ModeCreate, models.ModeUpdate:
	default:
		return rules.Input{}, dErrors.New(dErrors.CodeInvalidInput, "mode must be CREATE or UPDATE")
	}
	persisted, err := slotSet(req.PersistedFiles)
	if err != nil {
		return rules.Input{}, err
	}
	uploads, err := slotSet(req.NewUploads)
	if err != nil {
		return rules.Input{}, err
	}
	in := rules.Input{
		Category:             category,
		CompanyTaxIDProvided: req.CompanyTaxIDProvided,
		Mode:                 mode,
		PersistedFiles:       persisted,
		NewUploads:           uploads,
	}
	if req.BirthDate != nil {
		in.Age = models.AgeAt(*req.BirthDate, now)
	}
	return in, nil
}

func slotSet(slots []models.FileSlot) (map[models.FileSlot]bool, error) {
	out := make(map[models.FileSlot]bool, len(slots))
	for _, s := range slots {
		if !s.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown file slot: "+string(s))
		}
		out[s] = true
	}
	return out, nil
}

type requirementsResponse struct {
	Mode         models.Mode           `json:"mode"`
	Requirements models.RequirementSet `json:"requirements"`
}

type submitResponse struct {
	Record  certificationResponse `json:"record"`
	Outcome string                `json:"outcome"`
	Warning string                `json:"warning,omitempty"`
}

type syncResult struct {
	Record   certificationResponse   `json:"record"`
	Previous models.ValidationStatus `json:"previous_status"`
	Outcome  string                  `json:"outcome"`
	Changed  bool                    `json:"changed"`
}

func syncResponse(res *service.SyncResult) syncResult {
	return syncResult{
		Record:   recordResponse(res.Record),
		Previous: res.Previous,
		Outcome:  string(res.Outcome),
		Changed:  res.Changed(),
	}
}

type uploadResponse struct {
	Slot    models.FileSlot `json:"slot"`
	FileRef models.FileRef  `json:"file_ref"`
	Size    int             `json:"size"`
}
