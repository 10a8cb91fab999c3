package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/files"
	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	"certflow/internal/certification/service"
	"certflow/internal/platform/metrics"
	"certflow/internal/platform/middleware"
	dErrors "certflow/pkg/domain-errors"
	"certflow/pkg/platform/httputil"
	"certflow/pkg/platform/middleware/metadata"
	"certflow/pkg/platform/middleware/requesttime"
	"certflow/pkg/requestcontext"
)

// Service defines the certification operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, ownerID string, in models.ApplicationInput) (*models.CertificationRecord, error)
	Update(ctx context.Context, id uuid.UUID, in models.ApplicationInput) (*models.CertificationRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.CertificationRecord, error)
	GetByNumber(ctx context.Context, number string) (*models.CertificationRecord, error)
	ComputeRequirements(in rules.Input) models.RequirementSet
	RequirementsFor(ctx context.Context, id uuid.UUID, mode models.Mode, uploads map[models.FileSlot]bool) (models.RequirementSet, error)
	Evaluate(ctx context.Context, id uuid.UUID) (models.Eligibility, error)
	Submit(ctx context.Context, id uuid.UUID) (*service.SubmitResult, error)
	CheckStatus(ctx context.Context, id uuid.UUID) (*service.SyncResult, error)
	RefreshInFlight(ctx context.Context, limit int) (service.RefreshReport, error)
}

// Config carries the HTTP knobs the handler needs.
type Config struct {
	OwnerHeader    string
	RequestTimeout time.Duration
	MaxUploadSize  int64
	RefreshLimit   int
}

// Handler serves the certification API.
type Handler struct {
	logger  *slog.Logger
	certs   Service
	files   files.Store
	metrics *metrics.Metrics
	cfg     Config
}

func New(certs Service, fileStore files.Store, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.OwnerHeader == "" {
		cfg.OwnerHeader = "X-Owner-ID"
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = 500
	}
	return &Handler{logger: logger, certs: certs, files: fileStore, metrics: m, cfg: cfg}
}

const maxJSONBody = 1 << 20

// Register mounts the applicant routes under /certifications and /files, and
// the operator routes under /internal.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(base chi.Router) {
		base.Use(middleware.Recovery(h.logger))
		base.Use(middleware.RequestID)
		base.Use(metadata.ClientMetadata)
		base.Use(requesttime.Middleware)
		base.Use(middleware.Logger(h.logger))
		base.Use(middleware.Timeout(h.cfg.RequestTimeout))
		base.Use(middleware.ContentTypeJSON)
		base.Use(middleware.LatencyMiddleware(h.metrics))

		base.Group(func(owner chi.Router) {
			owner.Use(middleware.RequireOwner(h.cfg.OwnerHeader, h.logger))
			owner.Post("/requirements", h.handleComputeRequirements)
			owner.Post("/files", h.handleUploadFile)
			owner.Post("/certifications", h.handleCreate)
			owner.Get("/certifications/by-number/{number}", h.handleGetByNumber)
			owner.Route("/certifications/{id}", func(cr chi.Router) {
				cr.Get("/", h.handleGet)
				cr.Put("/", h.handleUpdate)
				cr.Delete("/", h.handleDelete)
				cr.Get("/requirements", h.handleRequirements)
				cr.Get("/eligibility", h.handleEligibility)
				cr.Post("/submit", h.handleSubmit)
				cr.Post("/status", h.handleCheckStatus)
			})
		})

		// Operator routes; the gateway restricts access.
		base.Post("/internal/certifications/refresh", h.handleRefresh)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in models.ApplicationInput
	if err := httputil.DecodeJSON(r, &in, maxJSONBody); err != nil {
		h.warn(ctx, "invalid create request", err)
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.certs.Create(ctx, requestcontext.OwnerID(ctx), in)
	if err != nil {
		h.fail(ctx, w, "failed to create certification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, recordResponse(rec))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordResponse(rec))
}

func (h *Handler) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.certs.GetByNumber(ctx, chi.URLParam(r, "number"))
	if err == nil && rec.OwnerID != requestcontext.OwnerID(ctx) {
		err = dErrors.New(dErrors.CodeNotFound, "certification not found")
	}
	if err != nil {
		h.fail(ctx, w, "failed to load certification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordResponse(rec))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	var in models.ApplicationInput
	if err := httputil.DecodeJSON(r, &in, maxJSONBody); err != nil {
		h.warn(ctx, "invalid update request", err)
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.certs.Update(ctx, rec.ID, in)
	if err != nil {
		h.fail(ctx, w, "failed to update certification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordResponse(updated))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.certs.Delete(ctx, rec.ID); err != nil {
		h.fail(ctx, w, "failed to delete certification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRequirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	mode := models.ModeCreate
	if strings.EqualFold(r.URL.Query().Get("mode"), string(models.ModeUpdate)) {
		mode = models.ModeUpdate
	}
	uploads, err := parseSlots(r.URL.Query().Get("uploads"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	set, err := h.certs.RequirementsFor(ctx, rec.ID, mode, uploads)
	if err != nil {
		h.fail(ctx, w, "failed to compute requirements", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requirementsResponse{Mode: mode, Requirements: set})
}

func (h *Handler) handleComputeRequirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req requirementsRequest
	if err := httputil.DecodeJSON(r, &req, maxJSONBody); err != nil {
		h.warn(ctx, "invalid requirements request", err)
		httputil.WriteError(w, err)
		return
	}
	in, err := req.toInput(requestcontext.Now(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requirementsResponse{
		Mode:         in.Mode,
		Requirements: h.certs.ComputeRequirements(in),
	})
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	elig, err := h.certs.Evaluate(ctx, rec.ID)
	if err != nil {
		h.fail(ctx, w, "failed to evaluate certification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, elig)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	res, err := h.certs.Submit(ctx, rec.ID)
	if err != nil {
		h.fail(ctx, w, "failed to submit certification", err)
		return
	}
	status := http.StatusAccepted
	if res.Warning != "" {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, submitResponse{
		Record:  recordResponse(res.Record),
		Outcome: string(res.Outcome),
		Warning: res.Warning,
	})
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := h.owned(w, r)
	if !ok {
		return
	}
	res, err := h.certs.CheckStatus(ctx, rec.ID)
	if err != nil {
		h.fail(ctx, w, "failed to check certification status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, syncResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.cfg.RefreshLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	report, err := h.certs.RefreshInFlight(ctx, limit)
	if err != nil {
		h.fail(ctx, w, "failed to refresh in-flight certifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// handleUploadFile stores one evidence document and returns the reference to
// place in a create or update body.
func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		h.warn(ctx, "invalid upload", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart upload"))
		return
	}
	slot := models.FileSlot(r.FormValue("slot"))
	if !slot.IsValid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown file slot: "+string(slot)))
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "file part is required"))
		return
	}
	defer part.Close()
	content, err := io.ReadAll(part)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read upload"))
		return
	}
	if len(content) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "uploaded file is empty"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	key := files.NewKey(requestcontext.OwnerID(ctx), slot, header.Filename)
	if err := h.files.Put(ctx, key, files.Object{Name: header.Filename, ContentType: contentType, Content: content}); err != nil {
		h.fail(ctx, w, "failed to store upload", dErrors.Wrap(err, dErrors.CodeUnavailable, "file storage unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, uploadResponse{Slot: slot, FileRef: models.FileRef(key), Size: len(content)})
}

// owned loads the addressed record and hides records of other owners.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*models.CertificationRecord, bool) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	rec, err := h.certs.Get(ctx, id)
	if err == nil && rec.OwnerID != requestcontext.OwnerID(ctx) {
		h.logger.WarnContext(ctx, "certification requested by another owner",
			"record_id", id,
			"request_id", middleware.GetRequestID(ctx),
		)
		err = dErrors.New(dErrors.CodeNotFound, "certification not found")
	}
	if err != nil {
		h.fail(ctx, w, "failed to load certification", err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}

// fail logs at a level matching the error class and writes the response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"owner_id", requestcontext.OwnerID(ctx),
		"code", code,
		"error", err.Error(),
	}
	if httputil.StatusFor(code) >= http.StatusInternalServerError && code != dErrors.CodeUnavailable && code != dErrors.CodeTimeout {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteErrorWithDetails(w, err, authority.MessagesOf(err))
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid certification id")
	}
	return id, nil
}

func parseSlots(raw string) (map[models.FileSlot]bool, error) {
	out := map[models.FileSlot]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		slot := models.FileSlot(part)
		if !slot.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown file slot: "+part)
		}
		out[slot] = true
	}
	return out, nil
}
