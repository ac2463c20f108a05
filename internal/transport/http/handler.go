package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/service"
	"league-jobs-service/internal/storage"
)

type Handler struct {
	jobSvc   *service.JobService
	storage  storage.Client
	urlTTL   time.Duration
	validate *validator.Validate
}

func NewHandler(jobSvc *service.JobService, store storage.Client, urlTTL time.Duration) *Handler {
	return &Handler{
		jobSvc:   jobSvc,
		storage:  store,
		urlTTL:   urlTTL,
		validate: validator.New(),
	}
}

type submitJobDTO struct {
	Type     string          `json:"type" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority" validate:"gte=0,lte=9"`
	Dedupe   bool            `json:"dedupe"`
	Total    int             `json:"total" validate:"gte=0"`
}

type submitJobResp struct {
	JobID        string  `json:"jobId"`
	Reused       bool    `json:"reused"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	ArtifactPath *string `json:"artifactPath,omitempty"`
}

type jobResp struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Status        entity.JobStatus       `json:"status"`
	Priority      int                    `json:"priority"`
	Progress      int                    `json:"progress"`
	Phase         *string                `json:"phase,omitempty"`
	PhaseProgress int                    `json:"phase_progress"`
	Attempts      int                    `json:"attempts"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ArtifactPath  *string                `json:"artifact_path,omitempty"`
	ArtifactType  *string                `json:"artifact_type,omitempty"`
	ErrorCode     *string                `json:"error_code,omitempty"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at"`
}

type itemResp struct {
	Seq        int                    `json:"seq"`
	Status     entity.ItemStatus      `json:"status"`
	Target     map[string]interface{} `json:"target"`
	ErrorCode  *string                `json:"error_code,omitempty"`
	DurationMS *int64                 `json:"duration_ms,omitempty"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:            j.ID.String(),
		Type:          j.Type,
		Status:        j.Status,
		Priority:      j.Priority,
		Progress:      j.Progress,
		Phase:         j.Phase,
		PhaseProgress: j.PhaseProgress,
		Attempts:      j.Attempts,
		ArtifactPath:  j.ArtifactPath,
		ArtifactType:  j.ArtifactType,
		ErrorCode:     j.ErrorCode,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     j.UpdatedAt.Format(time.RFC3339),
	}
	if len(j.Payload) > 0 {
		_ = json.Unmarshal(j.Payload, &resp.Payload)
	}
	return resp
}

// SubmitJob godoc
// @Summary Submit a job
// @Description Creates a pending job, or returns the existing one when dedupe matches.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "job submission"
// @Success 201 {object} submitJobResp
// @Success 200 {object} submitJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		Type:     dto.Type,
		Payload:  dto.Payload,
		Priority: dto.Priority,
		Dedupe:   dto.Dedupe,
		Total:    dto.Total,
	})
	if err != nil {
		if errors.Is(err, service.ErrUnknownType) {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, submitJobResp{
		JobID:        res.Job.ID.String(),
		Reused:       res.Reused,
		Status:       string(res.Job.Status),
		Progress:     res.Job.Progress,
		ArtifactPath: res.Job.ArtifactPath,
	})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// ListJobs godoc
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Param status query string false "filter by status"
// @Success 200 {array} jobResp
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := entity.JobStatus(r.URL.Query().Get("status"))

	list, err := h.jobSvc.ListJobs(r.Context(), status, 50, 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResp, 0, len(list))
	for _, j := range list {
		out = append(out, toJobResp(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListItems godoc
// @Summary List the per-unit items of a bulk job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {array} itemResp
// @Failure 404 {object} apiError
// @Router /jobs/{id}/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	items, err := h.jobSvc.ListItems(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}

	out := make([]itemResp, 0, len(items))
	for _, item := range items {
		resp := itemResp{
			Seq:       item.Seq,
			Status:    item.Status,
			ErrorCode: item.ErrorCode,
		}
		if len(item.Target) > 0 {
			_ = json.Unmarshal(item.Target, &resp.Target)
		}
		if item.StartedAt != nil && item.FinishedAt != nil {
			ms := item.FinishedAt.Sub(*item.StartedAt).Milliseconds()
			resp.DurationMS = &ms
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetArtifact godoc
// @Summary Get a short-lived download URL for the job artifact
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} map[string]string
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/artifact [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if j.Status != entity.StatusCompleted || j.ArtifactPath == nil {
		writeErr(w, http.StatusConflict, "job has no artifact")
		return
	}

	url, err := h.storage.CreateSignedURL(r.Context(), *j.ArtifactPath, h.urlTTL)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "could not sign artifact url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CancelJob godoc
// @Summary Cancel a job
// @Description A running job stops at its next phase boundary.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} map[string]string
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if err := h.jobSvc.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
