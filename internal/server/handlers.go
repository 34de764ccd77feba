package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/pipeline"
)

// Paging defaults for the job list.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *pipeline.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *pipeline.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests. It allocates a job in the
// uploading state and points the client at the websocket upload session.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("failed to decode request body",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
	}

	job, err := h.service.CreateJob(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, CreateJobResponse{
		JobID: job.ID,
		WSURL: "/ws/upload",
	})
}

// ListJobs handles GET /jobs requests with limit/offset paging.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100", "INVALID_LIMIT")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be non-negative", "INVALID_OFFSET")
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{
		Jobs:   make([]JobSummary, 0, len(jobs)),
		Limit:  limit,
		Offset: offset,
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobSummary(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_GET_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toJobSummary(job))
}

// DeleteJob handles DELETE /jobs/{id} requests, cascading to all records
// and blobs of the job.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PartialResults handles GET /jobs/{id}/partial requests.
func (h *Handlers) PartialResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.PartialResults(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to load partial results",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load results", "RESULTS_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toPartialResponse(results))
}

// FinalResults handles GET /jobs/{id}/results requests.
// Responds 400 while the job has not completed.
func (h *Handlers) FinalResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.FinalResults(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, pipeline.ErrJobNotCompleted):
			writeError(w, http.StatusBadRequest, "job is not completed", "JOB_NOT_COMPLETED")
		default:
			h.logger.Error("failed to load final results",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load results", "RESULTS_FAILED")
		}
		return
	}
	writeJSON(w, http.StatusOK, toFinalResponse(results))
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
