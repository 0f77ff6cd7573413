package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/pipeline"
	"github.com/rpattn/featuremart/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes caps push bodies. Pub/Sub messages top out at 10MB, so
// anything larger is not a real delivery.
const maxBodyBytes = 10 << 20

// Handler terminates Pub/Sub push deliveries and serves the job log.
type Handler struct {
	service *pipeline.Service
	jobs    repository.IngestionJobRepository
	logger  *zap.Logger
}

func NewHandler(service *pipeline.Service, jobs repository.IngestionJobRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, jobs: jobs, logger: logger}
}

// pushResponse is the JSON body returned for every delivery.
type pushResponse struct {
	Status       string   `json:"status"`
	Records      int      `json:"records"`
	RowsAppended int64    `json:"rows_appended"`
	Skipped      []string `json:"skipped,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Push handles POST /pubsub/push. HTTP status drives the queue: 2xx
// acknowledges the message, anything else redelivers it. Poison messages
// are therefore answered 200 with a rejection body, transient failures 503.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// Oversized payloads never shrink on redelivery.
			h.service.Reject(r.Context(), uuid.New().String(), "pubsub-push", err)
			h.writeJSON(w, http.StatusOK, pushResponse{Status: "rejected", Error: err.Error()})
			return
		}
		h.writeJSON(w, http.StatusServiceUnavailable, pushResponse{Status: "retry", Error: "failed to read request body"})
		return
	}

	delivery, err := Decode(body)
	if err != nil {
		h.service.Reject(r.Context(), delivery.MessageID, delivery.Source(), err)
		h.writeJSON(w, http.StatusOK, pushResponse{Status: "rejected", Error: err.Error()})
		return
	}

	result, err := h.service.Process(r.Context(), delivery.MessageID, delivery.Source(), delivery.Records)
	if err != nil {
		if domain.Classify(err) == domain.FailurePoison {
			h.writeJSON(w, http.StatusOK, pushResponse{Status: "rejected", Error: err.Error()})
			return
		}
		h.writeJSON(w, http.StatusServiceUnavailable, pushResponse{Status: "retry", Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, pushResponse{
		Status:       "ok",
		Records:      result.Records,
		RowsAppended: result.Sink.TotalRows(),
		Skipped:      result.Sink.Skipped,
	})
}

// Jobs handles GET /jobs and lists recent ingestion job log entries,
// newest first. Supports message_id, limit and offset query parameters.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}

	jobs, err := h.jobs.List(r.Context(), query.Get("message_id"), limit, offset)
	if err != nil {
		h.logger.Error("failed to list ingestion jobs", zap.Error(err))
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []domain.IngestionJob{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(body); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}
