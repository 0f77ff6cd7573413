package backfill

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rpattn/featuremart/internal/domain"
)

// Handler exposes the backfill loader as an HTTP upload endpoint.
type Handler struct {
	loader *Loader
}

// NewHTTPHandler wraps the loader with a POST endpoint that accepts a
// multipart upload: file (required) and runId (optional).
func NewHTTPHandler(loader *Loader) http.Handler {
	return &Handler{loader: loader}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	runID := strings.TrimSpace(r.FormValue("runId"))

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	summary, err := h.loader.RunPayload(r.Context(), header.Filename, data, runID)
	if err != nil {
		// Warehouse trouble is the server's fault, anything else is a bad
		// upload.
		status := http.StatusBadRequest
		var sinkErr *domain.SinkWriteError
		if errors.As(err, &sinkErr) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
