package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/thebtf/recall/internal/engine"
	"github.com/thebtf/recall/internal/lifecycle"
	"github.com/thebtf/recall/internal/vectorstore"
	"github.com/thebtf/recall/pkg/models"
)

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps core error kinds to HTTP statuses, preserving the
// kind and message so the UI can render something sensible.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, vectorstore.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, vectorstore.ErrEmbeddingUnavailable):
		status, kind = http.StatusServiceUnavailable, "embedding_unavailable"
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		status, kind = http.StatusConflict, "dimension_mismatch"
	case errors.Is(err, vectorstore.ErrStorageFailure):
		status, kind = http.StatusInternalServerError, "storage_failure"
	case errors.Is(err, lifecycle.ErrModelLoadFailed):
		status, kind = http.StatusBadGateway, "model_load_failed"
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// handleHealth reports service liveness.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// addDocumentRequest is the ingestion request body.
type addDocumentRequest struct {
	Metadata map[string]string `json:"metadata"`
	Content  string            `json:"content"`
}

// handleAddDocument ingests a document.
func (s *Service) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_input"})
		return
	}

	doc, err := s.ragManager.Ingest(r.Context(), req.Content, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// handleSearch serves similarity search. Query parameters: q (required),
// k (optional result count).
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "k must be an integer", Kind: "invalid_input"})
			return
		}
		k = parsed
	}

	results, err := s.ragManager.Search(r.Context(), query, k)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":     results,
		"total_count": len(results),
	})
}

// handleStats reports collection statistics.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ragManager.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleClearStore removes every document.
func (s *Service) handleClearStore(w http.ResponseWriter, r *http.Request) {
	if err := s.ragManager.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCapability reports the cached capability descriptor.
func (s *Service) handleCapability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prober.Check())
}

// handleGetMode reports the persisted execution mode.
func (s *Service) handleGetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.coordinator.Mode(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

// handleSetMode persists the execution mode.
func (s *Service) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode models.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_input"})
		return
	}
	if err := s.coordinator.SetMode(r.Context(), req.Mode); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_input"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(req.Mode)})
}

// modelKindFromRequest parses and validates the {kind} route parameter.
func modelKindFromRequest(r *http.Request) (models.ModelKind, error) {
	kind := models.ModelKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown model kind %q", kind)
	}
	return kind, nil
}

// handleModelStatus reports a model's lifecycle snapshot.
func (s *Service) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := modelKindFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "invalid_input"})
		return
	}
	status, err := s.coordinator.Status(kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleModelLoad starts a model load. The request returns immediately;
// progress and the final state arrive on the event stream.
func (s *Service) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	kind, err := modelKindFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "invalid_input"})
		return
	}

	go func() {
		// Detached from the request context: an abandoned request must
		// not cancel the load.
		_ = s.coordinator.Load(context.Background(), kind, nil)
	}()

	status, _ := s.coordinator.Status(kind)
	writeJSON(w, http.StatusAccepted, status)
}

// handleModelUnload releases a model.
func (s *Service) handleModelUnload(w http.ResponseWriter, r *http.Request) {
	kind, err := modelKindFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "invalid_input"})
		return
	}
	if err := s.coordinator.Unload(r.Context(), kind); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "conflict"})
		return
	}
	status, _ := s.coordinator.Status(kind)
	writeJSON(w, http.StatusOK, status)
}

// chatRequest is the chat request body.
type chatRequest struct {
	Question string           `json:"question"`
	History  []engine.Message `json:"history,omitempty"`
}

// handleChat streams a retrieval-augmented answer as SSE data lines.
func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_input"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported", Kind: "internal"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	err := s.ragManager.Chat(r.Context(), req.Question, req.History, func(fragment string) error {
		payload, merr := json.Marshal(map[string]string{"content": fragment})
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", payload); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
