package analysis

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/bill-explainer/internal/engine"
)

// errorResponse is the JSON body of every error reply
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}

// decodeBody reads a size-limited JSON body. It writes the error reply itself
// and reports whether the handler should continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	// base64 inflates by 4/3, leave headroom for the other fields
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.service.MaxImageBytes())*2)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondEngineError maps analysis failures to status codes
func respondEngineError(w http.ResponseWriter, err error, fallback string) {
	var blocked *engine.BlockedError
	switch {
	case errors.Is(err, engine.ErrInvalidImage):
		respondError(w, http.StatusBadRequest, "Invalid image data")
	case errors.Is(err, ErrValidation):
		respondError(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "Analysis not found")
	case errors.As(err, &blocked):
		respondError(w, http.StatusUnprocessableEntity, "Response blocked: "+blocked.Reason)
	case errors.Is(err, engine.ErrEngine):
		respondError(w, http.StatusBadGateway, fallback)
	case errors.Is(err, ErrStoreWrite):
		respondError(w, http.StatusInternalServerError, "Failed to store analysis")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleGetAnalysis returns the image and analysis for ?id=
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "Analysis ID required")
		return
	}

	record, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		if errors.Is(err, ErrValidation) {
			respondError(w, http.StatusBadRequest, "Analysis ID required")
			return
		}
		slog.Error("Error fetching analysis", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch analysis")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"imageData": record.ImageData,
		"analysis":  record.AnalysisText,
	})
}

// handleSaveAnalysis stores an analysis produced by the caller
func (s *Server) handleSaveAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageData string `json:"imageData"`
		Analysis  string `json:"analysis"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ImageData == "" || req.Analysis == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	id, err := s.service.Save(r.Context(), req.ImageData, req.Analysis)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			respondEngineError(w, err, "Failed to store analysis")
			return
		}
		slog.Error("Error storing analysis", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to store analysis")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleAnalyze runs the full submission: analyze, store, return the new ID
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageData string `json:"imageData"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	record, err := s.service.Submit(r.Context(), req.ImageData)
	if err != nil {
		slog.Error("Error analyzing bill", "error", err)
		respondEngineError(w, err, "Failed to analyze medical bill")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": record.ID})
}

// handleChat answers one question about a stored analysis
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Question string `json:"question"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	answer, err := s.service.Chat(r.Context(), req.ID, req.Question)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) {
			slog.Error("Error answering question", "id", req.ID, "error", err)
		}
		respondEngineError(w, err, "Failed to process question")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
