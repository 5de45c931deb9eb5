package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Ecolojia/internal/similar"
)

type SuggestHandler struct {
	similar *similar.Service
	logger  *slog.Logger
}

func NewSuggestHandler(sim *similar.Service, logger *slog.Logger) *SuggestHandler {
	return &SuggestHandler{similar: sim, logger: logger}
}

type SuggestRequest struct {
	Query string `json:"query"`
	Zone  string `json:"zone"`
	Lang  string `json:"lang"`
}

type SuggestResponse struct {
	Query       string            `json:"query"`
	Zone        string            `json:"zone"`
	Lang        string            `json:"lang"`
	Count       int               `json:"count"`
	Suggestions []similar.Product `json:"suggestions"`
}

// Suggest returns AI-generated eco-friendly alternatives for a free-text query.
func (h *SuggestHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" || req.Zone == "" || req.Lang == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query, zone and lang required"})
		return
	}

	out, err := h.similar.Suggest(r.Context(), similar.SuggestQuery{Query: req.Query, Zone: req.Zone, Lang: req.Lang}, similar.DefaultLimit)
	if errors.Is(err, similar.ErrNoSuggester) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "suggestions unavailable"})
		return
	}
	if err != nil {
		h.logger.Error("suggestion failed", "query", req.Query, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "suggestion failed"})
		return
	}

	writeJSON(w, http.StatusOK, SuggestResponse{
		Query:       req.Query,
		Zone:        req.Zone,
		Lang:        req.Lang,
		Count:       len(out),
		Suggestions: out,
	})
}
