package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

type TrackHandler struct {
	store  store.Store
	logger *slog.Logger
}

func NewTrackHandler(s store.Store, logger *slog.Logger) *TrackHandler {
	return &TrackHandler{store: s, logger: logger}
}

// Redirect records a click on a partner link and sends the client on to the
// partner. A failed click write is logged and does not block the redirect.
func (h *TrackHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkId")
	link, err := h.store.GetPartnerLink(r.Context(), linkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	click := &store.ClickEvent{
		LinkID:    link.ID,
		ProductID: link.ProductID,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		IP:        clientKey(r),
	}
	if err := h.store.RecordClick(r.Context(), click); err != nil {
		h.logger.Error("failed to record click", "link_id", link.ID, "error", err)
	} else {
		metrics.ClicksTotal.Inc()
	}

	http.Redirect(w, r, link.URL, http.StatusFound)
}

type PartnersHandler struct {
	store store.Store
}

func NewPartnersHandler(s store.Store) *PartnersHandler {
	return &PartnersHandler{store: s}
}

func (h *PartnersHandler) List(w http.ResponseWriter, r *http.Request) {
	partners, err := h.store.ListPartners(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if partners == nil {
		partners = []*store.Partner{}
	}
	writeJSON(w, http.StatusOK, partners)
}

type CreatePartnerRequest struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

func (h *PartnersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name required"})
		return
	}

	p := &store.Partner{Name: req.Name, Website: req.Website}
	if err := h.store.CreatePartner(r.Context(), p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type CreateLinkRequest struct {
	URL       string `json:"url"`
	ProductID string `json:"productId"`
}

func (h *PartnersHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productId required"})
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http(s) URL"})
		return
	}

	partnerID := chi.URLParam(r, "id")
	if _, err := h.store.GetPartner(r.Context(), partnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "partner not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if _, err := h.store.GetProduct(r.Context(), req.ProductID); err != nil {
		writeStoreError(w, err)
		return
	}

	l := &store.PartnerLink{
		URL:       req.URL,
		ProductID: req.ProductID,
		PartnerID: partnerID,
	}
	if err := h.store.CreatePartnerLink(r.Context(), l); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, l)
}
