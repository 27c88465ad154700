// internal/workflow/handler.go
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/valdren309/oa-compass-admin/internal/patron"
	"github.com/valdren309/oa-compass-admin/internal/settings"
)

// StaffUserHeader names the staff user whose preferences apply.
const StaffUserHeader = "X-Staff-User"

type Handler struct {
	service  Service
	patrons  patron.Service
	settings settings.Service
	logger   *zap.SugaredLogger
}

func NewHandler(service Service, patrons patron.Service, cfg settings.Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{service: service, patrons: patrons, settings: cfg, logger: logger}
}

// Routes mounts the panel endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/patrons", func(r chi.Router) {
		r.Get("/search", h.HandleSearch)
		r.Get("/search/more", h.HandleSearchMore)
		r.Post("/{id}/create", h.action(h.service.Create))
		r.Post("/{id}/sync", h.action(h.service.Sync))
		r.Post("/{id}/verify", h.action(h.service.Verify))
		r.Post("/{id}/resend-activation", h.action(h.service.ResendActivation))
	})
}

type actionFunc func(ctx context.Context, patronID string) (*Outcome, error)

func (h *Handler) action(fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !h.debugEnabled(r) {
			out.DebugText = ""
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	offset, limit := paging(r)
	page, err := h.patrons.Search(r.Context(), q, offset, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleSearchMore(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	offset, limit := paging(r)
	page, err := h.patrons.SearchMore(r.Context(), query, offset, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// debugEnabled honours ?debug=1, then the staff user's preference, then
// the institution default.
func (h *Handler) debugEnabled(r *http.Request) bool {
	if v, err := strconv.ParseBool(r.URL.Query().Get("debug")); err == nil {
		return v
	}
	inst, err := h.settings.Institution(r.Context())
	if err != nil {
		h.logger.Warnw("could not load institution settings", "error", err)
		return false
	}
	user := r.Header.Get(StaffUserHeader)
	if user == "" {
		return inst.ShowDebugPanel
	}
	prefs, err := h.settings.UserPrefs(r.Context(), user)
	if err != nil {
		h.logger.Warnw("could not load user prefs", "user", user, "error", err)
		return inst.ShowDebugPanel
	}
	return prefs.DebugEnabled(inst)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, patron.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func paging(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
