// internal/audit/handler.go
package audit

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Loader reads one account's journal in version order.
type Loader interface {
	Load(ctx context.Context, accountID string) ([]Entry, error)
}

type Handler struct {
	journal Loader
	logger  *zap.SugaredLogger
}

func NewHandler(journal Loader, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{journal: journal, logger: logger}
}

// Routes mounts the history endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/oa/audit/{account}", h.HandleHistory)
}

type history struct {
	AccountID string  `json:"account_id"`
	Events    []Entry `json:"events"`
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	entries, err := h.journal.Load(r.Context(), account)
	if err != nil {
		h.logger.Errorw("could not load journal", "account", account, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load journal"})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, history{AccountID: account, Events: entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
