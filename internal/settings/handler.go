// internal/settings/handler.go
package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the settings endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/institution", h.HandleGetInstitution)
		r.Put("/institution", h.HandlePutInstitution)
		r.Get("/users/{user}", h.HandleGetUserPrefs)
		r.Put("/users/{user}", h.HandlePutUserPrefs)
	})
}

func (h *Handler) HandleGetInstitution(w http.ResponseWriter, r *http.Request) {
	inst, err := h.service.Institution(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) HandlePutInstitution(w http.ResponseWriter, r *http.Request) {
	var inst Institution
	if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	saved, err := h.service.SaveInstitution(r.Context(), inst)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) HandleGetUserPrefs(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.UserPrefs(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) HandlePutUserPrefs(w http.ResponseWriter, r *http.Request) {
	var prefs UserPrefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	saved, err := h.service.SaveUserPrefs(r.Context(), chi.URLParam(r, "user"), prefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrInvalidSettings) || errors.Is(err, ErrInvalidUser) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
