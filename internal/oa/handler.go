// internal/oa/handler.go
package oa

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps relay request bodies.
const DefaultMaxBodyBytes = 200 * 1024

// Handler exposes the gateway as the relay's JSON API.
type Handler struct {
	service      Service
	logger       *zap.SugaredLogger
	maxBodyBytes int64
}

func NewHandler(service Service, logger *zap.SugaredLogger, maxBodyBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{service: service, logger: logger, maxBodyBytes: maxBodyBytes}
}

// Routes mounts the relay endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/v1/oa/users", func(r chi.Router) {
		r.Post("/verify", h.HandleVerify)
		r.Post("/get", h.HandleGet)
		r.Post("/create", h.HandleCreate)
		r.Post("/modify", h.HandleModify)
		r.Post("/resend-activation", h.HandleResendActivation)
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "oa-proxy",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req Lookup
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.service.Verify(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	var req Lookup
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.service.Get(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleModify(w http.ResponseWriter, r *http.Request) {
	var req ModifyRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.service.Modify(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleResendActivation(w http.ResponseWriter, r *http.Request) {
	var req Lookup
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.service.ResendActivation(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readJSON decodes the request body into dst. An empty body decodes as {}.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Payload too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "could not read body"})
		return false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON"})
		return false
	}
	return true
}

type errorBody struct {
	Error              string            `json:"error"`
	Code               string            `json:"code,omitempty"`
	NormalizedUsername string            `json:"normalizedUsername,omitempty"`
	Invalid            map[string]string `json:"invalid,omitempty"`
}

type providerErrorBody struct {
	Error   string  `json:"error"`
	Code    *string `json:"code"`
	Message string  `json:"message"`
	Status  int     `json:"status"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		notFound *NotFoundError
		invalid  *InvalidInputError
		provider *ProviderError
		config   *ConfigError
	)
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:              notFound.Error(),
			Code:               NotFoundCode,
			NormalizedUsername: notFound.NormalizedUsername,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid input", Invalid: invalid.Invalid})
	case errors.As(err, &provider):
		writeJSON(w, provider.Status, providerErrorBody{
			Error:   provider.Op,
			Code:    strPtr(provider.Code),
			Message: provider.Message,
			Status:  provider.Status,
		})
	case errors.As(err, &config):
		h.logger.Errorw("relay misconfigured", "missing", config.Var)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: config.Error()})
	case errors.Is(err, ErrInputMissing):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, ErrAmbiguous):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
	default:
		h.logger.Errorw("relay request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
