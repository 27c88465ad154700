// internal/oa/errors.go
package oa

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrConfigMissing = errors.New("OA config missing")
	ErrInputMissing  = errors.New("input missing")
	ErrAmbiguous     = errors.New("multiple accounts match")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// NotFoundCode is the machine-readable code attached to not-found replies.
const NotFoundCode = "OA_NOT_FOUND"

// ConfigError names the missing configuration variable.
type ConfigError struct {
	Var string
}

func (e *ConfigError) Error() string { return e.Var + " not set" }
func (e *ConfigError) Unwrap() error { return ErrConfigMissing }

// NotFoundError reports which lookup came back empty.
type NotFoundError struct {
	By                 string
	NormalizedUsername string
}

func (e *NotFoundError) Error() string {
	if e.By == "" {
		return "account not found"
	}
	return "account not found for " + e.By
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ProviderError is a non-2xx reply from the admin API that is neither a
// not-found nor an already-exists.
type ProviderError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Body    json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Op, e.Status, e.Message)
}

// InvalidInputError carries per-field validation failures for create.
type InvalidInputError struct {
	Invalid map[string]string
}

func (e *InvalidInputError) Error() string {
	fields := make([]string, 0, len(e.Invalid))
	for k := range e.Invalid {
		fields = append(fields, k)
	}
	return "invalid input: " + strings.Join(fields, ", ")
}

var alreadyExistsMarkers = []string{"already exist", "duplicate", "uniqueemail", "unique email"}

// IsAlreadyExists reports whether a create reply means the account is
// already there: a 409, or a 400 whose body mentions one of the known
// duplicate markers.
func IsAlreadyExists(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	return MentionsAlreadyExists(string(body))
}

// MentionsAlreadyExists reports whether text contains one of the duplicate
// markers, ignoring case.
func MentionsAlreadyExists(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range alreadyExistsMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func newProviderError(op string, status int, body []byte) *ProviderError {
	pe := &ProviderError{Op: op, Status: status, Message: op, Body: rawJSON(body)}
	var fields struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		switch c := fields.Code.(type) {
		case string:
			pe.Code = c
		case float64:
			pe.Code = fmt.Sprintf("%v", c)
		}
		if fields.Message != "" {
			pe.Message = fields.Message
		}
	}
	return pe
}
