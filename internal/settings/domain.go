// internal/settings/domain.go
package settings

import (
	"errors"
	"strings"

	"github.com/valdren309/oa-compass-admin/internal/patron"
)

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrInvalidUser     = errors.New("user id is required")
)

// Institution is the institution-wide configuration. It never holds
// provider secrets; those live in the relay's environment.
type Institution struct {
	ProxyBaseURL          string       `json:"proxyBaseUrl"`
	OAIDTypeCode          string       `json:"oaIdTypeCode"`
	PrimaryField          patron.Field `json:"oaPrimaryField"`
	SecondaryField        patron.Field `json:"oaSecondaryField"`
	DisallowedEmailDomain string       `json:"disallowedEmailDomain,omitempty"`
	ShowDebugPanel        bool         `json:"showDebugPanel"`
}

// DefaultInstitution returns the settings used before anything is saved.
func DefaultInstitution() Institution {
	return Institution{
		OAIDTypeCode:   patron.DefaultIDTypeCode,
		PrimaryField:   patron.FieldJobDescription,
		SecondaryField: patron.FieldIdentifier,
		ShowDebugPanel: true,
	}
}

// Target is the write-back destination these settings describe.
func (i Institution) Target() patron.Target {
	return patron.Target{
		IDTypeCode: patron.IDTypeOrDefault(i.OAIDTypeCode),
		Primary:    i.PrimaryField,
		Secondary:  i.SecondaryField,
	}
}

func (i Institution) normalize() Institution {
	i.ProxyBaseURL = strings.TrimSpace(i.ProxyBaseURL)
	i.OAIDTypeCode = patron.IDTypeOrDefault(i.OAIDTypeCode)
	if i.PrimaryField == "" {
		i.PrimaryField = patron.FieldJobDescription
	}
	if i.SecondaryField == "" {
		i.SecondaryField = patron.FieldNone
	}
	i.DisallowedEmailDomain = strings.TrimSpace(i.DisallowedEmailDomain)
	return i
}

func (i Institution) validate() error {
	if i.PrimaryField == patron.FieldNone {
		return errors.Join(ErrInvalidSettings, errors.New("primary field cannot be none"))
	}
	return nil
}

// UserPrefs are one staff user's preferences. A nil ShowDebugPanel
// inherits the institution default.
type UserPrefs struct {
	ShowDebugPanel *bool `json:"showDebugPanel,omitempty"`
}

// DebugEnabled resolves the effective debug panel setting.
func (p UserPrefs) DebugEnabled(inst Institution) bool {
	if p.ShowDebugPanel != nil {
		return *p.ShowDebugPanel
	}
	return inst.ShowDebugPanel
}
