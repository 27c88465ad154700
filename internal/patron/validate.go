// internal/patron/validate.go
package patron

import (
	"regexp"
	"strings"
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validation is the provisioning readiness of a record. Missing lists every
// deficiency at once.
type Validation struct {
	OK        bool     `json:"ok"`
	Missing   []string `json:"missing"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Expires   string   `json:"expires,omitempty"`
	GroupCode string   `json:"alma_group_code,omitempty"`
}

// Err returns a *ValidationError when the record is not ready.
func (v Validation) Err() error {
	if v.OK {
		return nil
	}
	return &ValidationError{Missing: v.Missing}
}

// ValidateForProvisioning checks the fields the provider needs. A non-empty
// disallowedDomain rejects emails at that domain.
func ValidateForProvisioning(r *Record, disallowedDomain string) Validation {
	if r == nil {
		return Validation{OK: false, Missing: []string{"user"}}
	}

	v := Validation{
		Email:     r.Email(),
		FirstName: strings.TrimSpace(r.FirstName),
		LastName:  strings.TrimSpace(r.LastName),
		GroupCode: strings.TrimSpace(r.Group.Code),
	}
	if exp := prefix10(r.ExpiryDate); isoDate.MatchString(exp) {
		v.Expires = exp
	}

	missing := []string{}
	if v.Email == "" {
		missing = append(missing, "email")
	} else if emailInDomain(v.Email, disallowedDomain) {
		missing = append(missing, "email (disallowed domain)")
	}
	if v.FirstName == "" {
		missing = append(missing, "first name")
	}
	if v.LastName == "" {
		missing = append(missing, "last name")
	}
	if v.Expires == "" {
		missing = append(missing, "expiry (YYYY-MM-DD)")
	}

	v.Missing = missing
	v.OK = len(missing) == 0
	return v
}

func prefix10(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func emailInDomain(email, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
	if domain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+domain)
}
