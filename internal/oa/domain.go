// internal/oa/domain.go
package oa

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/valdren309/oa-compass-admin/internal/policy"
)

// AccountRequestContentType is the media type the admin API expects on
// create and modify requests.
const AccountRequestContentType = "application/vnd.eduserv.iam.admin.accountRequest-v1+json"

// Config is an immutable snapshot of the provider connection settings.
// Reloading configuration means building a new Config and a new Service.
type Config struct {
	BaseURL        string
	Tenant         string
	APIKey         string
	UsernamePrefix string
	CreateURL      string
	Timeout        time.Duration
}

func (c Config) queryURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/v1/" + c.Tenant + "/account/query"
}

func (c Config) modifyURL(id string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/v1/" + c.Tenant + "/account/" + id + "/modify"
}

// Lookup identifies an account by explicit id, username or email.
type Lookup struct {
	ID       string `json:"openathens_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// CreateRequest is the relay-level create payload. Username is never sent;
// the provider generates it.
type CreateRequest struct {
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Expires        string     `json:"expires"`
	Password       string     `json:"password,omitempty"`
	Status         string     `json:"status,omitempty"`
	GroupKey       string     `json:"alma_group_key,omitempty"`
	GroupCode      FlexString `json:"alma_group_code,omitempty"`
	Groups         []string   `json:"groups,omitempty"`
	PermissionSets []string   `json:"permissionSets,omitempty"`
}

// ModifyRequest targets an existing account. Empty fields are left
// unchanged at the provider.
type ModifyRequest struct {
	ID             string     `json:"openathens_id,omitempty"`
	Username       string     `json:"username,omitempty"`
	Email          string     `json:"email,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Expires        string     `json:"expires,omitempty"`
	Status         string     `json:"status,omitempty"`
	GroupKey       string     `json:"alma_group_key,omitempty"`
	GroupCode      FlexString `json:"alma_group_code,omitempty"`
	Groups         []string   `json:"groups,omitempty"`
	PermissionSets []string   `json:"permissionSets,omitempty"`
}

func (m ModifyRequest) lookup() Lookup {
	return Lookup{ID: m.ID, Username: m.Username, Email: m.Email}
}

// Attributes is the provider's personal-details bundle.
type Attributes struct {
	Forenames          string `json:"forenames,omitempty"`
	Surname            string `json:"surname,omitempty"`
	EmailAddress       string `json:"emailAddress,omitempty"`
	UniqueEmailAddress string `json:"uniqueEmailAddress,omitempty"`
}

// Account is a provider account. The decoded fields are a view over Raw,
// which is what gets re-encoded so no provider field is lost in transit.
type Account struct {
	ID             string      `json:"id,omitempty"`
	Username       string      `json:"username,omitempty"`
	Status         string      `json:"status,omitempty"`
	Expiry         string      `json:"expiry,omitempty"`
	Attributes     *Attributes `json:"attributes,omitempty"`
	Groups         []string    `json:"memberOf,omitempty"`
	PermissionSets []string    `json:"permissionSets,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID             FlexString  `json:"id"`
		Username       string      `json:"username"`
		Status         string      `json:"status"`
		Expiry         string      `json:"expiry"`
		Attributes     *Attributes `json:"attributes"`
		Groups         nameList    `json:"memberOf"`
		PermissionSets nameList    `json:"permissionSets"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = Account{
		ID:             string(wire.ID),
		Username:       wire.Username,
		Status:         wire.Status,
		Expiry:         wire.Expiry,
		Attributes:     wire.Attributes,
		Groups:         wire.Groups,
		PermissionSets: wire.PermissionSets,
		Raw:            append(json.RawMessage(nil), data...),
	}
	return nil
}

func (a Account) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	type plain Account
	return json.Marshal(plain(a))
}

// Summary is the condensed view of a freshly created account.
type Summary struct {
	ID                string   `json:"id,omitempty"`
	Username          string   `json:"username,omitempty"`
	Status            string   `json:"status,omitempty"`
	Expiry            string   `json:"expiry,omitempty"`
	ActivationCode    *string  `json:"activationCode"`
	ActivationExpires *string  `json:"activationExpires"`
	Groups            []string `json:"groups"`
	PermissionSets    []string `json:"permissionSets"`
}

type VerifyResult struct {
	Found              bool            `json:"found"`
	NormalizedUsername *string         `json:"normalizedUsername"`
	Raw                json.RawMessage `json:"raw"`
}

type GetResult struct {
	Account            Account `json:"account"`
	NormalizedUsername *string `json:"normalizedUsername"`
}

// CreateResult covers both a fresh create and the already-exists outcome.
type CreateResult struct {
	Created       bool            `json:"created"`
	AlreadyExists bool            `json:"alreadyExists,omitempty"`
	Raw           json.RawMessage `json:"raw"`
	Summary       *Summary        `json:"summary,omitempty"`
	AppliedPolicy *policy.Policy  `json:"appliedPolicy"`
	Reason        string          `json:"reason,omitempty"`
}

type ModifyResult struct {
	Modified      bool            `json:"modified"`
	ID            string          `json:"id"`
	Raw           json.RawMessage `json:"raw"`
	AppliedPolicy *policy.Policy  `json:"appliedPolicy"`
}

type ResendResult struct {
	Resent bool            `json:"resent"`
	ID     string          `json:"id"`
	Raw    json.RawMessage `json:"raw"`
}

// FlexString is a string that also decodes from a JSON number. Group codes
// and account ids arrive in either form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// nameList accepts ["a", "b"] as well as [{"name": "a"}, {"name": "b"}].
type nameList []string

func (n *nameList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &named); err != nil {
			return err
		}
		out = append(out, named.Name)
	}
	*n = out
	return nil
}

// rawJSON passes valid JSON through, maps an empty body to {} and wraps
// anything else as a JSON string.
func rawJSON(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	s, _ := json.Marshal(string(body))
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTotal(body []byte) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return len(arr)
	}
	var obj struct {
		Total *json.Number `json:"total"`
		Count *json.Number `json:"count"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return 0
	}
	for _, n := range []*json.Number{obj.Total, obj.Count} {
		if n == nil {
			continue
		}
		v, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0
		}
		return int(v)
	}
	return 0
}
