// internal/policy/policy.go

// Package policy maps library patron groups onto OpenAthens group and
// permission-set bundles.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Policy is the group/permission-set bundle applied to a provider account.
type Policy struct {
	Groups         []string `json:"groups"`
	PermissionSets []string `json:"permissionSets"`
}

// Table holds the symbolic-key policies and the group-code translation.
// A Table is immutable once built and safe for concurrent use.
type Table struct {
	policies map[string]Policy
	codes    map[string]string
}

var defaultPolicies = map[string]Policy{
	"retiree":      {Groups: []string{"retiree"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"foundation":   {Groups: []string{"foundation"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"emeritus":     {Groups: []string{"emeritus"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"affiliate":    {Groups: []string{"affiliate"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"visitscholar": {Groups: []string{"visitscholar"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"paid_vc":      {Groups: []string{"paid_vc"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"free_vc":      {Groups: []string{"free_vc"}, PermissionSets: []string{"iast#mylibrarycard"}},
	"spouse":       {Groups: []string{"spouse"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"alumniassoc":  {Groups: []string{"alumniassoc"}, PermissionSets: []string{"iast#mylibrarycardil"}},
	"xmur":         {Groups: []string{"xmur"}, PermissionSets: []string{"iast#mylibrarycardil"}},
}

var defaultCodes = map[string]string{
	"05": "retiree",
	"52": "foundation",
	"53": "emeritus",
	"56": "affiliate",
	"57": "xmur",
	"58": "visitscholar",
	"61": "free_vc",
	"62": "paid_vc",
	"63": "spouse",
}

// DefaultTable returns the built-in policy table.
func DefaultTable() *Table {
	return NewTable(defaultPolicies, defaultCodes)
}

// NewTable copies the given maps into a new Table.
func NewTable(policies map[string]Policy, codes map[string]string) *Table {
	t := &Table{
		policies: make(map[string]Policy, len(policies)),
		codes:    make(map[string]string, len(codes)),
	}
	for k, p := range policies {
		t.policies[k] = Policy{
			Groups:         append([]string(nil), p.Groups...),
			PermissionSets: append([]string(nil), p.PermissionSets...),
		}
	}
	for code, key := range codes {
		t.codes[code] = key
	}
	return t
}

type tableFile struct {
	Policies map[string]Policy `json:"policies"`
	Codes    map[string]string `json:"codes"`
}

// LoadFile reads a JSON table of the form {"policies": {...}, "codes": {...}}.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var tf tableFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	if len(tf.Policies) == 0 {
		return nil, fmt.Errorf("policy file %s defines no policies", path)
	}
	return NewTable(tf.Policies, tf.Codes), nil
}

// Derive resolves a policy by symbolic key first, then by translating a
// group code into a key. It reports false when neither resolves.
func (t *Table) Derive(key, code string) (Policy, bool) {
	key = strings.TrimSpace(key)
	code = strings.TrimSpace(code)
	if key != "" {
		if p, ok := t.policies[key]; ok {
			return p.clone(), true
		}
	}
	if code != "" {
		if k, ok := t.codes[code]; ok {
			if p, ok := t.policies[k]; ok {
				return p.clone(), true
			}
		}
	}
	return Policy{}, false
}

// Merge overlays caller-supplied lists on a derived policy. Non-empty
// explicit lists always win; derived lists only fill the gaps.
func Merge(derived *Policy, groups, permissionSets []string) (outGroups, outPermissionSets []string) {
	outGroups, outPermissionSets = groups, permissionSets
	if derived == nil {
		return outGroups, outPermissionSets
	}
	if len(outGroups) == 0 && len(derived.Groups) > 0 {
		outGroups = append([]string(nil), derived.Groups...)
	}
	if len(outPermissionSets) == 0 && len(derived.PermissionSets) > 0 {
		outPermissionSets = append([]string(nil), derived.PermissionSets...)
	}
	return outGroups, outPermissionSets
}

func (p Policy) clone() Policy {
	return Policy{
		Groups:         append([]string(nil), p.Groups...),
		PermissionSets: append([]string(nil), p.PermissionSets...),
	}
}
