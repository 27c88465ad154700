// internal/patron/storage.go
package patron

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field selects where in the record the provider username is stored.
type Field string

const (
	FieldJobDescription Field = "job_description"
	FieldIdentifier     Field = "identifier_slot"
	FieldUserNote       Field = "user_note"
	FieldNone           Field = "none"
)

// DefaultIDTypeCode is the identifier type used when none is configured.
const DefaultIDTypeCode = "02"

const marker = "openathens"

// ParseField accepts the field names used in stored settings, including
// the older "identifier02" spelling.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "job_description":
		return FieldJobDescription, nil
	case "identifier_slot", "identifier02", "identifier":
		return FieldIdentifier, nil
	case "user_note":
		return FieldUserNote, nil
	case "none", "":
		return FieldNone, nil
	}
	return "", fmt.Errorf("unknown username field %q", s)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseField(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// IDTypeOrDefault trims code and falls back to DefaultIDTypeCode.
func IDTypeOrDefault(code string) string {
	if c := strings.TrimSpace(code); c != "" {
		return c
	}
	return DefaultIDTypeCode
}

// ReadUsername reads the stored username from one field. It returns ""
// when the field holds nothing recognizable.
func ReadUsername(r *Record, f Field, idTypeCode string) string {
	if r == nil {
		return ""
	}
	switch f {
	case FieldJobDescription:
		return parseMarked(r.JobDescription)
	case FieldIdentifier:
		return FindExternalUsername(r, idTypeCode)
	case FieldUserNote:
		if i := findMarkedNote(r.Notes); i >= 0 {
			return parseMarked(r.Notes[i].Text)
		}
	}
	return ""
}

// WriteUsername stores value in the given field of r. FieldNone is a no-op.
//
// The job description is overwritten as a whole. The identifier slot and
// the user note are upserted so repeated writes never add duplicates.
func WriteUsername(r *Record, f Field, idTypeCode, value string) error {
	switch f {
	case FieldJobDescription:
		r.JobDescription = "OpenAthens: " + value
	case FieldIdentifier:
		upsertIdentifier(r, IDTypeOrDefault(idTypeCode), value)
	case FieldUserNote:
		upsertNote(r, value)
	case FieldNone:
	default:
		return fmt.Errorf("unknown username field %q", f)
	}
	return nil
}

// FindExternalUsername returns the value of the identifier whose type is
// idTypeCode, independent of the configured storage fields.
func FindExternalUsername(r *Record, idTypeCode string) string {
	if r == nil {
		return ""
	}
	code := IDTypeOrDefault(idTypeCode)
	for _, id := range r.Identifiers {
		if id.IDType == code {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// ResolveStoredUsername tries the primary field, then the secondary one,
// then the identifier slot.
func ResolveStoredUsername(r *Record, primary, secondary Field, idTypeCode string) string {
	if v := ReadUsername(r, primary, idTypeCode); v != "" {
		return v
	}
	if secondary != FieldNone && secondary != "" {
		if v := ReadUsername(r, secondary, idTypeCode); v != "" {
			return v
		}
	}
	return FindExternalUsername(r, idTypeCode)
}

// parseMarked returns the text after the last colon of a marked value, or
// the whole value when there is no colon.
func parseMarked(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !strings.Contains(strings.ToLower(text), marker) {
		return ""
	}
	if i := strings.LastIndex(text, ":"); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return text
}

func findMarkedNote(notes []Note) int {
	for i, n := range notes {
		if strings.Contains(strings.ToLower(n.Text), marker) {
			return i
		}
	}
	return -1
}

func upsertIdentifier(r *Record, code, value string) {
	for i := range r.Identifiers {
		id := &r.Identifiers[i]
		if id.IDType != code {
			continue
		}
		id.Value = value
		if id.SegmentType == "" {
			id.SegmentType = "Internal"
		}
		if id.Status == nil {
			empty := ""
			id.Status = &empty
		}
		return
	}
	empty := ""
	r.Identifiers = append(r.Identifiers, Identifier{
		Value:       value,
		IDType:      code,
		SegmentType: "Internal",
		Status:      &empty,
	})
}

func upsertNote(r *Record, value string) {
	text := "OpenAthens username: " + value

	var template json.RawMessage
	for _, n := range r.Notes {
		if len(n.Type) > 0 {
			template = n.Type
			break
		}
	}

	if i := findMarkedNote(r.Notes); i >= 0 {
		n := &r.Notes[i]
		n.Text = text
		if n.UserViewable == nil {
			n.UserViewable = boolPtr(true)
		}
		if n.Popup == nil {
			n.Popup = boolPtr(false)
		}
		if len(n.Type) == 0 && template != nil {
			n.Type = template
		}
		return
	}

	r.Notes = append(r.Notes, Note{
		Text:         text,
		UserViewable: boolPtr(true),
		Popup:        boolPtr(false),
		Type:         template,
	})
}

func boolPtr(b bool) *bool { return &b }
