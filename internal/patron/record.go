// internal/patron/record.go
package patron

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is a library user record. The typed fields are decoded once at
// load time; everything else is kept verbatim so a full PUT round-trips
// fields this package does not know about.
//
// Identifiers, notes and emails are always lists after decoding, whatever
// shape the library returned them in.
type Record struct {
	PrimaryID      string
	FirstName      string
	LastName       string
	JobDescription string
	Group          Group
	ExpiryDate     string
	Emails         []Email
	Identifiers    []Identifier
	Notes          []Note

	fields     map[string]json.RawMessage
	hadJobDesc bool
}

// Group is the library's user group as code plus optional description.
type Group struct {
	Code string
	Desc string
}

type Email struct {
	Address   string `json:"email_address"`
	Preferred bool   `json:"preferred"`
}

// Identifier is one entry of the record's identifier list.
type Identifier struct {
	Value       string
	IDType      string
	SegmentType string
	Status      *string

	hadIDType   bool
	idTypeExtra map[string]json.RawMessage
	extra       map[string]json.RawMessage
}

// Note is one entry of the record's user-note list.
type Note struct {
	Text         string
	UserViewable *bool
	Popup        *bool
	Type         json.RawMessage

	extra map[string]json.RawMessage
}

// owned keys are re-encoded from typed fields on write. All other keys are
// written back exactly as loaded.
var ownedKeys = []string{"job_description", "user_identifier", "user_identifiers", "user_note"}

// ParseRecord decodes a full user record.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode user record: %w", err)
	}
	out := Record{fields: fields}

	out.PrimaryID = stringField(fields["primary_id"])
	out.FirstName = stringField(fields["first_name"])
	out.LastName = stringField(fields["last_name"])
	if raw, ok := fields["job_description"]; ok {
		out.hadJobDesc = true
		out.JobDescription = stringField(raw)
	}
	out.Group = parseGroup(fields["user_group"])
	if raw, ok := fields["expiry_date"]; ok && !isNull(raw) {
		out.ExpiryDate = stringField(raw)
	} else {
		out.ExpiryDate = stringField(fields["expiration_date"])
	}

	if raw, ok := fields["contact_info"]; ok {
		var ci struct {
			Email json.RawMessage `json:"email"`
		}
		if err := json.Unmarshal(raw, &ci); err == nil {
			emails, err := decodeList[Email](ci.Email)
			if err != nil {
				return fmt.Errorf("decode contact_info.email: %w", err)
			}
			out.Emails = emails
		}
	}

	idRaw, hasTop := fields["user_identifier"]
	if !hasTop || isNull(idRaw) {
		var legacy struct {
			Identifier json.RawMessage `json:"user_identifier"`
		}
		if raw, ok := fields["user_identifiers"]; ok {
			_ = json.Unmarshal(raw, &legacy)
			idRaw = legacy.Identifier
		}
	}
	ids, err := decodeList[Identifier](idRaw)
	if err != nil {
		return fmt.Errorf("decode user_identifier: %w", err)
	}
	out.Identifiers = ids

	notes, err := decodeList[Note](fields["user_note"])
	if err != nil {
		return fmt.Errorf("decode user_note: %w", err)
	}
	out.Notes = notes

	for _, k := range ownedKeys {
		delete(fields, k)
	}
	*r = out
	return nil
}

// MarshalJSON writes the record back in the library's canonical shape:
// identifiers as a top-level list and no legacy wrapper.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.fields)+3)
	for k, v := range r.fields {
		out[k] = v
	}
	set := func(k string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = data
		return nil
	}
	if r.fields == nil {
		if err := set("primary_id", r.PrimaryID); err != nil {
			return nil, err
		}
	}
	if r.hadJobDesc || r.JobDescription != "" {
		if err := set("job_description", r.JobDescription); err != nil {
			return nil, err
		}
	}
	if r.Identifiers != nil {
		if err := set("user_identifier", r.Identifiers); err != nil {
			return nil, err
		}
	}
	if r.Notes != nil {
		if err := set("user_note", r.Notes); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Email returns the preferred address, else the first one.
func (r *Record) Email() string {
	if r == nil {
		return ""
	}
	for _, e := range r.Emails {
		if e.Preferred && strings.TrimSpace(e.Address) != "" {
			return strings.TrimSpace(e.Address)
		}
	}
	if len(r.Emails) > 0 {
		return strings.TrimSpace(r.Emails[0].Address)
	}
	return ""
}

// SelfLink returns the href of the record's self link, if any.
func (r *Record) SelfLink() string {
	raw, ok := r.fields["link"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	type link struct {
		Rel  string `json:"@rel"`
		Href string `json:"@href"`
	}
	links, err := decodeList[link](raw)
	if err != nil {
		return ""
	}
	for _, l := range links {
		if l.Rel == "self" {
			return l.Href
		}
	}
	return ""
}

func (id *Identifier) UnmarshalJSON(data []byte) error {
	extra := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	out := Identifier{extra: extra}
	out.Value = stringField(extra["value"])
	out.SegmentType = stringField(extra["segment_type"])
	if raw, ok := extra["status"]; ok && !isNull(raw) {
		s := stringField(raw)
		out.Status = &s
	}
	if raw, ok := extra["id_type"]; ok {
		out.hadIDType = true
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out.IDType = s
		} else {
			obj := map[string]json.RawMessage{}
			if err := json.Unmarshal(raw, &obj); err == nil {
				out.IDType = stringField(obj["value"])
				delete(obj, "value")
				out.idTypeExtra = obj
			}
		}
	}
	for _, k := range []string{"value", "segment_type", "status", "id_type"} {
		delete(extra, k)
	}
	*id = out
	return nil
}

// MarshalJSON writes id_type in object form, and only when the entry had
// one or a type code has been set.
func (id Identifier) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(id.extra)+4)
	for k, v := range id.extra {
		out[k] = v
	}
	if id.hadIDType || id.IDType != "" {
		idType := make(map[string]any, len(id.idTypeExtra)+1)
		for k, v := range id.idTypeExtra {
			idType[k] = v
		}
		idType["value"] = id.IDType
		out["id_type"] = idType
	}
	out["value"] = id.Value
	if id.SegmentType != "" {
		out["segment_type"] = id.SegmentType
	}
	if id.Status != nil {
		out["status"] = *id.Status
	}
	return json.Marshal(out)
}

func (n *Note) UnmarshalJSON(data []byte) error {
	extra := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	out := Note{extra: extra}
	out.Text = stringField(extra["note_text"])
	out.UserViewable = boolField(extra["user_viewable"])
	out.Popup = boolField(extra["popup_note"])
	if raw, ok := extra["note_type"]; ok && !isNull(raw) {
		out.Type = raw
	}
	for _, k := range []string{"note_text", "user_viewable", "popup_note", "note_type"} {
		delete(extra, k)
	}
	*n = out
	return nil
}

func (n Note) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.extra)+4)
	for k, v := range n.extra {
		out[k] = v
	}
	out["note_text"] = n.Text
	if n.UserViewable != nil {
		out["user_viewable"] = *n.UserViewable
	}
	if n.Popup != nil {
		out["popup_note"] = *n.Popup
	}
	if len(n.Type) > 0 {
		out["note_type"] = n.Type
	}
	return json.Marshal(out)
}

// decodeList accepts a JSON list, a single object, or null.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

func parseGroup(raw json.RawMessage) Group {
	if len(raw) == 0 || isNull(raw) {
		return Group{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Group{Code: s}
	}
	var obj struct {
		Value  json.RawMessage `json:"value"`
		Code   json.RawMessage `json:"code"`
		AtDesc string          `json:"@desc"`
		Desc   string          `json:"desc"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Group{}
	}
	g := Group{Code: stringField(obj.Value), Desc: obj.AtDesc}
	if g.Code == "" {
		g.Code = stringField(obj.Code)
	}
	if g.Desc == "" {
		g.Desc = obj.Desc
	}
	return g
}

// stringField decodes a JSON string or number; anything else is "".
func stringField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func boolField(raw json.RawMessage) *bool {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
