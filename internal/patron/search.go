// internal/patron/search.go
package patron

import (
	"encoding/json"
	"strings"
)

// LiteRecord is one row of a search listing.
type LiteRecord struct {
	PrimaryID  string `json:"primary_id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Group      string `json:"user_group,omitempty"`
	GroupDesc  string `json:"user_group_desc,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	Link       string `json:"link,omitempty"`
}

// SearchPage is one page of search results together with the query
// expression that produced it, so the next page reuses the same expression.
type SearchPage struct {
	Items            []LiteRecord `json:"items"`
	QueryUsed        string       `json:"queryUsed"`
	Offset           int          `json:"offset"`
	TotalRecordCount int          `json:"total_record_count"`
	HasMore          bool         `json:"hasMore"`
	NextOffset       int          `json:"nextOffset"`
}

// BuildSearchAttempts expands a free-text term into the ordered list of
// query expressions to try. The list always contains all~"<term>".
func BuildSearchAttempts(term string) []string {
	hasAt := strings.Contains(term, "@")
	hasComma := strings.Contains(term, ",")
	tokens := strings.Fields(term)
	looksLikeID := !hasAt && !hasComma && len(tokens) == 1

	var attempts []string
	if hasAt {
		attempts = append(attempts, "email~"+term)
	}
	if looksLikeID {
		attempts = append(attempts, "primary_id~"+term)
	}
	if hasComma {
		var parts []string
		for _, p := range strings.Split(term, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			if len(parts) > 1 {
				attempts = append(attempts, "last_name~"+parts[0]+" AND first_name~"+parts[1])
			} else {
				attempts = append(attempts, "last_name~"+parts[0])
			}
		}
	} else if len(tokens) >= 2 {
		attempts = append(attempts, "last_name~"+strings.Join(tokens[1:], " ")+" AND first_name~"+tokens[0])
	}

	attempts = append(attempts, `all~"`+term+`"`)
	if len(tokens) > 1 {
		all := make([]string, len(tokens))
		for i, t := range tokens {
			all[i] = "all~" + t
		}
		attempts = append(attempts, strings.Join(all, " AND "))
	} else if !hasAt && !looksLikeID {
		attempts = append(attempts, "all~"+term)
	}
	return attempts
}

// searchResponse is the library's user listing body.
type searchResponse struct {
	Users            json.RawMessage `json:"user"`
	TotalRecordCount int             `json:"total_record_count"`
	Link             json.RawMessage `json:"link"`
}

func (s searchResponse) hasNextLink() bool {
	type link struct {
		Rel string `json:"@rel"`
	}
	links, err := decodeList[link](s.Link)
	if err != nil {
		return false
	}
	for _, l := range links {
		if l.Rel == "next" {
			return true
		}
	}
	return false
}

func (s searchResponse) page(query string, offset int) (SearchPage, error) {
	users, err := decodeList[Record](s.Users)
	if err != nil {
		return SearchPage{}, err
	}
	items := make([]LiteRecord, 0, len(users))
	for i := range users {
		items = append(items, toLite(&users[i]))
	}
	p := SearchPage{
		Items:            items,
		QueryUsed:        query,
		Offset:           offset,
		TotalRecordCount: s.TotalRecordCount,
		NextOffset:       offset + len(items),
	}
	p.HasMore = s.TotalRecordCount > p.NextOffset
	return p, nil
}

func toLite(r *Record) LiteRecord {
	return LiteRecord{
		PrimaryID:  r.PrimaryID,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Group:      r.Group.Code,
		GroupDesc:  r.Group.Desc,
		ExpiryDate: strings.TrimSuffix(r.ExpiryDate, "Z"),
		Link:       r.SelfLink(),
	}
}
