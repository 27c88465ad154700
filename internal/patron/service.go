// internal/patron/service.go
package patron

import (
	"context"
	"net/url"
)

// REST is an authenticated capability against the library's REST API. It
// returns the response body of a 2xx response and an error otherwise.
type REST interface {
	Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error)
}

// Target says where write-back stores the provider username.
type Target struct {
	IDTypeCode string
	Primary    Field
	Secondary  Field
}

// Service defines the operations of the patron record adapter.
type Service interface {
	GetRecord(ctx context.Context, primaryID string) (*Record, error)
	Search(ctx context.Context, term string, offset, limit int) (SearchPage, error)
	SearchMore(ctx context.Context, query string, offset, limit int) (SearchPage, error)
	// WriteBackBoth stores username in the primary and secondary fields of
	// one fetched record and saves it with a single update.
	WriteBackBoth(ctx context.Context, primaryID, username string, target Target) (*Record, error)
}
