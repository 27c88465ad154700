// internal/workflow/service.go
package workflow

import (
	"context"

	"github.com/valdren309/oa-compass-admin/internal/oa"
)

// GatewayFactory builds a provider gateway bound to a relay base URL. It is
// called once per invocation with the current institution settings.
type GatewayFactory func(baseURL string) oa.Service

// Service defines the reconciliation workflows. Provider and write-back
// failures come back as Outcome values; the error return is reserved for
// a busy guard, an unreadable patron record, or unreadable settings.
type Service interface {
	Create(ctx context.Context, patronID string) (*Outcome, error)
	Sync(ctx context.Context, patronID string) (*Outcome, error)
	Verify(ctx context.Context, patronID string) (*Outcome, error)
	ResendActivation(ctx context.Context, patronID string) (*Outcome, error)
}
