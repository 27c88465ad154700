// internal/oa/service.go
package oa

import "context"

// Service is the identity-provider gateway.
type Service interface {
	Verify(ctx context.Context, l Lookup) (*VerifyResult, error)
	Get(ctx context.Context, l Lookup) (*GetResult, error)
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Modify(ctx context.Context, req ModifyRequest) (*ModifyResult, error)
	ResendActivation(ctx context.Context, l Lookup) (*ResendResult, error)
}

// Journal records successful provider mutations.
type Journal interface {
	Record(ctx context.Context, accountID, eventType string, data any) error
}
