// internal/clients/relay_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/valdren309/oa-compass-admin/internal/oa"
)

// RelayClient implements oa.Service over the relay's HTTP API. Relay error
// replies are turned back into the oa error types.
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ oa.Service = (*RelayClient)(nil)

func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("oa-compass-admin/clients"),
	}
}

func (c *RelayClient) Verify(ctx context.Context, l oa.Lookup) (*oa.VerifyResult, error) {
	var res oa.VerifyResult
	if err := c.post(ctx, "/v1/oa/users/verify", l, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RelayClient) Get(ctx context.Context, l oa.Lookup) (*oa.GetResult, error) {
	var res oa.GetResult
	if err := c.post(ctx, "/v1/oa/users/get", l, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RelayClient) Create(ctx context.Context, req oa.CreateRequest) (*oa.CreateResult, error) {
	var res oa.CreateResult
	if err := c.post(ctx, "/v1/oa/users/create", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RelayClient) Modify(ctx context.Context, req oa.ModifyRequest) (*oa.ModifyResult, error) {
	var res oa.ModifyResult
	if err := c.post(ctx, "/v1/oa/users/modify", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RelayClient) ResendActivation(ctx context.Context, l oa.Lookup) (*oa.ResendResult, error) {
	var res oa.ResendResult
	if err := c.post(ctx, "/v1/oa/users/resend-activation", l, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RelayClient) post(ctx context.Context, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "relay.request", trace.WithAttributes(attribute.String("relay.path", path)))
	defer span.End()

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay %s: %w", path, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return relayError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode relay %s response: %w", path, err)
	}
	return nil
}

type relayErrorBody struct {
	Error              string            `json:"error"`
	Code               *string           `json:"code"`
	Message            string            `json:"message"`
	NormalizedUsername string            `json:"normalizedUsername"`
	Invalid            map[string]string `json:"invalid"`
}

// relayError maps a relay error reply back to the error the gateway would
// have returned in-process.
func relayError(status int, data []byte) error {
	var b relayErrorBody
	_ = json.Unmarshal(data, &b)
	code := ""
	if b.Code != nil {
		code = *b.Code
	}

	switch {
	// A 404 without the relay's code comes from routing, not the provider.
	case status == http.StatusNotFound && code == oa.NotFoundCode:
		return &oa.NotFoundError{NormalizedUsername: b.NormalizedUsername}
	case status == http.StatusBadRequest && len(b.Invalid) > 0:
		return &oa.InvalidInputError{Invalid: b.Invalid}
	case status == http.StatusBadRequest && b.Message == "":
		return fmt.Errorf("%w: %s", oa.ErrInputMissing, b.Error)
	case status == http.StatusInternalServerError && strings.HasSuffix(b.Error, " not set"):
		return &oa.ConfigError{Var: strings.TrimSuffix(b.Error, " not set")}
	case status == http.StatusConflict && b.Message == "":
		return oa.ErrAmbiguous
	case status == http.StatusTooManyRequests:
		return oa.ErrRateLimited
	}

	pe := &oa.ProviderError{Op: b.Error, Status: status, Code: code, Message: b.Message, Body: data}
	if pe.Op == "" {
		pe.Op = "relay request failed"
	}
	if pe.Message == "" {
		pe.Message = strings.TrimSpace(string(data))
	}
	if !json.Valid(data) {
		pe.Body = nil
	}
	return pe
}
