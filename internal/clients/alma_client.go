// internal/clients/alma_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RESTError is a non-2xx reply from the library REST API.
type RESTError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *RESTError) Error() string {
	if msg := almaErrorMessage(e.Body); msg != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.Path, e.Status)
}

func (e *RESTError) StatusCode() int { return e.Status }

// ErrAlmaUnavailable is returned while the circuit to the library API is open.
var ErrAlmaUnavailable = errors.New("alma api unavailable")

// almaTripAfter consecutive transport or 5xx failures open the circuit.
const almaTripAfter = 5

// AlmaClient is an authenticated REST capability against the library API.
type AlmaClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
}

func NewAlmaClient(baseURL, apiKey string, timeout time.Duration) *AlmaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AlmaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "alma",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= almaTripAfter
			},
			IsSuccessful: func(err error) bool {
				// 4xx replies are answers, not outages.
				var re *RESTError
				return err == nil || (errors.As(err, &re) && re.Status < 500)
			},
		}),
		tracer: otel.Tracer("oa-compass-admin/clients"),
	}
}

// Do sends one request and returns the body of a 2xx reply.
func (c *AlmaClient) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "alma.request",
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("alma.path", path)))
	defer span.End()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, span, method, path, query, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrAlmaUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *AlmaClient) send(ctx context.Context, span trace.Span, method, path string, query url.Values, body any) ([]byte, error) {

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "apikey "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RESTError{Method: method, Path: path, Status: resp.StatusCode, Body: data}
	}
	return data, nil
}

// almaErrorMessage pulls the first errorMessage out of an errorList body.
func almaErrorMessage(body []byte) string {
	var env struct {
		ErrorList struct {
			Error json.RawMessage `json:"error"`
		} `json:"errorList"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.ErrorList.Error) == 0 {
		return ""
	}
	type almaError struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	var list []almaError
	if err := json.Unmarshal(env.ErrorList.Error, &list); err != nil {
		var one almaError
		if err := json.Unmarshal(env.ErrorList.Error, &one); err != nil {
			return ""
		}
		list = []almaError{one}
	}
	if len(list) == 0 {
		return ""
	}
	return strings.TrimSpace(list[0].ErrorMessage)
}
