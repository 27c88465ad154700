// internal/patron/implementation.go
package patron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const usersPath = "/almaws/v1/users"

// service implements the Service interface over a REST capability.
type service struct {
	rest   REST
	logger *zap.SugaredLogger
	tracer trace.Tracer
}

// NewService creates a patron adapter. A nil logger discards output.
func NewService(rest REST, logger *zap.SugaredLogger) Service {
	if rest == nil {
		panic("patron: nil REST capability")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &service{
		rest:   rest,
		logger: logger,
		tracer: otel.Tracer("oa-compass-admin/patron"),
	}
}

// GetRecord fetches the full record, identifiers included.
func (s *service) GetRecord(ctx context.Context, primaryID string) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "patron.get_record")
	defer span.End()

	r, err := s.fetch(ctx, primaryID)
	if err != nil {
		return nil, spanError(span, err)
	}
	return r, nil
}

func (s *service) fetch(ctx context.Context, primaryID string) (*Record, error) {
	if primaryID == "" {
		return nil, fmt.Errorf("get user record: empty primary id")
	}
	q := url.Values{}
	q.Set("view", "full")
	q.Set("expand", "none")
	q.Set("format", "json")

	body, err := s.rest.Do(ctx, http.MethodGet, userPath(primaryID), q, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, primaryID)
		}
		return nil, fmt.Errorf("get user record %s: %w", primaryID, err)
	}
	return ParseRecord(body)
}

// Search runs the heuristic attempts in order. The first attempt that
// returns rows or reports a next page wins; otherwise the first attempt is
// re-run and returned as is.
func (s *service) Search(ctx context.Context, term string, offset, limit int) (SearchPage, error) {
	ctx, span := s.tracer.Start(ctx, "patron.search")
	defer span.End()

	attempts := BuildSearchAttempts(term)
	for _, q := range attempts {
		resp, err := s.list(ctx, q, offset, limit)
		if err != nil {
			return SearchPage{}, spanError(span, err)
		}
		page, err := resp.page(q, offset)
		if err != nil {
			return SearchPage{}, spanError(span, err)
		}
		if len(page.Items) > 0 || resp.hasNextLink() {
			span.SetAttributes(attribute.String("patron.query", q), attribute.Int("patron.results", len(page.Items)))
			return page, nil
		}
		s.logger.Debugw("search attempt empty", "query", q)
	}

	resp, err := s.list(ctx, attempts[0], offset, limit)
	if err != nil {
		return SearchPage{}, spanError(span, err)
	}
	page, err := resp.page(attempts[0], offset)
	if err != nil {
		return SearchPage{}, spanError(span, err)
	}
	return page, nil
}

// SearchMore reissues an earlier winning query at a later offset.
func (s *service) SearchMore(ctx context.Context, query string, offset, limit int) (SearchPage, error) {
	ctx, span := s.tracer.Start(ctx, "patron.search_more",
		trace.WithAttributes(attribute.String("patron.query", query), attribute.Int("patron.offset", offset)))
	defer span.End()

	if query == "" {
		return SearchPage{}, spanError(span, errors.New("search more: empty query"))
	}
	resp, err := s.list(ctx, query, offset, limit)
	if err != nil {
		return SearchPage{}, spanError(span, err)
	}
	page, err := resp.page(query, offset)
	if err != nil {
		return SearchPage{}, spanError(span, err)
	}
	return page, nil
}

func (s *service) list(ctx context.Context, query string, offset, limit int) (searchResponse, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("q", query)

	body, err := s.rest.Do(ctx, http.MethodGet, usersPath, q, nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("search users %q: %w", query, err)
	}
	var resp searchResponse
	if len(body) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return searchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return resp, nil
}

// WriteBackBoth applies primary then secondary to one fetched copy of the
// record and saves it once. There is no version check on the save, so a
// concurrent edit made between fetch and save is overwritten.
func (s *service) WriteBackBoth(ctx context.Context, primaryID, username string, target Target) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "patron.write_back",
		trace.WithAttributes(
			attribute.String("patron.primary_field", string(target.Primary)),
			attribute.String("patron.secondary_field", string(target.Secondary)),
		))
	defer span.End()

	wrap := func(err error) error {
		return spanError(span, &WriteBackError{PrimaryID: primaryID, Cause: err})
	}

	r, err := s.fetch(ctx, primaryID)
	if err != nil {
		return nil, wrap(err)
	}
	if err := WriteUsername(r, target.Primary, target.IDTypeCode, username); err != nil {
		return nil, wrap(err)
	}
	if target.Secondary != "" && target.Secondary != FieldNone && target.Secondary != target.Primary {
		if err := WriteUsername(r, target.Secondary, target.IDTypeCode, username); err != nil {
			return nil, wrap(err)
		}
	}

	q := url.Values{}
	q.Set("format", "json")
	body, err := s.rest.Do(ctx, http.MethodPut, userPath(primaryID), q, r)
	if err != nil {
		return nil, wrap(fmt.Errorf("update user record: %w", err))
	}
	s.logger.Debugw("username written back", "patron", primaryID,
		"primary", target.Primary, "secondary", target.Secondary)

	if len(body) == 0 {
		return r, nil
	}
	saved, err := ParseRecord(body)
	if err != nil {
		s.logger.Warnw("could not parse saved user record", "patron", primaryID, "error", err)
		return r, nil
	}
	return saved, nil
}

func userPath(primaryID string) string {
	return usersPath + "/" + url.PathEscape(primaryID)
}

// statusOf extracts an HTTP status from transport errors that carry one.
func statusOf(err error) int {
	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
