// internal/oa/implementation.go
package oa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/valdren309/oa-compass-admin/internal/policy"
)

const alreadyExistsReason = "OpenAthens account already exists"

// service implements the Service interface against the provider admin API.
type service struct {
	cfg        Config
	httpClient *http.Client
	policies   *policy.Table
	limiter    *rate.Limiter
	journal    Journal
	logger     *zap.SugaredLogger
	tracer     trace.Tracer
	requests   metric.Int64Counter
}

// Option customizes a gateway built by NewService.
type Option func(*service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *service) { s.httpClient = c }
}

func WithPolicies(t *policy.Table) Option {
	return func(s *service) { s.policies = t }
}

// WithLimiter puts a process-wide limiter in front of every operation.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.limiter = l }
}

func WithJournal(j Journal) Option {
	return func(s *service) { s.journal = j }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *service) { s.logger = l }
}

// NewService creates a gateway bound to one configuration snapshot.
func NewService(cfg Config, opts ...Option) Service {
	s := &service{
		cfg:      cfg,
		policies: policy.DefaultTable(),
		logger:   zap.NewNop().Sugar(),
		tracer:   otel.Tracer("oa-compass-admin/oa"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		s.httpClient = &http.Client{Timeout: timeout}
	}
	counter, err := otel.Meter("oa-compass-admin/oa").Int64Counter(
		"oa_provider_requests_total",
		metric.WithDescription("Requests sent to the identity provider admin API"),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("").Int64Counter("oa_provider_requests_total")
	}
	s.requests = counter
	return s
}

func (s *service) allow() error {
	if s.limiter != nil && !s.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

func (s *service) requireQueryConfig() error {
	switch {
	case s.cfg.BaseURL == "":
		return &ConfigError{Var: "OA_BASE_URL"}
	case s.cfg.Tenant == "":
		return &ConfigError{Var: "OA_TENANT"}
	case s.cfg.APIKey == "":
		return &ConfigError{Var: "OA_API_KEY"}
	}
	return nil
}

func (s *service) requireCreateConfig() error {
	switch {
	case s.cfg.APIKey == "":
		return &ConfigError{Var: "OA_API_KEY"}
	case s.cfg.CreateURL == "":
		return &ConfigError{Var: "OA_CREATE_URL"}
	}
	return nil
}

// Verify checks whether an account exists. A 404 is a normal not-found
// answer rather than an error.
func (s *service) Verify(ctx context.Context, l Lookup) (*VerifyResult, error) {
	ctx, span := s.startSpan(ctx, "oa.verify", l)
	defer span.End()

	if err := s.preflightQuery(l); err != nil {
		return nil, spanError(span, err)
	}

	status, body, err := s.query(ctx, "verify", l.Username, l.Email)
	if err != nil {
		return nil, spanError(span, err)
	}
	normalized := normalizedPtr(s.cfg.UsernamePrefix, l.Username)

	if status == http.StatusNotFound {
		span.SetAttributes(attribute.Bool("oa.found", false))
		return &VerifyResult{Found: false, NormalizedUsername: normalized, Raw: json.RawMessage(`{"status":404}`)}, nil
	}
	if !isSuccess(status) {
		return nil, spanError(span, s.providerError("OA query failed", status, body))
	}

	found := parseTotal(body) > 0
	span.SetAttributes(attribute.Bool("oa.found", found))
	return &VerifyResult{Found: found, NormalizedUsername: normalized, Raw: rawJSON(body)}, nil
}

// Get returns the first matching account or a *NotFoundError.
func (s *service) Get(ctx context.Context, l Lookup) (*GetResult, error) {
	ctx, span := s.startSpan(ctx, "oa.get", l)
	defer span.End()

	if err := s.preflightQuery(l); err != nil {
		return nil, spanError(span, err)
	}

	status, body, err := s.query(ctx, "get", l.Username, l.Email)
	if err != nil {
		return nil, spanError(span, err)
	}
	normalized := NormalizeUsername(s.cfg.UsernamePrefix, l.Username)
	notFound := &NotFoundError{By: lookupKind(l.Username), NormalizedUsername: normalized}

	if status == http.StatusNotFound {
		return nil, spanError(span, notFound)
	}
	if !isSuccess(status) {
		return nil, spanError(span, s.providerError("OA query failed", status, body))
	}

	accounts := parseAccounts(body)
	if len(accounts) == 0 {
		return nil, spanError(span, notFound)
	}
	return &GetResult{Account: accounts[0], NormalizedUsername: strPtr(normalized)}, nil
}

// Create provisions a new account. The provider assigns the username.
func (s *service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "oa.create")
	defer span.End()

	if err := s.allow(); err != nil {
		return nil, spanError(span, err)
	}
	if err := s.requireCreateConfig(); err != nil {
		return nil, spanError(span, err)
	}
	norm, err := validateCreate(req)
	if err != nil {
		return nil, spanError(span, err)
	}

	body := accountRequest{
		Status:     norm.Status,
		ExpiryDate: norm.Expires,
		Password:   norm.Password,
		Attributes: &Attributes{
			Forenames:          norm.FirstName,
			Surname:            norm.LastName,
			EmailAddress:       norm.Email,
			UniqueEmailAddress: norm.Email,
		},
	}
	applied := s.derive(norm.GroupKey, norm.GroupCode.String())
	body.Groups, body.PermissionSets = policy.Merge(applied, req.Groups, req.PermissionSets)

	status, resp, err := s.post(ctx, "create", s.cfg.CreateURL, body)
	if err != nil {
		return nil, spanError(span, err)
	}

	if IsAlreadyExists(status, resp) {
		span.SetAttributes(attribute.Bool("oa.already_exists", true))
		return &CreateResult{
			Created:       false,
			AlreadyExists: true,
			Raw:           rawJSON(resp),
			Reason:        alreadyExistsReason,
		}, nil
	}
	if !isSuccess(status) {
		return nil, spanError(span, s.providerError("OA create failed", status, resp))
	}

	summary := parseSummary(resp)
	s.record(ctx, summary.ID, "AccountCreated", summary)
	return &CreateResult{
		Created:       true,
		Raw:           rawJSON(resp),
		Summary:       summary,
		AppliedPolicy: applied,
	}, nil
}

// Modify resolves the target account and applies only the supplied fields.
func (s *service) Modify(ctx context.Context, req ModifyRequest) (*ModifyResult, error) {
	ctx, span := s.startSpan(ctx, "oa.modify", req.lookup())
	defer span.End()

	if err := s.allow(); err != nil {
		return nil, spanError(span, err)
	}
	id, err := s.resolveID(ctx, req.lookup())
	if err != nil {
		return nil, spanError(span, err)
	}

	body := accountRequest{}
	switch st := strings.ToLower(strings.TrimSpace(req.Status)); st {
	case "active", "suspended", "pending":
		body.Status = st
	}
	body.ExpiryDate = strings.TrimSpace(req.Expires)

	attrs := Attributes{
		Forenames: strings.TrimSpace(req.FirstName),
		Surname:   strings.TrimSpace(req.LastName),
	}
	if e := strings.TrimSpace(req.Email); e != "" {
		attrs.EmailAddress = e
		attrs.UniqueEmailAddress = e
	}
	if attrs != (Attributes{}) {
		body.Attributes = &attrs
	}

	applied := s.derive(req.GroupKey, req.GroupCode.String())
	body.Groups, body.PermissionSets = policy.Merge(applied, req.Groups, req.PermissionSets)

	status, resp, err := s.post(ctx, "modify", s.cfg.modifyURL(url.PathEscape(id)), body)
	if err != nil {
		return nil, spanError(span, err)
	}
	if !isSuccess(status) {
		return nil, spanError(span, s.providerError("OA modify failed", status, resp))
	}

	s.record(ctx, id, "AccountModified", body)
	return &ModifyResult{Modified: true, ID: id, Raw: rawJSON(resp), AppliedPolicy: applied}, nil
}

// ResendActivation resets the account to pending and asks the provider to
// send a fresh activation email.
func (s *service) ResendActivation(ctx context.Context, l Lookup) (*ResendResult, error) {
	ctx, span := s.startSpan(ctx, "oa.resend_activation", l)
	defer span.End()

	if err := s.allow(); err != nil {
		return nil, spanError(span, err)
	}
	id, err := s.resolveID(ctx, l)
	if err != nil {
		return nil, spanError(span, err)
	}

	target := s.cfg.modifyURL(url.PathEscape(id)) + "?sendEmail=true"
	status, resp, err := s.post(ctx, "resend_activation", target, accountRequest{Status: "pending"})
	if err != nil {
		return nil, spanError(span, err)
	}
	if !isSuccess(status) {
		return nil, spanError(span, s.providerError("OA resend activation failed", status, resp))
	}

	s.record(ctx, id, "ActivationResent", map[string]string{"status": "pending"})
	return &ResendResult{Resent: true, ID: id, Raw: rawJSON(resp)}, nil
}

func (s *service) preflightQuery(l Lookup) error {
	if err := s.allow(); err != nil {
		return err
	}
	if err := s.requireQueryConfig(); err != nil {
		return err
	}
	if strings.TrimSpace(l.Username) == "" && strings.TrimSpace(l.Email) == "" {
		return fmt.Errorf("%w: username or email required", ErrInputMissing)
	}
	return nil
}

// resolveID finds the provider id for an explicit id, a username or an
// email, in that order. The email is only tried when the username lookup
// comes back empty.
func (s *service) resolveID(ctx context.Context, l Lookup) (string, error) {
	if err := s.requireQueryConfig(); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(l.ID); id != "" {
		return id, nil
	}

	username := strings.TrimSpace(l.Username)
	email := strings.TrimSpace(l.Email)
	if username == "" && email == "" {
		return "", fmt.Errorf("%w: openathens_id or (username/email) required", ErrInputMissing)
	}

	if username != "" {
		id, err := s.lookupID(ctx, username, "")
		if err == nil || !errors.Is(err, ErrNotFound) || email == "" {
			return id, err
		}
	}
	return s.lookupID(ctx, "", email)
}

func (s *service) lookupID(ctx context.Context, username, email string) (string, error) {
	status, body, err := s.query(ctx, "lookup", username, email)
	if err != nil {
		return "", err
	}
	notFound := &NotFoundError{
		By:                 lookupKind(username),
		NormalizedUsername: NormalizeUsername(s.cfg.UsernamePrefix, username),
	}
	if status == http.StatusNotFound {
		return "", notFound
	}
	if !isSuccess(status) {
		return "", s.providerError("OA lookup error", status, body)
	}

	ids := make([]string, 0, 1)
	seen := make(map[string]bool)
	for _, a := range parseAccounts(body) {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		ids = append(ids, a.ID)
	}
	switch len(ids) {
	case 0:
		return "", notFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %d accounts for %s", ErrAmbiguous, len(ids), notFound.By)
	}
}

func (s *service) query(ctx context.Context, op, username, email string) (int, []byte, error) {
	q := url.Values{}
	if u := NormalizeUsername(s.cfg.UsernamePrefix, username); u != "" {
		q.Set("username", u)
	} else {
		q.Set("email", strings.TrimSpace(email))
	}
	return s.do(ctx, op, http.MethodGet, s.cfg.queryURL()+"?"+q.Encode(), nil)
}

func (s *service) post(ctx context.Context, op, target string, payload any) (int, []byte, error) {
	return s.do(ctx, op, http.MethodPost, target, payload)
}

func (s *service) do(ctx context.Context, op, method, target string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "OAApiKey "+s.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", AccountRequestContentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.count(ctx, op, "transport_error")
		return 0, nil, fmt.Errorf("OA %s request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	s.count(ctx, op, strconv.Itoa(resp.StatusCode))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read OA %s response: %w", op, err)
	}
	return resp.StatusCode, data, nil
}

func (s *service) providerError(op string, status int, body []byte) error {
	pe := newProviderError(op, status, body)
	s.logger.Warnw("provider request failed", "operation", op, "status", status, "code", pe.Code)
	return pe
}

func (s *service) derive(key, code string) *policy.Policy {
	p, ok := s.policies.Derive(key, code)
	if !ok {
		return nil
	}
	return &p
}

func (s *service) record(ctx context.Context, accountID, eventType string, data any) {
	if s.journal == nil || accountID == "" {
		return
	}
	if err := s.journal.Record(ctx, accountID, eventType, data); err != nil {
		s.logger.Warnw("journal append failed", "account", accountID, "event", eventType, "error", err)
	}
}

func (s *service) count(ctx context.Context, op, status string) {
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}

func (s *service) startSpan(ctx context.Context, name string, l Lookup) (context.Context, trace.Span) {
	kind := "email"
	switch {
	case strings.TrimSpace(l.ID) != "":
		kind = "id"
	case strings.TrimSpace(l.Username) != "":
		kind = "username"
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("oa.lookup", kind)))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// accountRequest is the provider-native create/modify body.
type accountRequest struct {
	Status         string      `json:"status,omitempty"`
	ExpiryDate     string      `json:"expiryDate,omitempty"`
	Password       string      `json:"password,omitempty"`
	Attributes     *Attributes `json:"attributes,omitempty"`
	Groups         []string    `json:"groups,omitempty"`
	PermissionSets []string    `json:"permissionSets,omitempty"`
}

func validateCreate(req CreateRequest) (CreateRequest, error) {
	out := CreateRequest{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Expires:   strings.TrimSpace(req.Expires),
		Password:  req.Password,
		GroupKey:  strings.TrimSpace(req.GroupKey),
		GroupCode: FlexString(strings.TrimSpace(req.GroupCode.String())),
	}

	out.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if out.Status == "" {
		out.Status = "pending"
	}
	if out.Status == "active" && out.Password == "" {
		out.Status = "pending"
	}

	invalid := map[string]string{}
	if !strings.Contains(out.Email, "@") {
		invalid["email"] = "invalid"
	}
	if out.FirstName == "" {
		invalid["first_name"] = "required"
	}
	if out.LastName == "" {
		invalid["last_name"] = "required"
	}
	if out.Expires == "" {
		invalid["expires"] = "required"
	}
	if len(invalid) > 0 {
		return out, &InvalidInputError{Invalid: invalid}
	}
	return out, nil
}

// parseAccounts accepts a bare array, a {"results": [...]} wrapper, or a
// single account object.
func parseAccounts(body []byte) []Account {
	var list []Account
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}

	var wrapped struct {
		Results *[]Account `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil
	}
	if wrapped.Results != nil {
		return *wrapped.Results
	}

	var single Account
	if err := json.Unmarshal(body, &single); err != nil {
		return nil
	}
	if single.ID == "" && single.Username == "" {
		return nil
	}
	return []Account{single}
}

func parseSummary(body []byte) *Summary {
	var wire struct {
		ID             FlexString `json:"id"`
		Username       string     `json:"username"`
		Status         string     `json:"status"`
		Expiry         string     `json:"expiry"`
		ActivationCode *struct {
			Code    string `json:"code"`
			Expires string `json:"expires"`
		} `json:"activationCode"`
		MemberOf       nameList `json:"memberOf"`
		PermissionSets nameList `json:"permissionSets"`
	}
	_ = json.Unmarshal(body, &wire)

	sum := &Summary{
		ID:             wire.ID.String(),
		Username:       wire.Username,
		Status:         wire.Status,
		Expiry:         wire.Expiry,
		Groups:         append([]string{}, wire.MemberOf...),
		PermissionSets: append([]string{}, wire.PermissionSets...),
	}
	if wire.ActivationCode != nil {
		sum.ActivationCode = strPtr(wire.ActivationCode.Code)
		sum.ActivationExpires = strPtr(wire.ActivationCode.Expires)
	}
	return sum
}

func lookupKind(username string) string {
	if strings.TrimSpace(username) != "" {
		return "username"
	}
	return "email"
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }
