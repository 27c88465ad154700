// internal/workflow/implementation.go
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/valdren309/oa-compass-admin/internal/oa"
	"github.com/valdren309/oa-compass-admin/internal/patron"
	"github.com/valdren309/oa-compass-admin/internal/settings"
)

// service implements the Service interface.
type service struct {
	patrons          patron.Service
	settings         settings.Service
	gateway          GatewayFactory
	fallbackRelayURL string
	guard            *guard
	logger           *zap.SugaredLogger
	tracer           trace.Tracer
	outcomes         metric.Int64Counter
}

// NewService creates the workflow service. fallbackRelayURL is used when
// the institution settings carry no usable relay URL.
func NewService(patrons patron.Service, cfg settings.Service, gateway GatewayFactory, fallbackRelayURL string, logger *zap.SugaredLogger) Service {
	if patrons == nil || cfg == nil || gateway == nil {
		panic("workflow: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	counter, err := otel.Meter("oa-compass-admin/workflow").Int64Counter(
		"workflow_outcomes_total",
		metric.WithDescription("Workflow invocations by operation and result"),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("").Int64Counter("workflow_outcomes_total")
	}
	return &service{
		patrons:          patrons,
		settings:         cfg,
		gateway:          gateway,
		fallbackRelayURL: fallbackRelayURL,
		guard:            newGuard(),
		logger:           logger,
		tracer:           otel.Tracer("oa-compass-admin/workflow"),
		outcomes:         counter,
	}
}

// run is everything one invocation needs, fixed at its start.
type run struct {
	id     string
	action Action
	record *patron.Record
	inst   settings.Institution
	gw     oa.Service
	log    *zap.SugaredLogger
}

func (s *service) begin(ctx context.Context, action Action, patronID string, fn func(context.Context, *run) *Outcome) (*Outcome, error) {
	release, ok := s.guard.acquire(patronID, action)
	if !ok {
		return nil, ErrInProgress
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "workflow."+strings.ReplaceAll(string(action), "-", "_"),
		trace.WithAttributes(attribute.String("workflow.patron", patronID)))
	defer span.End()

	inst, err := s.settings.Institution(ctx)
	if err != nil {
		return nil, spanError(span, err)
	}
	rec, err := s.patrons.GetRecord(ctx, patronID)
	if err != nil {
		return nil, spanError(span, err)
	}

	baseURL := inst.ProxyBaseURL
	if baseURL == "" {
		baseURL = s.fallbackRelayURL
	}
	r := &run{
		id:     uuid.NewString(),
		action: action,
		record: rec,
		inst:   inst,
		gw:     s.gateway(baseURL),
	}
	r.log = s.logger.With("run", r.id, "patron", patronID, "action", action)

	out := fn(ctx, r)
	out.RunID = r.id
	out.Action = action

	span.SetAttributes(attribute.String("workflow.result", string(out.Result)))
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", string(action)),
		attribute.String("result", string(out.Result)),
	))
	r.log.Debugw("workflow done", "outcome", out.Result, "needsReload", out.NeedsReload)
	return out, nil
}

func (s *service) Create(ctx context.Context, patronID string) (*Outcome, error) {
	return s.begin(ctx, ActionCreate, patronID, s.create)
}

func (s *service) Sync(ctx context.Context, patronID string) (*Outcome, error) {
	return s.begin(ctx, ActionSync, patronID, s.sync)
}

func (s *service) Verify(ctx context.Context, patronID string) (*Outcome, error) {
	return s.begin(ctx, ActionVerify, patronID, s.verify)
}

func (s *service) ResendActivation(ctx context.Context, patronID string) (*Outcome, error) {
	return s.begin(ctx, ActionResend, patronID, s.resend)
}

func (s *service) create(ctx context.Context, r *run) *Outcome {
	r.log.Debugw("workflow step", "step", "validating")
	v := patron.ValidateForProvisioning(r.record, r.inst.DisallowedEmailDomain)
	if err := v.Err(); err != nil {
		r.log.Infow("workflow blocked", "error", err)
		return &Outcome{
			Result:     ResultBlocked,
			StatusText: msgCreateBlocked(v.Missing),
			DebugText:  msgFieldsMissingCreate,
			Missing:    v.Missing,
		}
	}

	r.log.Debugw("workflow step", "step", "calling_provider")
	res, err := r.gw.Create(ctx, oa.CreateRequest{
		Email:     v.Email,
		FirstName: v.FirstName,
		LastName:  v.LastName,
		Expires:   v.Expires,
		GroupCode: oa.FlexString(v.GroupCode),
	})
	if err != nil {
		return failure(err, msgCreateFailed)
	}

	out := &Outcome{DebugText: pretty(res), OAUsername: createdUsername(res)}
	switch {
	case res.Created:
		out.Result = ResultCreated
		out.StatusText = msgCreateSuccess
		if out.OAUsername != "" {
			out.StatusText = msgCreateSuccessWithUser(out.OAUsername)
		}
	case res.AlreadyExists:
		out.Result = ResultAlreadyExists
		out.StatusText = msgCreateAlreadyExists
		if out.OAUsername != "" {
			out.StatusText = msgCreateAlreadyExistsWithUser(out.OAUsername)
		}
		reason := res.Reason
		if reason == "" {
			reason = msgDefaultExistsReason
		}
		out.StatusText += " - " + reason
	default:
		reason := res.Reason
		if reason == "" {
			reason = msgCreateFailed
		}
		out.Result = ResultNotCreated
		out.StatusText = msgCreateNotCreated(reason)
	}

	if out.OAUsername != "" {
		s.writeBack(ctx, r, out)
	}
	return out
}

func (s *service) sync(ctx context.Context, r *run) *Outcome {
	r.log.Debugw("workflow step", "step", "finding")
	got, err := s.findAccount(ctx, r)
	if err != nil {
		return failure(err, msgSyncFailed)
	}
	username := accountUsername(got)

	if username == "" {
		r.log.Debugw("workflow step", "step", "validating")
		v := patron.ValidateForProvisioning(r.record, r.inst.DisallowedEmailDomain)
		if err := v.Err(); err != nil {
			r.log.Infow("workflow blocked", "error", err)
			return &Outcome{
				Result:     ResultBlocked,
				StatusText: msgSyncBlocked(v.Missing),
				DebugText:  msgFieldsMissingModify,
				Missing:    v.Missing,
			}
		}

		r.log.Debugw("workflow step", "step", "calling_provider")
		mod, err := r.gw.Modify(ctx, oa.ModifyRequest{
			Username:  r.record.PrimaryID,
			Email:     v.Email,
			FirstName: v.FirstName,
			LastName:  v.LastName,
			Expires:   v.Expires,
			GroupCode: oa.FlexString(v.GroupCode),
		})
		if err != nil {
			if isNotFoundLike(err) {
				return notFound(errorDebug(err))
			}
			return failure(err, msgSyncFailed)
		}

		got, err = s.findAccount(ctx, r)
		if err != nil {
			return failure(err, msgSyncFailed)
		}
		username = accountUsername(got)
		if username == "" {
			return notFound(pretty(mod))
		}
	}

	out := &Outcome{
		Result:     ResultSynced,
		StatusText: msgSyncSuccessWithUser(username),
		DebugText:  pretty(map[string]any{"account": got.Account}),
		OAUsername: username,
	}
	s.writeBack(ctx, r, out)
	return out
}

func (s *service) verify(ctx context.Context, r *run) *Outcome {
	got, err := s.findAccount(ctx, r)
	if err != nil {
		if isNotFoundLike(err) {
			return notFound(errorDebug(err))
		}
		return &Outcome{Result: ResultFailed, StatusText: msgVerifyFailed, DebugText: errorDebug(err)}
	}
	if got == nil {
		return notFound(pretty(map[string]bool{"found": false}))
	}
	username := accountUsername(got)
	return &Outcome{
		Result:     ResultFound,
		StatusText: msgExistsInOA(username),
		DebugText:  pretty(got),
		OAUsername: username,
	}
}

func (s *service) resend(ctx context.Context, r *run) *Outcome {
	email := r.record.Email()
	if email == "" {
		return &Outcome{
			Result:     ResultBlocked,
			StatusText: msgResendMissingEmail,
			DebugText:  msgFieldsMissingModify,
			Missing:    []string{"email"},
		}
	}

	r.log.Debugw("workflow step", "step", "calling_provider")
	res, err := r.gw.ResendActivation(ctx, oa.Lookup{Email: email})
	if err != nil {
		if isNotFoundLike(err) {
			return notFound(errorDebug(err))
		}
		return &Outcome{Result: ResultFailed, StatusText: msgResendFailed, DebugText: errorDebug(err)}
	}
	return &Outcome{Result: ResultResent, StatusText: msgResendSuccess, DebugText: pretty(res)}
}

// findAccount tries the stored username, then the email, then the primary
// id as a literal username. The first hit wins. A not-found at one step
// moves on to the next; any other error stops the search.
func (s *service) findAccount(ctx context.Context, r *run) (*oa.GetResult, error) {
	var lookups []oa.Lookup
	if u := patron.FindExternalUsername(r.record, r.inst.OAIDTypeCode); u != "" {
		lookups = append(lookups, oa.Lookup{Username: u})
	}
	if e := r.record.Email(); e != "" {
		lookups = append(lookups, oa.Lookup{Email: e})
	}
	if pid := r.record.PrimaryID; pid != "" {
		lookups = append(lookups, oa.Lookup{Username: pid})
	}

	for _, l := range lookups {
		got, err := r.gw.Get(ctx, l)
		if err != nil {
			if errors.Is(err, oa.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if got != nil && accountUsername(got) != "" {
			return got, nil
		}
	}
	return nil, nil
}

// writeBack saves the username into the record and annotates out. A
// failure keeps the provider result and marks the outcome partial.
func (s *service) writeBack(ctx context.Context, r *run, out *Outcome) {
	r.log.Debugw("workflow step", "step", "writing_back")
	_, err := s.patrons.WriteBackBoth(ctx, r.record.PrimaryID, out.OAUsername, r.inst.Target())
	if err != nil {
		r.log.Warnw("write-back failed", "error", err)
		out.StatusText += " " + msgOAOkAlmaFailed
		out.WriteBackFailed = true
		msg := err.Error()
		if msg == "" {
			msg = msgAlmaUpdateFailed
		}
		out.DebugText += writeBackErrorHeader + msg
		return
	}
	out.StatusText += " " + msgSavedToAlma
	out.NeedsReload = true
}

func createdUsername(res *oa.CreateResult) string {
	if res.Summary != nil && res.Summary.Username != "" {
		return res.Summary.Username
	}
	var raw struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(res.Raw, &raw); err == nil {
		return raw.Username
	}
	return ""
}

func accountUsername(got *oa.GetResult) string {
	if got == nil {
		return ""
	}
	if got.Account.Username != "" {
		return got.Account.Username
	}
	if got.NormalizedUsername != nil {
		return *got.NormalizedUsername
	}
	return ""
}

func notFound(debug string) *Outcome {
	return &Outcome{Result: ResultNotFound, StatusText: msgNoOAFound, DebugText: debug}
}

// failure turns an unclassified provider or transport error into an
// outcome. A duplicate-looking 400 or 409 still reads as already-exists.
func failure(err error, status string) *Outcome {
	var pe *oa.ProviderError
	if errors.As(err, &pe) && (pe.Status == 400 || pe.Status == 409) &&
		oa.MentionsAlreadyExists(pe.Op+" "+pe.Message+" "+string(pe.Body)) {
		return &Outcome{Result: ResultAlreadyExists, StatusText: msgOAAlreadyExists, DebugText: errorDebug(err)}
	}
	return &Outcome{Result: ResultFailed, StatusText: status, DebugText: errorDebug(err)}
}

// isNotFoundLike reports a not-found answer about the account. A provider
// error without a JSON body is a transport or routing failure.
func isNotFoundLike(err error) bool {
	if errors.Is(err, oa.ErrNotFound) {
		return true
	}
	var pe *oa.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Code == oa.NotFoundCode {
		return true
	}
	if len(pe.Body) == 0 {
		return false
	}
	return pe.Status == http.StatusNotFound || strings.Contains(strings.ToLower(pe.Message), "not found")
}

// errorDebug renders an error the way the relay would have sent it.
func errorDebug(err error) string {
	var (
		pe *oa.ProviderError
		nf *oa.NotFoundError
	)
	switch {
	case errors.As(err, &pe):
		body := map[string]any{"error": pe.Op, "message": pe.Message, "status": pe.Status}
		if pe.Code != "" {
			body["code"] = pe.Code
		}
		return pretty(body)
	case errors.As(err, &nf):
		body := map[string]any{"error": nf.Error(), "code": oa.NotFoundCode}
		if nf.NormalizedUsername != "" {
			body["normalizedUsername"] = nf.NormalizedUsername
		}
		return pretty(body)
	}
	return err.Error()
}

func pretty(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
