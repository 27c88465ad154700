package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valdren309/oa-compass-admin/internal/oa"
	"github.com/valdren309/oa-compass-admin/internal/patron"
	"github.com/valdren309/oa-compass-admin/internal/settings"
)

// busyService reports every action as already running.
type busyService struct{}

func (busyService) Create(context.Context, string) (*Outcome, error) { return nil, ErrInProgress }
func (busyService) Sync(context.Context, string) (*Outcome, error)   { return nil, ErrInProgress }
func (busyService) Verify(context.Context, string) (*Outcome, error) { return nil, ErrInProgress }
func (busyService) ResendActivation(context.Context, string) (*Outcome, error) {
	return nil, ErrInProgress
}

func newPanel(t *testing.T, f *fixture, svc Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(svc, patron.NewService(f.alma, nil), f.settings, nil).Routes(r)
	return r
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) Outcome {
	t.Helper()
	var out Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerDebugVisibility(t *testing.T) {
	f := newFixture(t, completePatron)
	h := newPanel(t, f, f.svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patrons/jdoe/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, ResultNotFound, out.Result)
	assert.NotEmpty(t, out.DebugText, "institution default shows debug")

	off := false
	_, err := f.settings.SaveUserPrefs(context.Background(), "staff1", settings.UserPrefs{ShowDebugPanel: &off})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/patrons/jdoe/verify", nil)
	req.Header.Set(StaffUserHeader, "staff1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, decodeOutcome(t, rec).DebugText)

	req = httptest.NewRequest(http.MethodPost, "/patrons/jdoe/verify?debug=1", nil)
	req.Header.Set(StaffUserHeader, "staff1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, decodeOutcome(t, rec).DebugText)
}

func TestHandlerCreateEndToEnd(t *testing.T) {
	f := newFixture(t, completePatron)
	f.gw.createRes = &oa.CreateResult{Created: true, Summary: &oa.Summary{Username: "iast-new"}}
	h := newPanel(t, f, f.svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patrons/jdoe/create", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeOutcome(t, rec)
	assert.Equal(t, ResultCreated, out.Result)
	assert.True(t, out.NeedsReload)
	assert.Equal(t, "OpenAthens: iast-new", f.alma.record(t, "jdoe").JobDescription)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	newPanel(t, f, busyService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patrons/jdoe/sync", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	newPanel(t, f, f.svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patrons/ghost/create", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	newPanel(t, f, f.svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patrons/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerBlankSearchTermRejected(t *testing.T) {
	f := newFixture(t)
	h := newPanel(t, f, f.svc)

	for _, path := range []string{"/patrons/search?q=%20%20", "/patrons/search/more?query=%09"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Zero(t, f.alma.calls, "no library query for a blank term")
}

func TestPaging(t *testing.T) {
	offset, limit := paging(httptest.NewRequest(http.MethodGet, "/?offset=-4&limit=1000", nil))
	assert.Equal(t, 0, offset)
	assert.Equal(t, 10, limit)

	offset, limit = paging(httptest.NewRequest(http.MethodGet, "/?offset=20&limit=25", nil))
	assert.Equal(t, 20, offset)
	assert.Equal(t, 25, limit)
}
