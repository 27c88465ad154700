package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valdren309/oa-compass-admin/internal/patron"
)

func TestInstitutionDefaults(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	inst, err := svc.Institution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultInstitution(), inst)
	assert.Equal(t, patron.Target{IDTypeCode: "02", Primary: patron.FieldJobDescription, Secondary: patron.FieldIdentifier}, inst.Target())
}

func TestInstitutionMergesStoredOverDefaults(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), institutionKey,
		[]byte(`{"proxyBaseUrl":" https://relay.example.edu/oa-proxy ","oaPrimaryField":"user_note","usernamePrefix":"legacy"}`)))
	svc := NewService(store, nil)

	inst, err := svc.Institution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.edu/oa-proxy", inst.ProxyBaseURL)
	assert.Equal(t, patron.FieldUserNote, inst.PrimaryField)
	assert.Equal(t, patron.FieldIdentifier, inst.SecondaryField)
	assert.Equal(t, "02", inst.OAIDTypeCode)
	assert.True(t, inst.ShowDebugPanel)
}

func TestInstitutionIgnoresPlainHTTPRelay(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), institutionKey, []byte(`{"proxyBaseUrl":"http://relay.local"}`)))
	svc := NewService(store, nil)

	inst, err := svc.Institution(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inst.ProxyBaseURL)
}

func TestSaveInstitutionRejectsNonePrimary(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	_, err := svc.SaveInstitution(context.Background(), Institution{PrimaryField: patron.FieldNone})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestUserPrefsInheritInstitution(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()
	inst := DefaultInstitution()

	prefs, err := svc.UserPrefs(ctx, "staff1")
	require.NoError(t, err)
	assert.True(t, prefs.DebugEnabled(inst))

	off := false
	_, err = svc.SaveUserPrefs(ctx, "staff1", UserPrefs{ShowDebugPanel: &off})
	require.NoError(t, err)
	prefs, err = svc.UserPrefs(ctx, "staff1")
	require.NoError(t, err)
	assert.False(t, prefs.DebugEnabled(inst))

	_, err = svc.UserPrefs(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestHandlerRoundTrip(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(NewService(NewMemoryStore(), nil)).Routes(r)

	req := httptest.NewRequest(http.MethodPut, "/settings/institution",
		strings.NewReader(`{"oaPrimaryField":"identifier02","oaSecondaryField":"user_note","oaIdTypeCode":"07"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings/institution", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"oaPrimaryField":"identifier_slot"`)
	assert.Contains(t, rec.Body.String(), `"oaIdTypeCode":"07"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings/institution", strings.NewReader(`{"oaPrimaryField":"barcode"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings/users/staff1", strings.NewReader(`{"showDebugPanel":false}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"showDebugPanel":false}`, rec.Body.String())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping: REDIS_ADDR not set")
	}
	client := NewRedisClient(addr, os.Getenv("REDIS_PASSWORD"), 0)
	if client == nil {
		t.Skipf("skipping: could not connect to redis at %s", addr)
	}
	defer client.Close()

	store := NewRedisStore(client, "oa-compass-test-"+uuid.NewString())
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte(`{"a":1}`)))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	assert.Nil(t, NewRedisClient("", "", 0))
	assert.Nil(t, NewRedisClient("127.0.0.1:1", "", 0))
}
