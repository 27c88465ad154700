package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valdren309/oa-compass-admin/internal/oa"
)

// stubGateway answers every call with the configured result or error.
type stubGateway struct {
	err     error
	account string
	lastReq any
}

func (s *stubGateway) Verify(_ context.Context, l oa.Lookup) (*oa.VerifyResult, error) {
	s.lastReq = l
	if s.err != nil {
		return nil, s.err
	}
	u := "iast-" + l.Username
	return &oa.VerifyResult{Found: true, NormalizedUsername: &u, Raw: json.RawMessage(`{"total":1}`)}, nil
}

func (s *stubGateway) Get(_ context.Context, l oa.Lookup) (*oa.GetResult, error) {
	s.lastReq = l
	if s.err != nil {
		return nil, s.err
	}
	var acc oa.Account
	if err := json.Unmarshal([]byte(s.account), &acc); err != nil {
		return nil, err
	}
	return &oa.GetResult{Account: acc}, nil
}

func (s *stubGateway) Create(_ context.Context, req oa.CreateRequest) (*oa.CreateResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &oa.CreateResult{Created: true, Raw: json.RawMessage(`{"id":"9"}`), Summary: &oa.Summary{ID: "9", Username: "iast-new"}}, nil
}

func (s *stubGateway) Modify(_ context.Context, req oa.ModifyRequest) (*oa.ModifyResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &oa.ModifyResult{Modified: true, ID: "9", Raw: json.RawMessage(`{}`)}, nil
}

func (s *stubGateway) ResendActivation(_ context.Context, l oa.Lookup) (*oa.ResendResult, error) {
	s.lastReq = l
	if s.err != nil {
		return nil, s.err
	}
	return &oa.ResendResult{Resent: true, ID: "9", Raw: json.RawMessage(`{}`)}, nil
}

func newRelayServer(t *testing.T, gw oa.Service) *RelayClient {
	t.Helper()
	r := chi.NewRouter()
	oa.NewHandler(gw, nil, 0).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewRelayClient(srv.URL+"/", 0)
}

func TestRelayClientSuccessPaths(t *testing.T) {
	gw := &stubGateway{account: `{"id":"9","username":"iast-jdoe","memberOf":[{"name":"retiree"}],"extra":true}`}
	c := newRelayServer(t, gw)
	ctx := context.Background()

	v, err := c.Verify(ctx, oa.Lookup{Username: "jdoe"})
	require.NoError(t, err)
	assert.True(t, v.Found)
	require.NotNil(t, v.NormalizedUsername)
	assert.Equal(t, "iast-jdoe", *v.NormalizedUsername)

	g, err := c.Get(ctx, oa.Lookup{Email: "j@x.edu"})
	require.NoError(t, err)
	assert.Equal(t, "iast-jdoe", g.Account.Username)
	assert.Equal(t, []string{"retiree"}, g.Account.Groups)
	assert.Contains(t, string(g.Account.Raw), `"extra":true`)
	assert.Equal(t, oa.Lookup{Email: "j@x.edu"}, gw.lastReq)

	cr, err := c.Create(ctx, oa.CreateRequest{Email: "j@x.edu", FirstName: "J", LastName: "D", Expires: "2027-01-01", GroupCode: "05"})
	require.NoError(t, err)
	assert.True(t, cr.Created)
	assert.Equal(t, "iast-new", cr.Summary.Username)
	assert.Equal(t, oa.FlexString("05"), gw.lastReq.(oa.CreateRequest).GroupCode)

	m, err := c.Modify(ctx, oa.ModifyRequest{Username: "jdoe"})
	require.NoError(t, err)
	assert.True(t, m.Modified)

	rs, err := c.ResendActivation(ctx, oa.Lookup{ID: "9"})
	require.NoError(t, err)
	assert.True(t, rs.Resent)
}

func TestRelayClientErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"not found", &oa.NotFoundError{By: "username", NormalizedUsername: "iast-x"}, func(t *testing.T, err error) {
			var nf *oa.NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, "iast-x", nf.NormalizedUsername)
			assert.ErrorIs(t, err, oa.ErrNotFound)
		}},
		{"invalid", &oa.InvalidInputError{Invalid: map[string]string{"email": "invalid"}}, func(t *testing.T, err error) {
			var ie *oa.InvalidInputError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, "invalid", ie.Invalid["email"])
		}},
		{"input missing", oa.ErrInputMissing, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, oa.ErrInputMissing)
		}},
		{"config", &oa.ConfigError{Var: "OA_API_KEY"}, func(t *testing.T, err error) {
			var ce *oa.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "OA_API_KEY", ce.Var)
		}},
		{"ambiguous", oa.ErrAmbiguous, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, oa.ErrAmbiguous)
		}},
		{"provider", &oa.ProviderError{Op: "OA modify failed", Status: http.StatusBadGateway, Code: "E1", Message: "upstream"}, func(t *testing.T, err error) {
			var pe *oa.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, http.StatusBadGateway, pe.Status)
			assert.Equal(t, "E1", pe.Code)
			assert.Equal(t, "upstream", pe.Message)
			assert.Equal(t, "OA modify failed", pe.Op)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRelayServer(t, &stubGateway{err: tt.err})
			_, err := c.Modify(context.Background(), oa.ModifyRequest{Username: "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRelayClientPlainNotFoundIsNotAnAccountAnswer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := NewRelayClient(srv.URL+"/wrong-prefix", 0)

	_, err := c.Get(context.Background(), oa.Lookup{Username: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, oa.ErrNotFound)
	var pe *oa.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusNotFound, pe.Status)
	assert.Empty(t, pe.Body)

	_, err = c.Modify(context.Background(), oa.ModifyRequest{Username: "x"})
	assert.NotErrorIs(t, err, oa.ErrNotFound)
}

func TestRelayClientTransportError(t *testing.T) {
	c := NewRelayClient("http://127.0.0.1:1", 0)
	_, err := c.Verify(context.Background(), oa.Lookup{Username: "x"})
	assert.Error(t, err)
	var pe *oa.ProviderError
	assert.False(t, errors.As(err, &pe))
}
