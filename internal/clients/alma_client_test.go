package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlmaClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "apikey k1", r.Header.Get("Authorization"))
		assert.Equal(t, "/almaws/v1/users/jdoe", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("view"))
		w.Write([]byte(`{"primary_id":"jdoe"}`))
	}))
	defer srv.Close()

	c := NewAlmaClient(srv.URL, "k1", 0)
	body, err := c.Do(context.Background(), http.MethodGet, "/almaws/v1/users/jdoe", url.Values{"view": {"full"}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"primary_id":"jdoe"}`, string(body))
}

func TestAlmaClientPutSendsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &got))
		w.Write(data)
	}))
	defer srv.Close()

	c := NewAlmaClient(srv.URL, "k1", 0)
	_, err := c.Do(context.Background(), http.MethodPut, "/almaws/v1/users/jdoe", nil, map[string]string{"job_description": "OpenAthens: x"})
	require.NoError(t, err)
	assert.Equal(t, "OpenAthens: x", got["job_description"])
}

func TestAlmaClientErrorList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorsExist":true,"errorList":{"error":[{"errorCode":"401861","errorMessage":"User with identifier X was not found."}]}}`))
	}))
	defer srv.Close()

	c := NewAlmaClient(srv.URL, "k1", 0)
	_, err := c.Do(context.Background(), http.MethodGet, "/almaws/v1/users/X", nil, nil)

	var re *RESTError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.StatusCode())
	assert.Contains(t, err.Error(), "User with identifier X was not found.")
}

func TestAlmaErrorMessageShapes(t *testing.T) {
	assert.Equal(t, "boom", almaErrorMessage([]byte(`{"errorList":{"error":{"errorMessage":" boom "}}}`)))
	assert.Equal(t, "", almaErrorMessage([]byte(`not json`)))
	assert.Equal(t, "", almaErrorMessage([]byte(`{}`)))
}

func TestAlmaClientBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAlmaClient(srv.URL, "k1", 0)
	for i := 0; i < almaTripAfter; i++ {
		_, err := c.Do(context.Background(), http.MethodGet, "/almaws/v1/users/jdoe", nil, nil)
		var re *RESTError
		require.True(t, errors.As(err, &re))
	}

	_, err := c.Do(context.Background(), http.MethodGet, "/almaws/v1/users/jdoe", nil, nil)
	assert.ErrorIs(t, err, ErrAlmaUnavailable)
	assert.EqualValues(t, almaTripAfter, hits.Load())
}

func TestAlmaClientBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewAlmaClient(srv.URL, "k1", 0)
	for i := 0; i < almaTripAfter*2; i++ {
		_, err := c.Do(context.Background(), http.MethodGet, "/almaws/v1/users/ghost", nil, nil)
		assert.NotErrorIs(t, err, ErrAlmaUnavailable)
	}
}
