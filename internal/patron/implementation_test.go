package patron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type restCall struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

// fakeREST serves canned responses keyed by method and path, and by the q
// parameter for listings.
type fakeREST struct {
	records  map[string]string
	searches map[string]string
	putErr   error
	putReply string
	calls    []restCall
}

func (f *fakeREST) Do(_ context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	call := restCall{Method: method, Path: path, Query: query}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		call.Body = data
	}
	f.calls = append(f.calls, call)

	switch {
	case method == http.MethodGet && path == usersPath:
		if resp, ok := f.searches[query.Get("q")]; ok {
			return []byte(resp), nil
		}
		return []byte(`{"total_record_count":0}`), nil
	case method == http.MethodGet:
		if rec, ok := f.records[path]; ok {
			return []byte(rec), nil
		}
		return nil, statusErr(http.StatusNotFound)
	case method == http.MethodPut:
		if f.putErr != nil {
			return nil, f.putErr
		}
		if f.putReply != "" {
			return []byte(f.putReply), nil
		}
		return call.Body, nil
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeREST) count(method string) int {
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func TestGetRecordQuery(t *testing.T) {
	rest := &fakeREST{records: map[string]string{usersPath + "/jdoe": fullRecord}}
	svc := NewService(rest, nil)

	r, err := svc.GetRecord(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "Jane", r.FirstName)

	q := rest.calls[0].Query
	assert.Equal(t, "full", q.Get("view"))
	assert.Equal(t, "none", q.Get("expand"))
	assert.Equal(t, "json", q.Get("format"))
}

func TestGetRecordNotFound(t *testing.T) {
	svc := NewService(&fakeREST{}, nil)
	_, err := svc.GetRecord(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSearchFirstHitWins(t *testing.T) {
	rest := &fakeREST{searches: map[string]string{
		"last_name~Doe AND first_name~Jane": `{"user":[{"primary_id":"jdoe"}],"total_record_count":1}`,
	}}
	svc := NewService(rest, nil)

	page, err := svc.Search(context.Background(), "Jane Doe", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "last_name~Doe AND first_name~Jane", page.QueryUsed)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, 1, rest.count(http.MethodGet))
}

func TestSearchNextLinkCountsAsHit(t *testing.T) {
	rest := &fakeREST{searches: map[string]string{
		`all~"jdoe"`: `{"total_record_count":40,"link":{"@rel":"next","@href":"x"}}`,
	}}
	svc := NewService(rest, nil)

	page, err := svc.Search(context.Background(), "jdoe", 20, 20)
	require.NoError(t, err)
	assert.Equal(t, `all~"jdoe"`, page.QueryUsed)
	assert.Equal(t, 20, page.Offset)
}

func TestSearchFallsBackToFirstAttempt(t *testing.T) {
	rest := &fakeREST{}
	svc := NewService(rest, nil)

	page, err := svc.Search(context.Background(), "jane@x.edu", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "email~jane@x.edu", page.QueryUsed)
	assert.Empty(t, page.Items)
	// two attempts plus the fallback re-run
	assert.Equal(t, 3, rest.count(http.MethodGet))
}

func TestSearchMoreReusesQuery(t *testing.T) {
	rest := &fakeREST{searches: map[string]string{
		"primary_id~p": `{"user":[{"primary_id":"p11"},{"primary_id":"p12"}],"total_record_count":12}`,
	}}
	svc := NewService(rest, nil)

	page, err := svc.SearchMore(context.Background(), "primary_id~p", 10, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 12, page.NextOffset)
	assert.False(t, page.HasMore)
	assert.Equal(t, "10", rest.calls[0].Query.Get("offset"))

	_, err = svc.SearchMore(context.Background(), "", 0, 10)
	assert.Error(t, err)
}

func TestWriteBackBothSingleSave(t *testing.T) {
	rest := &fakeREST{records: map[string]string{usersPath + "/jdoe": fullRecord}}
	svc := NewService(rest, nil)

	saved, err := svc.WriteBackBoth(context.Background(), "jdoe", "iast-jdoe", Target{
		IDTypeCode: "02",
		Primary:    FieldUserNote,
		Secondary:  FieldIdentifier,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rest.count(http.MethodGet))
	assert.Equal(t, 1, rest.count(http.MethodPut))

	put := rest.calls[len(rest.calls)-1]
	assert.Equal(t, "json", put.Query.Get("format"))
	assert.Equal(t, usersPath+"/jdoe", put.Path)

	assert.Equal(t, "iast-jdoe", ReadUsername(saved, FieldUserNote, "02"))
	assert.Equal(t, "iast-jdoe", FindExternalUsername(saved, "02"))
	assert.Equal(t, "Librarian", saved.JobDescription)
}

func TestWriteBackBothSaveFailure(t *testing.T) {
	rest := &fakeREST{
		records: map[string]string{usersPath + "/jdoe": fullRecord},
		putErr:  statusErr(http.StatusBadRequest),
	}
	svc := NewService(rest, nil)

	_, err := svc.WriteBackBoth(context.Background(), "jdoe", "iast-jdoe", Target{Primary: FieldJobDescription, Secondary: FieldNone})
	var wbe *WriteBackError
	require.True(t, errors.As(err, &wbe))
	assert.Equal(t, "jdoe", wbe.PrimaryID)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestWriteBackBothUnreadableReplyIsLogged(t *testing.T) {
	rest := &fakeREST{
		records:  map[string]string{usersPath + "/jdoe": fullRecord},
		putReply: `<user>not json</user>`,
	}
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(rest, zap.New(core).Sugar())

	saved, err := svc.WriteBackBoth(context.Background(), "jdoe", "iast-jdoe", Target{Primary: FieldJobDescription, Secondary: FieldNone})
	require.NoError(t, err)
	assert.Equal(t, "OpenAthens: iast-jdoe", saved.JobDescription)

	entries := logs.FilterMessage("could not parse saved user record").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "jdoe", entries[0].ContextMap()["patron"])
}

func TestNewServicePanicsWithoutREST(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, nil) })
}
