package datawell

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverhub/internal/cache"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/model"
)

const hitBody = `{
	"hitCount": 1,
	"data": [{
		"pid": "870970-basis:12345678",
		"faust": "12345678",
		"title": "Kongens Fald",
		"creator": "Johannes V. Jensen",
		"date": "1901",
		"publisher": "Gyldendal",
		"collection": false,
		"identifiers": [
			{"type": "isbn", "id": "978-87-02-00000-1"},
			{"type": "isbn", "id": "9788702000001"},
			{"type": "ean", "id": "5700000000000"}
		]
	}]
}`

func newTestServer(t *testing.T, calls *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearchBuildsMaterial(t *testing.T) {
	var calls atomic.Int32
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		query = r.URL.Query().Get("q")
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "100200", r.URL.Query().Get("agency"))
		_, _ = w.Write([]byte(hitBody))
	}))
	defer server.Close()

	client := NewClient("100200", "opac", "secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimiter(nil))
	material, err := client.Search(context.Background(), "9788702000001", model.ISBN, false)
	require.NoError(t, err)

	assert.Equal(t, "term.isbn=9788702000001", query)
	assert.Equal(t, "Kongens Fald", material.Title)
	assert.Equal(t, "Gyldendal", material.Publisher)
	assert.False(t, material.IsCollection)
	assert.Equal(t, []model.MaterialIdentifier{
		{Type: model.PID, ID: "870970-basis:12345678"},
		{Type: model.FAUST, ID: "12345678"},
		{Type: model.ISBN, ID: "9788702000001"},
	}, material.Identifiers)
}

func TestSearchZeroHit(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, &calls, `{"hitCount":0,"data":[]}`)
	m := metrics.New()

	client := NewClient("", "", "", WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimiter(nil), WithMetrics(m))
	material, err := client.Search(context.Background(), "9780000000000", model.ISBN, false)
	require.NoError(t, err)
	assert.True(t, material.IsEmpty())
}

func TestSearchUnknownType(t *testing.T) {
	client := NewClient("", "", "", WithRateLimiter(nil))
	_, err := client.Search(context.Background(), "x", model.IdentifierType("ean"), false)
	assert.ErrorIs(t, err, ErrUnknownMaterialType)
}

func TestSearchUsesCache(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, &calls, hitBody)

	db, err := cache.NewCacheDB(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	client := NewClient("", "", "",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateLimiter(nil),
		WithCache(db, time.Hour, time.Minute),
	)
	ctx := context.Background()

	first, err := client.Search(ctx, "9788702000001", model.ISBN, false)
	require.NoError(t, err)
	second, err := client.Search(ctx, "9788702000001", model.ISBN, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	_, err = client.Search(ctx, "9788702000001", model.ISBN, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("", "", "", WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimiter(nil))
	_, err := client.Search(context.Background(), "1", model.ISBN, true)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimitError(err))
}

func TestSearchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("oops"))
	}))
	defer server.Close()

	client := NewClient("", "", "", WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimiter(nil))
	_, err := client.Search(context.Background(), "1", model.ISBN, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type flakyDoer struct {
	calls int
}

func (f *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls == 1 {
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: timeoutError{}}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(hitBody)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func TestSearchRetriesOnTimeout(t *testing.T) {
	doer := &flakyDoer{}
	client := NewClient("", "", "", WithHTTPClient(doer), WithRetryAttempts(2), WithRateLimiter(nil))

	material, err := client.Search(context.Background(), "9788702000001", model.ISBN, true)
	require.NoError(t, err)
	assert.Equal(t, 2, doer.calls)
	assert.False(t, material.IsEmpty())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&url.Error{Err: timeoutError{}}))
	assert.True(t, isRetryable(&url.Error{Err: errors.New("connection reset by peer")}))
	assert.False(t, isRetryable(&url.Error{Err: errors.New("bad request")}))
	assert.False(t, isRetryable(errors.New("plain")))
}

func TestBackoffDelayCaps(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 10*time.Second, backoffDelay(5))
}

func TestFaustQuery(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`{"hitCount":0}`))
	}))
	defer server.Close()

	client := NewClient("", "", "", WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimiter(nil))
	_, err := client.Search(context.Background(), "555", model.FAUST, true)
	require.NoError(t, err)
	assert.Equal(t, "rec.id=*:555", query)
}
