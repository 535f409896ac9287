package validator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestValidateFound(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		w.Header().Set("Content-Length", "12345")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v := New(WithHTTPClient(server.Client()), WithRatePerSecond(0))
	res, err := v.Validate(context.Background(), server.URL+"/cover.jpg")
	require.NoError(t, err)

	assert.True(t, res.Found)
	require.NotNil(t, res.LastModified)
	assert.True(t, modified.Equal(*res.LastModified))
	require.NotNil(t, res.ContentLength)
	assert.Equal(t, int64(12345), *res.ContentLength)
}

func TestValidateFallsBackToGet(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	v := New(WithHTTPClient(server.Client()), WithRatePerSecond(0))
	res, err := v.Validate(context.Background(), server.URL)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
	assert.Nil(t, res.LastModified)
}

func TestValidateNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v := New(WithHTTPClient(server.Client()), WithRatePerSecond(0))
	res, err := v.Validate(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestValidateUnreachableIsNotFound(t *testing.T) {
	v := New(WithRatePerSecond(0), WithHTTPClient(doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, &url.Error{Op: "Head", URL: "http://x", Err: errors.New("connection refused")}
	})))

	res, err := v.Validate(context.Background(), "http://unreachable.test/a.jpg")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestValidateTimeoutIsError(t *testing.T) {
	v := New(WithRatePerSecond(0), WithHTTPClient(doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, &url.Error{Op: "Head", URL: "http://x", Err: timeoutError{}}
	})))

	_, err := v.Validate(context.Background(), "http://slow.test/a.jpg")
	assert.Error(t, err)
}

func TestValidateRejectsBadURL(t *testing.T) {
	called := false
	v := New(WithRatePerSecond(0), WithHTTPClient(doerFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unexpected")
	})))

	for _, raw := range []string{"", "not a url", "ftp://host/file.jpg", "/relative.jpg"} {
		res, err := v.Validate(context.Background(), raw)
		require.NoError(t, err)
		assert.False(t, res.Found, raw)
	}
	assert.False(t, called)
}
