package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"parlo/internal/connectivity"
	"parlo/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func fastConfig() Config {
	return Config{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		Jitter:     time.Millisecond,
	}
}

func TestDoWithRetry_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	g := New(connectivity.Static{Reachable: true}, fastConfig())

	resp, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoWithRetry_OfflineRaisesImmediately(t *testing.T) {
	buildCalls := 0

	g := New(connectivity.Static{Reachable: false}, fastConfig())

	_, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
		buildCalls++
		return http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	})

	require.Error(t, err)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorNetwork, ce.Type)
	assert.Equal(t, 0, buildCalls, "offline check must fail before the fetch is attempted")
}

func TestDoWithRetry_NetworkErrorRetriedAtMostTwice(t *testing.T) {
	// A server that is immediately closed yields connection-refused on
	// every attempt.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	attempts := 0
	g := New(connectivity.Static{Reachable: true}, fastConfig())

	_, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
		attempts++
		return http.NewRequest(http.MethodGet, url, nil)
	})

	require.Error(t, err)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorNetwork, ce.Type)
	assert.Equal(t, 2, attempts)
}

func TestDoWithRetry_TimeoutNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Timeout = 50 * time.Millisecond

	attempts := 0
	g := New(connectivity.Static{Reachable: true}, cfg)

	_, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
		attempts++
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.Error(t, err)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorTimeout, ce.Type)
	assert.Equal(t, 1, attempts, "the first timeout aborts the whole operation")
}

func TestDoWithRetry_ServerErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"backend exploded"}`))
	}))
	defer srv.Close()

	g := New(connectivity.Static{Reachable: true}, fastConfig())

	_, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.Error(t, err)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorServer, ce.Type)
	assert.Equal(t, "backend exploded", ce.Message)
	assert.Equal(t, 1, attempts)
}

func TestDoWithRetry_RepeatedQuotaStaysQuota(t *testing.T) {
	// Quota responses prove the backend is reachable; a run of them must
	// not open the breaker and turn later ones into network errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"monthly quota exceeded"}`))
	}))
	defer srv.Close()

	g := New(connectivity.Static{Reachable: true}, fastConfig())

	for i := 1; i <= 8; i++ {
		_, err := g.DoWithRetry(context.Background(), func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		require.Error(t, err)

		var ce *ClassifiedError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ErrorQuota, ce.Type, "call %d", i)
	}
}

func TestDo_QuotaFrom403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"monthly quota exceeded"}`))
	}))
	defer srv.Close()

	g := New(connectivity.Static{Reachable: true}, fastConfig())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = g.Do(context.Background(), req)
	require.Error(t, err)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorQuota, ce.Type)
	assert.Equal(t, "monthly quota exceeded", ce.Message)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{
			name:     "offline sentinel",
			err:      ErrOffline,
			expected: ErrorNetwork,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			expected: ErrorTimeout,
		},
		{
			name:     "http 500",
			err:      &StatusError{Status: 500, Message: "internal"},
			expected: ErrorServer,
		},
		{
			name:     "http 403",
			err:      &StatusError{Status: 403, Message: "forbidden"},
			expected: ErrorQuota,
		},
		{
			name:     "quota in message",
			err:      errors.New("daily quota exhausted"),
			expected: ErrorQuota,
		},
		{
			name:     "network request failed message",
			err:      errors.New("network request failed"),
			expected: ErrorNetwork,
		},
		{
			name:     "anything else",
			err:      errors.New("malformed request"),
			expected: ErrorUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			assert.Equal(t, tt.expected, ce.Type)
		})
	}
}

func TestClassify_PreservesUnknownMessage(t *testing.T) {
	ce := Classify(errors.New("something odd happened"))
	assert.Equal(t, ErrorUnknown, ce.Type)
	assert.Equal(t, "something odd happened", ce.Message)
}

func TestClassify_Passthrough(t *testing.T) {
	orig := &ClassifiedError{Type: ErrorQuota, Message: "quota"}
	assert.Same(t, orig, Classify(orig))
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{
			name:     "detail field",
			status:   500,
			body:     `{"detail":"db unavailable"}`,
			expected: "db unavailable",
		},
		{
			name:     "message field",
			status:   400,
			body:     `{"message":"bad payload"}`,
			expected: "bad payload",
		},
		{
			name:     "non-json body",
			status:   502,
			body:     `<html>Bad Gateway</html>`,
			expected: "Error: 502 Bad Gateway",
		},
		{
			name:     "empty body",
			status:   404,
			body:     "",
			expected: "Error: 404 Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expected, ParseErrorResponse(resp))
		})
	}
}
