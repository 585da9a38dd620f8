package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ngs.io/ph-pollution/internal/domain"
)

func newTestClient(cfg Config) (*Client, *[]time.Duration) {
	c := New(cfg, nil)
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, "ok")
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	c, waits := newTestClient(cfg)

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), srv.URL, nil, &buf)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, "ok", buf.String())
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{time.Second, 7 * time.Second}, *waits)
}

func TestDo_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	c, waits := newTestClient(cfg)

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrTransport)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.Contains(t, se.Body, "boom")
	require.Len(t, *waits, 2)
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(DefaultConfig())
	_, err := c.Get(context.Background(), srv.URL+"?token=secret", nil)
	require.ErrorIs(t, err, domain.ErrTransport)
	require.NotContains(t, err.Error(), "secret")
	require.Equal(t, int32(1), calls.Load())
}

func TestDo_BearerTokenAndBodyReplay(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var auth, bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		bodies = append(bodies, string(body))
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.TokenSource = StaticToken("edl-token")
	cfg.RetryPost = true
	c, _ := newTestClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int32(2), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Bearer edl-token", "Bearer edl-token"}, auth)
	require.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestDo_PostNotRetriedByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, waits := newTestClient(DefaultConfig())
	var out map[string]any
	err := c.PostJSON(context.Background(), srv.URL, nil, map[string]any{"inputs": 1}, &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, *waits)
}

func TestPostJSON(t *testing.T) {
	var mu sync.Mutex
	var gotType, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotType = r.Header.Get("Content-Type")
		gotKey = r.Header.Get("PRIVATE-TOKEN")
		gotBody = string(body)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"jobID":"j1"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(DefaultConfig())
	var out struct {
		JobID string `json:"jobID"`
	}
	err := c.PostJSON(context.Background(), srv.URL, http.Header{"PRIVATE-TOKEN": {"k"}}, map[string]int{"a": 1}, &out)
	require.NoError(t, err)
	require.Equal(t, "j1", out.JobID)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "k", gotKey)
	require.Equal(t, `{"a":1}`, gotBody)
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	c, waits := newTestClient(cfg)
	_, err := c.Get(context.Background(), url, nil)
	require.ErrorIs(t, err, domain.ErrTransport)
	require.ErrorContains(t, err, "giving up after 2 attempts")
	// No backoff after the last attempt.
	require.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestGetJSON(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get("X-Test"))
		w.Header().Set("CMR-Search-After", "cursor")
		_, _ = io.WriteString(w, `{"hits": 3}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(DefaultConfig())
	var out struct {
		Hits int `json:"hits"`
	}
	h, err := c.GetJSON(context.Background(), srv.URL, http.Header{"X-Test": {"abc"}}, &out)
	require.NoError(t, err)
	require.Equal(t, 3, out.Hits)
	require.Equal(t, "cursor", h.Get("CMR-Search-After"))
	require.Equal(t, "abc", gotHeader.Load())
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ok := retryAfter("12", now)
	require.True(t, ok)
	require.Equal(t, 12*time.Second, d)

	d, ok = retryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	require.Equal(t, 90*time.Second, d)

	_, ok = retryAfter("soon", now)
	require.False(t, ok)
	_, ok = retryAfter("", now)
	require.False(t, ok)
}

func TestBackoff(t *testing.T) {
	c := New(Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}, nil)
	require.Equal(t, time.Second, c.backoff(0))
	require.Equal(t, 4*time.Second, c.backoff(2))
	require.Equal(t, 5*time.Second, c.backoff(3))
}
