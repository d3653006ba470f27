package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(retries int) Options {
	opts := DefaultOptions()
	opts.MaxRetries = retries
	opts.BackoffFactor = time.Millisecond
	return opts
}

// statusSequence serves the given codes in order, then 200 forever
func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if int(n) <= len(codes) {
			w.WriteHeader(codes[n-1])
			_, _ = io.WriteString(w, "failed")
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransport_RetriesBadGatewayTransparently(t *testing.T) {
	srv, hits := statusSequence(t, http.StatusBadGateway, http.StatusBadGateway)
	client := New(fastOptions(5))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestTransport_RetriesBadRequest(t *testing.T) {
	srv, hits := statusSequence(t, http.StatusBadRequest)
	client := New(fastOptions(5))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(hits))
}

func TestTransport_DoesNotRetryOtherStatus(t *testing.T) {
	srv, hits := statusSequence(t, http.StatusNotFound)
	client := New(fastOptions(5))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestTransport_ReturnsFinalResponseWhenExhausted(t *testing.T) {
	srv, hits := statusSequence(t, 500, 500, 500, 500)
	client := New(fastOptions(2))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(hits), "one attempt plus two retries")
}

func TestTransport_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := New(fastOptions(3))
	// a plain io.Reader has no GetBody and must be buffered
	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader(`{"results":[]}`)))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{`{"results":[]}`, `{"results":[]}`}, bodies)
}

func TestTransport_RetriesNetworkErrors(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	})
	client := &http.Client{Transport: NewTransport(base, fastOptions(5))}

	resp, err := client.Get("http://allure.invalid/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 3, calls)
}

func TestTransport_NetworkErrorExhausted(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	client := &http.Client{Transport: NewTransport(base, fastOptions(1))}

	_, err := client.Get("http://allure.invalid/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 2, calls)
}

func TestTransport_ContextCancelStopsWaiting(t *testing.T) {
	srv, hits := statusSequence(t, 500, 500, 500)
	opts := fastOptions(5)
	opts.BackoffFactor = time.Hour
	client := New(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestTransport_BackoffSchedule(t *testing.T) {
	tr := NewTransport(nil, DefaultOptions())
	b := tr.newBackOff(context.Background())

	var got []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		300 * time.Millisecond,
		600 * time.Millisecond,
		1200 * time.Millisecond,
		2400 * time.Millisecond,
		4800 * time.Millisecond,
	}, got)
}
