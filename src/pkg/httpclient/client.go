package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "httpclient")

// DefaultStatusForcelist are the status codes that trigger a retry.
// 400 is included for compatibility with existing Allure deployments.
var DefaultStatusForcelist = []int{
	http.StatusBadRequest,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusGatewayTimeout,
}

// Options configures the retry policy
type Options struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BackoffFactor is the delay before the first retry; each further retry doubles it
	BackoffFactor time.Duration
	// MaxBackoff caps a single delay
	MaxBackoff      time.Duration
	StatusForcelist []int
}

// DefaultOptions returns 5 retries, a 0.3s backoff factor and the default forcelist
func DefaultOptions() Options {
	return Options{
		MaxRetries:      5,
		BackoffFactor:   300 * time.Millisecond,
		MaxBackoff:      120 * time.Second,
		StatusForcelist: DefaultStatusForcelist,
	}
}

// Transport is an http.RoundTripper that retries network errors and
// forcelisted status codes with exponential backoff.
type Transport struct {
	Base http.RoundTripper

	opts      Options
	forcelist map[int]bool
}

// Ensure Transport implements http.RoundTripper
var _ http.RoundTripper = (*Transport)(nil)

// NewTransport wraps base, or http.DefaultTransport when base is nil
func NewTransport(base http.RoundTripper, opts Options) *Transport {
	if opts.StatusForcelist == nil {
		opts.StatusForcelist = DefaultStatusForcelist
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 120 * time.Second
	}
	forcelist := make(map[int]bool, len(opts.StatusForcelist))
	for _, code := range opts.StatusForcelist {
		forcelist[code] = true
	}
	return &Transport{
		Base:      base,
		opts:      opts,
		forcelist: forcelist,
	}
}

// New returns an http.Client whose every request goes through a retrying Transport
func New(opts Options) *http.Client {
	return &http.Client{Transport: NewTransport(nil, opts)}
}

// statusError marks a response whose status code is in the forcelist
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retryable status code %d", e.code)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.BackoffFactor
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = t.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.opts.MaxRetries)), ctx)
}

// RoundTrip sends req until it gets a response outside the forcelist or
// the retry budget runs out. An exhausted forcelisted status is returned
// as a normal response; an exhausted network error is returned as error.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		if resp != nil {
			discard(resp)
			resp = nil
		}
		attempt++

		outReq := req.Clone(ctx)
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return backoff.Permanent(errors.Wrap(err, "failed to rewind request body"))
			}
			outReq.Body = body
		}

		res, err := t.base().RoundTrip(outReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = res
		if t.forcelist[res.StatusCode] {
			return &statusError{code: res.StatusCode}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.WithField("method", req.Method).
			WithField("url", req.URL.Redacted()).
			WithField("attempt", attempt).
			WithField("error", err).
			WithField("wait", wait).
			Warn("Retrying request")
	}

	err = backoff.RetryNotify(operation, t.newBackOff(ctx), notify)
	if err == nil {
		return resp, nil
	}

	var se *statusError
	if errors.As(err, &se) && resp != nil {
		logger.WithField("method", req.Method).
			WithField("url", req.URL.Redacted()).
			WithField("attempts", attempt).
			WithField("status", resp.StatusCode).
			Warn("Retries exhausted")
		return resp, nil
	}
	if resp != nil {
		discard(resp)
	}
	return nil, err
}

// replayableBody returns a function producing a fresh copy of the request
// body for every attempt. Bodies without GetBody are buffered once.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "failed to buffer request body")
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
