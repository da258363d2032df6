// Package httpretry sends HTTP requests to third-party REST APIs with
// exponential backoff on transient failures (network errors, 429, 5xx).
package httpretry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// maxErrorBody is how much of a failed response body is kept in StatusError.
const maxErrorBody = 512

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries up to 4 attempts, backing off from 1s to 15s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
	}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// RequestFunc builds a fresh request for each attempt, so bodies backed by
// files or buffers can be re-read.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do sends the request, retrying transient failures per policy. The
// returned response may still carry a non-2xx status once attempts are
// exhausted; use CheckStatus to turn it into an error.
func Do(ctx context.Context, client *http.Client, policy Policy, newReq RequestFunc) (*http.Response, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	for attempt := 1; ; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		last := attempt >= policy.MaxAttempts

		switch {
		case err != nil:
			if last || ctx.Err() != nil {
				return nil, fmt.Errorf("%s %s: %w", req.Method, redact(req), err)
			}
		case !retryable(resp.StatusCode) || last:
			log.Debug().
				Str("method", req.Method).
				Str("host", req.URL.Host).
				Int("statusCode", resp.StatusCode).
				Int("attempt", attempt).
				Dur("duration", time.Since(start)).
				Msg("HTTP response")
			return resp, nil
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = b.MaxInterval
		}
		if resp != nil {
			if ra := retryAfter(resp); ra > 0 {
				sleep = ra
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		evt := log.Warn().
			Str("method", req.Method).
			Str("host", req.URL.Host).
			Int("attempt", attempt).
			Dur("retryIn", sleep)
		if err != nil {
			evt = evt.Err(err)
		} else {
			evt = evt.Int("statusCode", resp.StatusCode)
		}
		evt.Msg("Transient HTTP failure, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// CheckStatus returns a *StatusError (consuming the body) when resp is not
// 2xx, or nil otherwise.
func CheckStatus(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// redact drops the query string and masks Telegram-style /bot<token>
// path segments, since both carry credentials.
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	if strings.HasPrefix(u.Path, "/bot") {
		if _, rest, ok := strings.Cut(u.Path[1:], "/"); ok {
			u.Path = "/bot***/" + rest
		} else {
			u.Path = "/bot***"
		}
		u.RawPath = ""
	}
	return u.String()
}
