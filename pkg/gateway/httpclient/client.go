package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const maxBackoff = 2 * time.Second

// New returns the client used for blob store and other outbound calls.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Retry runs fn up to attempts times with exponential backoff.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	return RetryIf(ctx, attempts, baseDelay, func(error) bool { return true }, fn)
}

// RetryIf is Retry that gives up as soon as retryable rejects an error.
func RetryIf(ctx context.Context, attempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if i == attempts-1 || !retryable(err) {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return err
}

type statusCoder interface {
	HTTPStatusCode() int
}

// IsRetriable reports timeouts, throttling and server-side failures.
// Errors carrying an HTTP status (such as AWS SDK response errors) are
// judged by that status.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var withStatus statusCoder
	if errors.As(err, &withStatus) {
		code := withStatus.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
