// Package readiness waits for a deployed web app to serve expected content.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gitdeploy/internal/deployerr"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultInterval       = 5 * time.Second
	DefaultTimeout        = 300 * time.Second

	// MaxBodyBytes bounds how much of each response is searched.
	MaxBodyBytes = 1 << 20
)

// Poller issues GET requests until a response body contains an expected
// substring or the overall timeout elapses.
type Poller struct {
	Client         *http.Client
	RequestTimeout time.Duration
	Interval       time.Duration

	logger *slog.Logger
}

// NewPoller returns a Poller with default timings. A nil logger discards.
func NewPoller(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		Client:         &http.Client{},
		RequestTimeout: DefaultRequestTimeout,
		Interval:       DefaultInterval,
		logger:         logger,
	}
}

// WaitForReady returns nil once url answers 2xx with a body containing
// expected. Every other outcome is retried after Interval until timeout has
// elapsed, at which point any in-flight request is aborted and a
// ReadinessTimeout error is returned. Cancellation of ctx yields Cancelled.
func (p *Poller) WaitForReady(ctx context.Context, url, expected string, timeout time.Duration) error {
	if timeout <= 0 {
		return deployerr.New(deployerr.ReadinessTimeout, "readiness timeout must be positive, got %s", timeout)
	}
	if err := ctx.Err(); err != nil {
		return deployerr.Wrap(deployerr.Cancelled, err, "readiness check of %s cancelled", url)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	attempts := 0
	var lastErr error

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(p.interval()))
	err := retry.Do(pollCtx, backoff, func(ctx context.Context) error {
		attempts++
		if err := p.check(ctx, url, expected); err != nil {
			// A request cut off by the overall deadline says nothing about the site.
			if pollCtx.Err() == nil || lastErr == nil {
				lastErr = err
			}
			p.logger.Debug("Readiness check failed", "url", url, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		p.logger.Info("Endpoint ready", "url", url, "attempts", attempts, "elapsed", time.Since(start))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return deployerr.Wrap(deployerr.Cancelled, ctxErr, "readiness check of %s cancelled after %d attempts", url, attempts)
	}

	if lastErr == nil {
		lastErr = err
	}
	p.logger.Warn("Endpoint not ready", "url", url, "attempts", attempts, "timeout", timeout, "error", lastErr)
	return deployerr.Wrap(deployerr.ReadinessTimeout, lastErr,
		"%s did not serve %q within %s (%d attempts)", url, expected, timeout, attempts)
}

func (p *Poller) check(ctx context.Context, url, expected string) error {
	reqTimeout := p.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = DefaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), expected) {
		return errors.New("response does not contain expected content")
	}
	return nil
}

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}
