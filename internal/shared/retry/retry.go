package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"insurance-bot/internal/shared/metrics"
	"insurance-bot/internal/shared/telemetry"
)

// Policy bounds how often a collaborator call is attempted.
type Policy struct {
	Name            string
	MaxTries        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable decides whether a failure is worth another try. Transient is
	// used when nil.
	Retryable func(error) bool
}

// Default returns a three-try policy with a short exponential backoff.
func Default(name string) Policy {
	return Policy{
		Name:            name,
		MaxTries:        3,
		InitialInterval: 300 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, ctx ends or
// the policy runs out of tries.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	tries := p.MaxTries
	if tries < 1 {
		tries = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(tries-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		metrics.IncCollaboratorRetry(p.Name)
		telemetry.Warn("collaborator.retry", map[string]any{
			"collaborator": p.Name,
			"attempt":      attempt,
			"delay_ms":     delay.Milliseconds(),
			"error":        err,
		})
	}
	return backoff.RetryNotify(op, b, notify)
}

// Transient reports whether err looks like a timeout, a dropped connection or
// a server side failure.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "http status 429") || strings.Contains(msg, "rate limit") {
		return true
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}
