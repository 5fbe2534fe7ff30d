package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryConfig bounds retries of transient network failures on clone and
// push. Auth failures, rejections, and not-found errors are never retried.
type RetryConfig struct {
	MaxRetries        int           // retries after the first attempt
	InitialBackoff    time.Duration // backoff before the first retry
	MaxBackoff        time.Duration // backoff ceiling
	BackoffMultiplier float64       // growth factor per retry
}

// DefaultRetryConfig returns the retry policy used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        15 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff runs fn, retrying with exponential backoff while fn
// returns a transient error. Non-transient errors propagate immediately.
func retryWithBackoff(ctx context.Context, logger *slog.Logger, operation string, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "op", operation, "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}

		logger.Warn("transient failure, retrying", "op", operation,
			"attempt", attempt+1, "max", cfg.MaxRetries+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
	}

	return lastErr
}

// isTransient reports whether an error looks like a temporary network
// condition worth retrying. Auth failures and rejections are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	switch KindOf(err) {
	case KindAuthFailure, KindPushRejected, KindBranchConflict, KindNothingToCommit:
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"could not resolve host",
		"connection refused",
		"connection reset",
		"connection timed out",
		"operation timed out",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"early eof",
		"remote end hung up",
		"503",
		"502",
		"500",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
