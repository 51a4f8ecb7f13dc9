package provider

import (
	"context"
	"errors"
	"time"

	"cypher/model"
)

// RetryConfig controls transport retries for a wrapped client.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	ShouldRetry func(error) bool
}

// WrapRetry wraps a client with error-only retries. The agent engine never
// retries on its own; hosts opt in by wrapping the client they hand it.
func WrapRetry(next model.Client, cfg RetryConfig) model.Client {
	if next == nil || cfg.MaxAttempts <= 1 {
		return next
	}
	return &retryClient{next: next, cfg: cfg}
}

type retryClient struct {
	next model.Client
	cfg  RetryConfig
}

func (c *retryClient) Provider() model.Provider { return c.next.Provider() }

func (c *retryClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.next.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == c.cfg.MaxAttempts || !c.shouldRetry(ctx, err) {
			break
		}
		if c.cfg.Backoff > 0 {
			timer := time.NewTimer(c.cfg.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
		}
	}
	return nil, lastErr
}

func (c *retryClient) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if c.cfg.ShouldRetry != nil {
		return c.cfg.ShouldRetry(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
