package notify

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/signetcrm/server/internal/model"
)

// RetryDispatcher wraps a Dispatcher with bounded fibonacci backoff. Delivery
// is best-effort: callers log the final error and move on, since a committed
// transition must never be rolled back over a notification failure.
type RetryDispatcher struct {
	inner       Dispatcher
	maxAttempts uint64
	base        time.Duration
}

// WithRetry wraps d so every send is retried up to maxAttempts times.
func WithRetry(d Dispatcher, maxAttempts uint64, base time.Duration) *RetryDispatcher {
	return &RetryDispatcher{inner: d, maxAttempts: maxAttempts, base: base}
}

func (d *RetryDispatcher) backoff() retry.Backoff {
	return retry.WithMaxRetries(d.maxAttempts, retry.NewFibonacci(d.base))
}

func (d *RetryDispatcher) SendSignatureRequest(ctx context.Context, to, signerName, link string, expiresAt time.Time) error {
	return retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		if err := d.inner.SendSignatureRequest(ctx, to, signerName, link, expiresAt); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (d *RetryDispatcher) SendOTPCode(ctx context.Context, channel model.OTPChannel, to, code string, expiresAt time.Time) error {
	return retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		if err := d.inner.SendOTPCode(ctx, channel, to, code, expiresAt); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (d *RetryDispatcher) SendSignedConfirmation(ctx context.Context, to, documentURL, certificateURL string) error {
	return retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		if err := d.inner.SendSignedConfirmation(ctx, to, documentURL, certificateURL); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
