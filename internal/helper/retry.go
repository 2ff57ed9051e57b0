package helper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"nutrition-rag/internal/models"
)

var (
	retryBase = 200 * time.Millisecond
	retryMax  = 5 * time.Second
)

// RetryDelay is an exponential backoff capped at retryMax.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := retryBase << attempt
	if d > retryMax || d <= 0 {
		d = retryMax
	}
	return d
}

// Retry calls fn until it succeeds, returns an error that is not
// models.ErrRetryable, or maxRetries extra attempts are used up.
func Retry(ctx context.Context, op string, maxRetries int, fn func(ctx context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, models.ErrRetryable) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		delay := RetryDelay(attempt)
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("backoff", delay).Msg("Retrying remote call")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
