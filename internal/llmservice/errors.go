package llmservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"

	"nutrition-rag/internal/models"
)

var (
	credentialStatusRe = regexp.MustCompile(`\b(401|403)\b`)
	retryableStatusRe  = regexp.MustCompile(`\b(408|429|500|502|503|504)\b`)

	credentialHints = []string{
		"unauthorized", "unauthenticated", "permissiondenied", "permission denied",
		"api key not valid", "invalid api key", "incorrect api key", "api_key_invalid",
	}
	retryableHints = []string{
		"resourceexhausted", "resource exhausted", "rate limit", "unavailable",
		"deadline exceeded", "timeout", "connection reset", "connection refused",
	}
)

// Classify tags a remote error as models.ErrCredential or models.ErrRetryable
// when it can tell, and returns other errors unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrCredential) || errors.Is(err, models.ErrRetryable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if credentialStatusRe.MatchString(msg) || containsAny(msg, credentialHints) {
		return fmt.Errorf("%w: %w", models.ErrCredential, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrRetryable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", models.ErrRetryable, err)
	}
	if retryableStatusRe.MatchString(msg) || containsAny(msg, retryableHints) {
		return fmt.Errorf("%w: %w", models.ErrRetryable, err)
	}
	return err
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
