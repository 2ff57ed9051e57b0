package llmservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"nutrition-rag/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"openai 401", errors.New("API returned unexpected status code: 401: Incorrect API key provided"), models.ErrCredential},
		{"google key", errors.New("googleapi: Error 400: API key not valid. Please pass a valid API key."), models.ErrCredential},
		{"grpc denied", errors.New("rpc error: code = PermissionDenied desc = denied"), models.ErrCredential},
		{"rate limit", errors.New("API returned unexpected status code: 429: Rate limit reached"), models.ErrRetryable},
		{"unavailable", errors.New("rpc error: code = Unavailable desc = overloaded"), models.ErrRetryable},
		{"server error", errors.New("status code: 503"), models.ErrRetryable},
		{"deadline", context.DeadlineExceeded, models.ErrRetryable},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")}, models.ErrRetryable},
		{"eof", fmt.Errorf("reading body: %w", io.EOF), models.ErrRetryable},
		{"unexpected eof", fmt.Errorf("decoding response: %w", io.ErrUnexpectedEOF), models.ErrRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tc.err), tc.want)
		})
	}
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	err := errors.New("model returned malformed JSON")
	got := Classify(err)
	assert.Same(t, err, got)
	assert.NotErrorIs(t, got, models.ErrRetryable)
	assert.NotErrorIs(t, got, models.ErrCredential)

	for _, msg := range []string{"unknown field \"geoffrey\"", "model does not support thereof"} {
		assert.NotErrorIs(t, Classify(errors.New(msg)), models.ErrRetryable, msg)
	}

	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, Classify(context.Canceled), models.ErrRetryable)
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	err := fmt.Errorf("%w: missing", models.ErrCredential)
	assert.Same(t, err, Classify(err))
}
