package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/models"
)

type reply struct {
	text string
	err  error
}

type fakeModel struct {
	replies     []reply
	calls       int
	prompts     []string
	temperature float64
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	m.temperature = o.Temperature
	for _, part := range msgs[0].Parts {
		if tc, ok := part.(llms.TextContent); ok {
			m.prompts = append(m.prompts, tc.Text)
		}
	}
	r := m.replies[min(m.calls, len(m.replies)-1)]
	m.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r.text}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{Provider: config.ProviderGoogleAI, Model: "gemini-2.5-flash", Temperature: 0.1, TimeoutSecs: 5, MaxRetries: 1}
}

func TestGenerateTrimsCompletion(t *testing.T) {
	m := &fakeModel{replies: []reply{{text: "  Bir muz yaklaşık 105 kaloridir.\n"}}}
	c := NewClientWithModel(m, testConfig())

	out, err := c.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "Bir muz yaklaşık 105 kaloridir.", out)
	assert.Equal(t, []string{"prompt text"}, m.prompts)
	assert.InDelta(t, 0.1, m.temperature, 1e-9)
}

func TestGenerateRetriesTransientOnce(t *testing.T) {
	m := &fakeModel{replies: []reply{
		{err: errors.New("status code: 503")},
		{text: "tamam"},
	}}
	out, err := NewClientWithModel(m, testConfig()).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "tamam", out)
	assert.Equal(t, 2, m.calls)
}

func TestGenerateGivesUpAfterOneRetry(t *testing.T) {
	m := &fakeModel{replies: []reply{{err: errors.New("status code: 503")}}}
	_, err := NewClientWithModel(m, testConfig()).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.ErrorIs(t, err, models.ErrRetryable)
	assert.Equal(t, 2, m.calls)
}

func TestGenerateDoesNotRetryCredentialErrors(t *testing.T) {
	m := &fakeModel{replies: []reply{{err: errors.New("status code: 401: unauthorized")}}}
	_, err := NewClientWithModel(m, testConfig()).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.ErrorIs(t, err, models.ErrCredential)
	assert.Equal(t, 1, m.calls)
}

func TestGenerateEmptyCompletion(t *testing.T) {
	m := &fakeModel{replies: []reply{{text: "   "}}}
	_, err := NewClientWithModel(m, testConfig()).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGeneration)
}

func TestNewClientWithoutKeyMakesNoClient(t *testing.T) {
	cfg := testConfig()
	cfg.KeyEnv = "GEMINI_API_KEY"
	c, err := NewClient(context.Background(), cfg)
	assert.ErrorIs(t, err, models.ErrCredential)
	assert.Nil(t, c)
}
