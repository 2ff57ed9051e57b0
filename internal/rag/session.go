package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"nutrition-rag/internal/helper"
	"nutrition-rag/internal/models"
)

// Session owns the process-wide pipeline and builds it on first use.
type Session struct {
	pipeline *Pipeline
	once     sync.Once
	err      error
}

func NewSession(p *Pipeline) *Session {
	return &Session{pipeline: p}
}

// GetOrBuild runs Build at most once and returns the same outcome on every
// call.
func (s *Session) GetOrBuild(ctx context.Context) (*Pipeline, error) {
	s.once.Do(func() {
		s.err = s.pipeline.Build(ctx)
	})
	return s.pipeline, s.err
}

func (s *Session) Pipeline() *Pipeline {
	return s.pipeline
}

func (s *Session) Status() string {
	return s.pipeline.Status()
}

func (s *Session) State() State {
	return s.pipeline.State()
}

// Reply is the outcome of one handled question.
type Reply struct {
	RequestID string        `json:"request_id"`
	Answer    models.Answer `json:"answer"`
	Err       error         `json:"-"`
	Message   string        `json:"message,omitempty"`
}

func (r Reply) OK() bool {
	return r.Err == nil
}

// Handle answers question, building the pipeline first if needed. Errors
// come back in the Reply with a user message.
func (s *Session) Handle(ctx context.Context, question string) Reply {
	reply := Reply{RequestID: helper.RequestID()}
	logger := log.With().Str("request_id", reply.RequestID).Logger()

	p, err := s.GetOrBuild(ctx)
	if err == nil {
		reply.Answer, err = p.Ask(ctx, question)
	}
	if err != nil {
		reply.Err = err
		reply.Message = UserMessage(err)
		logger.Error().Err(err).Msg("Question failed")
		return reply
	}
	logger.Info().
		Str("question", reply.Answer.Question).
		Int("sources", len(reply.Answer.Sources)).
		Bool("grounded", reply.Answer.Grounded).
		Msg("Question answered")
	return reply
}

// UserMessage turns an error into a Turkish message for the end user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrCredential):
		return "Hata: API anahtarı bulunamadı veya geçersiz. Lütfen '.env' dosyasını kontrol edin."
	case errors.Is(err, models.ErrDataAccess):
		return "HATA: Veri yüklenirken bir sorun oluştu. Dosya yolu doğru mu?"
	case errors.Is(err, models.ErrNotReady):
		return "RAG Asistanı şu an kullanılamıyor. Lütfen hata mesajlarını kontrol edin."
	case errors.Is(err, ErrEmptyQuestion):
		return "Lütfen bir soru yazın."
	case errors.Is(err, models.ErrEmptyContext):
		return models.FallbackAnswer
	case errors.Is(err, models.ErrGeneration), errors.Is(err, models.ErrRetryable):
		return "HATA: Soru yanıtlanırken bir sorun oluştu. Lütfen tekrar deneyin."
	default:
		return "HATA: Beklenmeyen bir sorun oluştu."
	}
}
