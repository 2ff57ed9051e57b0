package rag

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"nutrition-rag/internal/models"
)

var promptTemplate = prompts.NewPromptTemplate(models.PromptTemplate, []string{"context", "question"})

// Compose fills the instruction template with the retrieved chunks and the
// question. Blank chunks are skipped; with none left it returns
// models.ErrEmptyContext.
func Compose(chunks []string, question string) (string, error) {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "", models.ErrEmptyContext
	}
	return promptTemplate.Format(map[string]any{
		"context":  strings.Join(parts, models.ContextSeparator),
		"question": question,
	})
}
