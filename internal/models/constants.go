package models

import _ "embed"

const (
	ContextSeparator = "\n---\n"
	FallbackAnswer   = "Bu bilgi veri setinde bulunmamaktadır."

	// PromptVersion changes whenever prompt.tmpl changes.
	PromptVersion = "tr-nutrition-v1"

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 5
)

// DefaultSeparators are tried in order; the empty string allows a hard cut.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// PromptTemplate is the instruction sent to the generative model. It expects
// the variables context and question.
//
//go:embed prompt.tmpl
var PromptTemplate string
