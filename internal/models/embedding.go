package models

import "strconv"

// Record is one data row of the dataset serialized as "column: value" lines.
type Record struct {
	Source string            `json:"source"`
	Row    int               `json:"row"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Chunk represents a piece of a record's text bounded by the chunk size
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Row    int    `json:"row"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
}

// ChunkID builds the identifier of the index-th chunk of a row.
func ChunkID(row, index int) string {
	return strconv.Itoa(row) + "-" + strconv.Itoa(index)
}

// Entry pairs a chunk with its embedding. Ordinal is the insertion position
// and breaks ties between equal scores.
type Entry struct {
	Ordinal int
	Chunk   Chunk
	Vector  []float32
}

type Hit struct {
	Chunk   Chunk   `json:"chunk"`
	Score   float32 `json:"score"`
	Ordinal int     `json:"ordinal"`
}

// Answer is the response for one question.
type Answer struct {
	Question string `json:"question"`
	Text     string `json:"answer"`
	Sources  []Hit  `json:"sources,omitempty"`
	Grounded bool   `json:"grounded"`
}
