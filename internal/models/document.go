package models

import "time"

// Document is the raw text of one collected file.
type Document struct {
	SourcePath string
	Content    string
}

// Chunk is a window of a Document, the unit of embedding and retrieval.
type Chunk struct {
	SourcePath string `json:"source_path"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

type SearchResult struct {
	Chunk Chunk
	Score float32
}

// Answer is the model response to a single question.
type Answer struct {
	Text    string
	Sources []string
}

// IndexReport summarises a successful indexing run.
type IndexReport struct {
	RepoURL        string        `json:"repo_url"`
	Documents      int           `json:"documents"`
	Chunks         int           `json:"chunks"`
	Skipped        int           `json:"skipped"`
	DecodeWarnings int           `json:"decode_warnings"`
	Dimension      int           `json:"dimension"`
	Duration       time.Duration `json:"duration_ns"`
}
