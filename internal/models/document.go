// Package models defines the data structures shared by the index, search, and storage layers.
package models

import "time"

// VectorInput is one inbound vector for a document. EmbeddingID may be empty, in which
// case the index manager assigns one.
type VectorInput struct {
	EmbeddingID string    `json:"embedding_id,omitempty"`
	ChunkID     string    `json:"chunk_id,omitempty"`
	Vector      []float32 `json:"vector"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// VectorRecord is an indexed vector with its identifying metadata.
type VectorRecord struct {
	EmbeddingID string    `json:"embedding_id"`
	ChunkID     string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	Vector      []float32 `json:"vector"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	// Seq is the engine-wide insertion sequence number; lower means inserted earlier.
	Seq uint64 `json:"seq"`
}

// DocumentBatch is a set of vectors for one document, as accepted by the batch inbox.
type DocumentBatch struct {
	DocumentID string        `json:"document_id"`
	Vectors    []VectorInput `json:"vectors"`
}

// DocumentInfo describes one document index.
type DocumentInfo struct {
	DocumentID   string    `json:"document_id"`
	Dimension    int       `json:"dimension"`
	TotalVectors int       `json:"total_vectors"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IndexSummary is returned by a successful create-or-append.
type IndexSummary struct {
	DocumentID     string        `json:"document_id"`
	Inserted       int           `json:"inserted"`
	IndexSize      int           `json:"index_size"`
	Dimension      int           `json:"dimension"`
	Created        bool          `json:"created"`
	NonUnitVectors int           `json:"non_unit_vectors,omitempty"`
	EmbeddingIDs   []string      `json:"embedding_ids"`
	Elapsed        time.Duration `json:"-"`
	ElapsedMs      int64         `json:"elapsed_ms"`
}

// Stats are aggregate index statistics.
type Stats struct {
	TotalDocuments       int            `json:"total_documents"`
	TotalVectors         int            `json:"total_vectors"`
	DimensionPerDocument map[string]int `json:"dimension_per_document"`
	VectorsPerDocument   map[string]int `json:"vectors_per_document"`
}
