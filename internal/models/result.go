package models

// SearchResult is a single similarity hit.
type SearchResult struct {
	EmbeddingID     string    `json:"embedding_id"`
	ChunkID         string    `json:"chunk_id"`
	DocumentID      string    `json:"document_id"`
	SimilarityScore float64   `json:"similarity_score"`
	Rank            int       `json:"rank"`
	Metadata        Metadata  `json:"metadata,omitempty"`
	Vector          []float32 `json:"vector,omitempty"`
	Seq             uint64    `json:"-"`
}

// SearchStats describes the work done by one search.
type SearchStats struct {
	DocumentsSearched int   `json:"documents_searched"`
	TotalCandidates   int   `json:"total_candidates"` // candidates at or above the threshold
	SearchTimeMs      int64 `json:"search_time_ms"`
}

// SearchResponse is the ranked result of a search, best first.
type SearchResponse struct {
	SearchID   string          `json:"search_id"`
	Results    []*SearchResult `json:"results"`
	TotalFound int             `json:"total_found"`
	// SkippedDocuments are documents in scope whose dimension differs from the query.
	SkippedDocuments []string `json:"skipped_documents,omitempty"`
	// MissingDocuments are requested documents that are not indexed.
	MissingDocuments []string    `json:"missing_documents,omitempty"`
	Warnings         []string    `json:"warnings,omitempty"`
	Stats            SearchStats `json:"stats"`
}
