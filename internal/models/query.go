package models

import "math"

// SearchQuery is a similarity search request. DocumentID restricts the scope to one
// document; DocumentIDs to a subset; neither searches all documents.
type SearchQuery struct {
	QueryVector         []float32 `json:"query_vector"`
	DocumentID          string    `json:"document_id,omitempty"`
	DocumentIDs         []string  `json:"document_ids,omitempty"`
	TopK                int       `json:"top_k"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	IncludeVectors      bool      `json:"include_vectors,omitempty"`
}

// Validate checks the query. The threshold is accepted as any number; values outside
// [-1, 1] simply let everything or nothing through.
func (q *SearchQuery) Validate() error {
	if q.TopK <= 0 {
		return Errorf(ErrInvalidArgument, "top_k must be positive, got %d", q.TopK)
	}
	if len(q.QueryVector) == 0 {
		return Errorf(ErrInvalidArgument, "query_vector cannot be empty")
	}
	for i, v := range q.QueryVector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Errorf(ErrInvalidArgument, "query_vector[%d] is not finite", i)
		}
	}
	if q.DocumentID != "" && len(q.DocumentIDs) > 0 {
		return Errorf(ErrInvalidArgument, "document_id and document_ids are mutually exclusive")
	}
	for i, id := range q.DocumentIDs {
		if id == "" {
			return Errorf(ErrInvalidArgument, "document_ids[%d] is empty", i)
		}
	}
	if math.IsNaN(q.SimilarityThreshold) {
		return Errorf(ErrInvalidArgument, "similarity_threshold is NaN")
	}
	return nil
}

// SingleDocument reports whether the query targets exactly one document.
func (q *SearchQuery) SingleDocument() bool {
	return q.DocumentID != ""
}

// ScopeIDs returns the document IDs in scope; nil means all documents.
func (q *SearchQuery) ScopeIDs() []string {
	if q.DocumentID != "" {
		return []string{q.DocumentID}
	}
	if len(q.DocumentIDs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(q.DocumentIDs))
	ids := make([]string, 0, len(q.DocumentIDs))
	for _, id := range q.DocumentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
