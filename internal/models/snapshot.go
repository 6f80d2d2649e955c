package models

import (
	"math"
	"sort"
	"time"
)

// SnapshotVersion is the snapshot format version written by this build.
const SnapshotVersion = 1

// Snapshot is the durable image of every document index.
type Snapshot struct {
	Version   int                 `json:"version"`
	SavedAt   time.Time           `json:"saved_at"`
	Documents []*DocumentSnapshot `json:"documents"`
}

// DocumentSnapshot is the durable form of one document index. Records are in insertion order.
type DocumentSnapshot struct {
	DocumentID string           `json:"document_id"`
	Dimension  int              `json:"dimension"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Records    []RecordSnapshot `json:"records"`
}

// RecordSnapshot is the durable form of one vector record.
type RecordSnapshot struct {
	EmbeddingID string    `json:"embedding_id"`
	ChunkID     string    `json:"chunk_id,omitempty"`
	Seq         uint64    `json:"seq"`
	Vector      []float32 `json:"vector"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// NewSnapshot returns an empty snapshot at the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{Version: SnapshotVersion, Documents: []*DocumentSnapshot{}}
}

// Document returns the snapshot of documentID, or nil.
func (s *Snapshot) Document(documentID string) *DocumentSnapshot {
	for _, d := range s.Documents {
		if d.DocumentID == documentID {
			return d
		}
	}
	return nil
}

// TotalVectors counts records across all documents.
func (s *Snapshot) TotalVectors() int {
	n := 0
	for _, d := range s.Documents {
		n += len(d.Records)
	}
	return n
}

// MaxSeq returns the highest record sequence number, or 0 for an empty snapshot.
func (s *Snapshot) MaxSeq() uint64 {
	var max uint64
	for _, d := range s.Documents {
		for _, r := range d.Records {
			if r.Seq > max {
				max = r.Seq
			}
		}
	}
	return max
}

// SortDocuments orders documents by id so that encoded snapshots are stable.
func (s *Snapshot) SortDocuments() {
	sort.Slice(s.Documents, func(i, j int) bool {
		return s.Documents[i].DocumentID < s.Documents[j].DocumentID
	})
}

// Validate checks the structural invariants a loaded snapshot must satisfy. Failures wrap
// ErrCorruptSnapshot.
func (s *Snapshot) Validate() error {
	if s.Version < 1 || s.Version > SnapshotVersion {
		return Errorf(ErrCorruptSnapshot, "unsupported snapshot version %d", s.Version)
	}
	docs := make(map[string]bool, len(s.Documents))
	embeddings := make(map[string]string, s.TotalVectors())
	seqs := make(map[uint64]bool, s.TotalVectors())
	for i, d := range s.Documents {
		if d == nil {
			return Errorf(ErrCorruptSnapshot, "documents[%d] is null", i)
		}
		if d.DocumentID == "" {
			return Errorf(ErrCorruptSnapshot, "documents[%d] has no document_id", i)
		}
		if docs[d.DocumentID] {
			return Errorf(ErrCorruptSnapshot, "document %q appears twice", d.DocumentID)
		}
		docs[d.DocumentID] = true
		if d.Dimension <= 0 {
			return Errorf(ErrCorruptSnapshot, "document %q has dimension %d", d.DocumentID, d.Dimension)
		}
		if len(d.Records) == 0 {
			return Errorf(ErrCorruptSnapshot, "document %q has no records", d.DocumentID)
		}
		for j, r := range d.Records {
			if r.EmbeddingID == "" {
				return Errorf(ErrCorruptSnapshot, "document %q record %d has no embedding_id", d.DocumentID, j)
			}
			if owner, ok := embeddings[r.EmbeddingID]; ok {
				return Errorf(ErrCorruptSnapshot, "embedding %q in both %q and %q", r.EmbeddingID, owner, d.DocumentID)
			}
			embeddings[r.EmbeddingID] = d.DocumentID
			if seqs[r.Seq] {
				return Errorf(ErrCorruptSnapshot, "embedding %q reuses seq %d", r.EmbeddingID, r.Seq)
			}
			seqs[r.Seq] = true
			if len(r.Vector) != d.Dimension {
				return Errorf(ErrCorruptSnapshot, "embedding %q has %d components, document dimension is %d",
					r.EmbeddingID, len(r.Vector), d.Dimension)
			}
			for _, v := range r.Vector {
				if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
					return Errorf(ErrCorruptSnapshot, "embedding %q has a non-finite component", r.EmbeddingID)
				}
			}
		}
	}
	return nil
}
