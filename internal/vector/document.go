// Package vector holds the per-document vector index and similarity helpers.
package vector

import (
	"fmt"
	"time"

	"github.com/hyperjump/vecindex/internal/models"
)

// Entry is the non-vector part of an indexed record.
type Entry struct {
	EmbeddingID string
	ChunkID     string
	Metadata    models.Metadata
	Seq         uint64
}

// DocumentIndex is the ordered set of vectors of one document, stored as a dense
// row-major matrix. A DocumentIndex is never modified after construction: Append returns
// a new value that may share backing arrays past this value's length, Without always
// allocates. Readers therefore need no locking.
type DocumentIndex struct {
	documentID string
	dim        int
	entries    []Entry
	matrix     []float32
	createdAt  time.Time
	updatedAt  time.Time
}

// NewDocumentIndex returns an empty index for documentID with a fixed dimension.
func NewDocumentIndex(documentID string, dim int, now time.Time) (*DocumentIndex, error) {
	if documentID == "" {
		return nil, models.Errorf(models.ErrInvalidArgument, "document_id cannot be empty")
	}
	if dim <= 0 {
		return nil, models.Errorf(models.ErrInvalidArgument, "dimension must be positive, got %d", dim)
	}
	return &DocumentIndex{documentID: documentID, dim: dim, createdAt: now, updatedAt: now}, nil
}

// FromSnapshot rebuilds an index from its durable form. The snapshot is copied.
func FromSnapshot(ds *models.DocumentSnapshot) (*DocumentIndex, error) {
	d, err := NewDocumentIndex(ds.DocumentID, ds.Dimension, ds.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.updatedAt = ds.UpdatedAt
	d.entries = make([]Entry, len(ds.Records))
	d.matrix = make([]float32, 0, len(ds.Records)*ds.Dimension)
	for i, r := range ds.Records {
		if len(r.Vector) != ds.Dimension {
			return nil, models.Errorf(models.ErrDimensionMismatch,
				"embedding %q has %d components, document dimension is %d", r.EmbeddingID, len(r.Vector), ds.Dimension)
		}
		d.entries[i] = Entry{EmbeddingID: r.EmbeddingID, ChunkID: r.ChunkID, Metadata: r.Metadata.Clone(), Seq: r.Seq}
		d.matrix = append(d.matrix, r.Vector...)
	}
	return d, nil
}

// DocumentID returns the id of the document the index belongs to.
func (d *DocumentIndex) DocumentID() string { return d.documentID }

// Dimension returns the vector dimension fixed by the first insert.
func (d *DocumentIndex) Dimension() int { return d.dim }

// Len returns the number of records in the index.
func (d *DocumentIndex) Len() int { return len(d.entries) }

// CreatedAt returns when the index was created.
func (d *DocumentIndex) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns when records were last added to the index.
func (d *DocumentIndex) UpdatedAt() time.Time { return d.updatedAt }

// Entry returns the i-th entry.
func (d *DocumentIndex) Entry(i int) Entry {
	return d.entries[i]
}

// Row returns the i-th vector. The slice aliases the index and must not be modified.
func (d *DocumentIndex) Row(i int) []float32 {
	off := i * d.dim
	return d.matrix[off : off+d.dim : off+d.dim]
}

// Record returns the i-th record with a copy of its vector.
func (d *DocumentIndex) Record(i int) models.VectorRecord {
	e := d.entries[i]
	vec := make([]float32, d.dim)
	copy(vec, d.Row(i))
	return models.VectorRecord{
		EmbeddingID: e.EmbeddingID,
		ChunkID:     e.ChunkID,
		DocumentID:  d.documentID,
		Vector:      vec,
		Metadata:    e.Metadata.Clone(),
		Seq:         e.Seq,
	}
}

// IndexOf returns the position of embeddingID, or -1.
func (d *DocumentIndex) IndexOf(embeddingID string) int {
	for i := range d.entries {
		if d.entries[i].EmbeddingID == embeddingID {
			return i
		}
	}
	return -1
}

// EmbeddingIDs returns the embedding ids in insertion order.
func (d *DocumentIndex) EmbeddingIDs() []string {
	ids := make([]string, len(d.entries))
	for i, e := range d.entries {
		ids[i] = e.EmbeddingID
	}
	return ids
}

// Append returns a new index with records added at the end. Every record must match the
// index dimension; on error d is unchanged and nothing is returned.
func (d *DocumentIndex) Append(records []models.VectorRecord, now time.Time) (*DocumentIndex, error) {
	for _, r := range records {
		if len(r.Vector) != d.dim {
			return nil, models.Errorf(models.ErrDimensionMismatch,
				"embedding %q has %d components, document dimension is %d", r.EmbeddingID, len(r.Vector), d.dim)
		}
	}
	next := *d
	next.updatedAt = now
	for _, r := range records {
		next.entries = append(next.entries, Entry{
			EmbeddingID: r.EmbeddingID,
			ChunkID:     r.ChunkID,
			Metadata:    r.Metadata.Clone(),
			Seq:         r.Seq,
		})
		next.matrix = append(next.matrix, r.Vector...)
	}
	return &next, nil
}

// Without returns a new index lacking embeddingID, and whether it was present. When
// absent, d itself is returned.
func (d *DocumentIndex) Without(embeddingID string, now time.Time) (*DocumentIndex, bool) {
	pos := d.IndexOf(embeddingID)
	if pos < 0 {
		return d, false
	}
	next := &DocumentIndex{
		documentID: d.documentID,
		dim:        d.dim,
		entries:    make([]Entry, 0, len(d.entries)-1),
		matrix:     make([]float32, 0, len(d.matrix)-d.dim),
		createdAt:  d.createdAt,
		updatedAt:  now,
	}
	next.entries = append(next.entries, d.entries[:pos]...)
	next.entries = append(next.entries, d.entries[pos+1:]...)
	next.matrix = append(next.matrix, d.matrix[:pos*d.dim]...)
	next.matrix = append(next.matrix, d.matrix[(pos+1)*d.dim:]...)
	return next, true
}

// Snapshot returns the durable form of the index. Vectors are copied.
func (d *DocumentIndex) Snapshot() *models.DocumentSnapshot {
	ds := &models.DocumentSnapshot{
		DocumentID: d.documentID,
		Dimension:  d.dim,
		CreatedAt:  d.createdAt,
		UpdatedAt:  d.updatedAt,
		Records:    make([]models.RecordSnapshot, len(d.entries)),
	}
	for i, e := range d.entries {
		vec := make([]float32, d.dim)
		copy(vec, d.Row(i))
		ds.Records[i] = models.RecordSnapshot{
			EmbeddingID: e.EmbeddingID,
			ChunkID:     e.ChunkID,
			Seq:         e.Seq,
			Vector:      vec,
			Metadata:    e.Metadata,
		}
	}
	return ds
}

// Info summarizes the index.
func (d *DocumentIndex) Info() models.DocumentInfo {
	return models.DocumentInfo{
		DocumentID:   d.documentID,
		Dimension:    d.dim,
		TotalVectors: len(d.entries),
		CreatedAt:    d.createdAt,
		UpdatedAt:    d.updatedAt,
	}
}

func (d *DocumentIndex) String() string {
	return fmt.Sprintf("DocumentIndex(%s, dim=%d, n=%d)", d.documentID, d.dim, len(d.entries))
}
