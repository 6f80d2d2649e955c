package index

import (
	"time"

	"github.com/hyperjump/vecindex/internal/vector"
)

// View is a point-in-time set of document indexes. It holds references to the published
// immutable indexes, so no vectors are copied and concurrent writers never affect it.
type View struct {
	docs    []*vector.DocumentIndex
	missing []string
	takenAt time.Time
}

// Len returns the number of documents in the view.
func (v *View) Len() int { return len(v.docs) }

// Documents returns the documents in the view.
func (v *View) Documents() []*vector.DocumentIndex {
	out := make([]*vector.DocumentIndex, len(v.docs))
	copy(out, v.docs)
	return out
}

// Each calls fn for every document until fn returns false.
func (v *View) Each(fn func(*vector.DocumentIndex) bool) {
	for _, d := range v.docs {
		if !fn(d) {
			return
		}
	}
}

// Missing returns requested document ids that were not indexed when the view was taken.
func (v *View) Missing() []string { return v.missing }

// TakenAt is when the view was taken.
func (v *View) TakenAt() time.Time { return v.takenAt }

// TotalVectors counts vectors across the view.
func (v *View) TotalVectors() int {
	n := 0
	for _, d := range v.docs {
		n += d.Len()
	}
	return n
}
