package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/vecindex/internal/models"
)

// Export writes the full contents of src to a snapshot file at path.
func Export(ctx context.Context, src Store, path string) (*models.Snapshot, error) {
	snap, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	out := &models.Snapshot{
		Version:   models.SnapshotVersion,
		SavedAt:   time.Now().UTC(),
		Documents: snap.Documents,
	}
	out.SortDocuments()
	if err := WriteSnapshotFile(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Import copies every document of the snapshot file at path into dst, replacing
// documents with the same id. The merged state is validated before anything is written,
// so an embedding id that would end up in two documents rejects the whole import. When
// dst keeps other documents, imported records are renumbered after them in insertion order.
// Import is not atomic across documents; a failed write leaves earlier documents written.
func Import(ctx context.Context, dst Store, path string) (int, error) {
	in, err := ReadSnapshotFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}
	current, err := dst.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load destination: %w", err)
	}

	incoming := make(map[string]bool, len(in.Documents))
	for _, d := range in.Documents {
		incoming[d.DocumentID] = true
	}
	merged := models.NewSnapshot()
	for _, d := range current.Documents {
		if !incoming[d.DocumentID] {
			merged.Documents = append(merged.Documents, d)
		}
	}
	if len(merged.Documents) > 0 {
		resequence(in, merged.MaxSeq())
	}
	merged.Documents = append(merged.Documents, in.Documents...)
	if err := merged.Validate(); err != nil {
		return 0, fmt.Errorf("%w: import conflicts with existing data: %v", models.ErrInvalidArgument, err)
	}

	for i, d := range in.Documents {
		if err := dst.PutDocument(ctx, d); err != nil {
			return i, fmt.Errorf("import document %q: %w", d.DocumentID, err)
		}
	}
	return len(in.Documents), nil
}

// resequence renumbers the records of snap after base, keeping their relative order.
func resequence(snap *models.Snapshot, base uint64) {
	type ref struct {
		doc, rec int
	}
	var refs []ref
	for i, d := range snap.Documents {
		for j := range d.Records {
			refs = append(refs, ref{i, j})
		}
	}
	seqOf := func(r ref) uint64 { return snap.Documents[r.doc].Records[r.rec].Seq }
	sort.SliceStable(refs, func(a, b int) bool { return seqOf(refs[a]) < seqOf(refs[b]) })
	for n, r := range refs {
		snap.Documents[r.doc].Records[r.rec].Seq = base + uint64(n) + 1
	}
}
