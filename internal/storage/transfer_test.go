package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/vecindex/internal/config"
	"github.com/hyperjump/vecindex/internal/models"
)

func TestExportImport_FileToSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := NewFileStore(filepath.Join(dir, "snapshot.json"))
	if err := src.PutDocument(ctx, testDoc("a", 2, 1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := src.PutDocument(ctx, testDoc("b", 3, 3, 1)); err != nil {
		t.Fatal(err)
	}

	exportPath := filepath.Join(dir, "export.json")
	out, err := Export(ctx, src, exportPath)
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalVectors() != 3 {
		t.Errorf("exported %d vectors", out.TotalVectors())
	}

	dst, err := NewSQLiteStore(ctx, filepath.Join(dir, "vectors.db"), "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()
	n, err := Import(ctx, dst, exportPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("imported %d documents, want 2", n)
	}
	snap, err := dst.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalVectors() != 3 || snap.Document("b").Dimension != 3 {
		t.Errorf("unexpected imported state: %+v", snap.Documents)
	}
	if snap.Document("a").Records[0].Seq != 1 {
		t.Errorf("seq should be kept when importing into an empty store, got %d", snap.Document("a").Records[0].Seq)
	}
}

func TestImport_ResequencesAfterExistingDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "export.json")
	in := models.NewSnapshot()
	in.Documents = append(in.Documents, testDoc("new", 2, 1, 2))
	if err := WriteSnapshotFile(exportPath, in); err != nil {
		t.Fatal(err)
	}

	dst := NewFileStore(filepath.Join(dir, "snapshot.json"))
	if err := dst.PutDocument(ctx, testDoc("old", 2, 1, 3)); err != nil {
		t.Fatal(err)
	}
	if _, err := Import(ctx, dst, exportPath); err != nil {
		t.Fatal(err)
	}
	snap, err := NewFileStore(filepath.Join(dir, "snapshot.json")).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	recs := snap.Document("new").Records
	if recs[0].Seq != 4 || recs[1].Seq != 5 {
		t.Errorf("imported seqs = %d, %d; want 4, 5", recs[0].Seq, recs[1].Seq)
	}
}

func TestImport_ConflictingEmbeddingRejected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clash := testDoc("other", 2, 1, 1)
	clash.Records[0].EmbeddingID = "old-e0"
	in := models.NewSnapshot()
	in.Documents = append(in.Documents, clash)
	exportPath := filepath.Join(dir, "export.json")
	if err := WriteSnapshotFile(exportPath, in); err != nil {
		t.Fatal(err)
	}

	dst := NewFileStore(filepath.Join(dir, "snapshot.json"))
	if err := dst.PutDocument(ctx, testDoc("old", 2, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := Import(ctx, dst, exportPath); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	snap, _ := dst.Load(ctx)
	if snap.Document("other") != nil {
		t.Error("rejected import wrote data")
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, config.StorageConfig{Backend: config.BackendFile, SnapshotPath: filepath.Join(dir, "s.json")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("file backend returned %T", s)
	}
	s, err = New(ctx, config.StorageConfig{Backend: config.BackendSQLite, DatabasePath: filepath.Join(dir, "v.db"), Driver: "sqlite3"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*SQLStore); !ok {
		t.Errorf("sqlite backend returned %T", s)
	}
	_ = s.Close()
	if _, err := New(ctx, config.StorageConfig{Backend: "tape"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
