// Package integration provides end-to-end tests over real stores, the HTTP API and the inbox.
package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/cli"
	"github.com/hyperjump/vecindex/internal/config"
	"github.com/hyperjump/vecindex/internal/inbox"
	"github.com/hyperjump/vecindex/internal/index"
	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/search"
	"github.com/hyperjump/vecindex/internal/server"
	"github.com/hyperjump/vecindex/internal/storage"
)

type stack struct {
	index  *index.Manager
	client *cli.Client
}

func openStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Open(ctx, store, index.WithNormEpsilon(cfg.Index.NormEpsilon))
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(idx,
		search.WithMaxTopK(cfg.Search.MaxTopK),
		search.WithParallelism(cfg.Search.Parallelism),
	)
	ts := httptest.NewServer(server.NewServer(idx, engine, cfg, zap.NewNop()).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = idx.Close()
	})
	return &stack{index: idx, client: cli.NewClient(ts.URL)}
}

func writeBatch(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func embeddingIDs(resp *models.SearchResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.EmbeddingID
	}
	return ids
}

func TestIntegration_Search(t *testing.T) {
	dir := t.TempDir()
	inboxDir := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{SnapshotPath: filepath.Join(dir, "snapshot.json")},
		Inbox:   config.InboxConfig{Directory: inboxDir},
	}
	config.ApplyDefaults(cfg)
	ctx := context.Background()

	s := openStack(t, cfg)
	writeBatch(t, inboxDir, "01-report.json", `{"document_id":"report","vectors":[
		{"embedding_id":"r1","chunk_id":"c1","vector":[1,0],"metadata":{"page":1}},
		{"embedding_id":"r2","chunk_id":"c2","vector":[0.6,0.8],"metadata":{"page":2}},
		{"embedding_id":"r3","chunk_id":"c3","vector":[0,1],"metadata":{"page":3}}]}`)
	writeBatch(t, inboxDir, "notes.json", `{"vectors":[
		{"embedding_id":"n1","vector":[0.8,0.6]}]}`)
	writeBatch(t, inboxDir, "03-wide.json", `{"document_id":"wide","vectors":[
		{"embedding_id":"w1","vector":[1,0,0]}]}`)
	writeBatch(t, inboxDir, "04-clash.json", `{"document_id":"clash","vectors":[
		{"embedding_id":"r1","vector":[1,0]}]}`)

	box := inbox.New(inboxDir, s.index)
	n, err := box.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("applied %d batches, want 3", n)
	}
	if _, err := os.Stat(filepath.Join(inboxDir, inbox.FailedDir, "04-clash.json")); err != nil {
		t.Errorf("duplicate embedding batch should be in failed/: %v", err)
	}

	resp, err := s.client.Search(ctx, &models.SearchQuery{QueryVector: []float32{1, 0}, TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := embeddingIDs(resp), []string{"r1", "n1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("global results = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(resp.SkippedDocuments, []string{"wide"}) {
		t.Errorf("skipped = %v, want [wide]", resp.SkippedDocuments)
	}
	if resp.Results[0].Metadata["page"] != int64(1) {
		t.Errorf("metadata page = %#v", resp.Results[0].Metadata["page"])
	}

	scoped, err := s.client.Search(ctx, &models.SearchQuery{
		QueryVector: []float32{1, 0}, DocumentID: "report", TopK: 5, SimilarityThreshold: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := embeddingIDs(scoped), []string{"r1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("scoped results = %v, want %v", got, want)
	}

	if removed, err := s.client.DeleteDocument(ctx, "notes"); err != nil || removed != 1 {
		t.Fatalf("delete notes = %d, %v", removed, err)
	}

	// Restart on the same snapshot.
	s = openStack(t, cfg)
	after, err := s.client.Search(ctx, &models.SearchQuery{QueryVector: []float32{1, 0}, TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := embeddingIDs(after), []string{"r1", "r2", "r3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("results after restart = %v, want %v", got, want)
	}
	stats, err := s.client.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 2 || stats.TotalVectors != 4 {
		t.Errorf("stats after restart = %+v", stats)
	}
}

func TestIntegration_MoveBetweenBackends(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fileCfg := &config.Config{Storage: config.StorageConfig{SnapshotPath: filepath.Join(dir, "snapshot.json")}}
	config.ApplyDefaults(fileCfg)
	src := openStack(t, fileCfg)
	if _, err := src.index.CreateOrAppend(ctx, "a", []models.VectorInput{
		{EmbeddingID: "a1", Vector: []float32{1, 0}},
		{EmbeddingID: "a2", Vector: []float32{0.6, 0.8}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := src.index.CreateOrAppend(ctx, "b", []models.VectorInput{
		{EmbeddingID: "b1", Vector: []float32{0.6, 0.8}},
	}); err != nil {
		t.Fatal(err)
	}
	query := &models.SearchQuery{QueryVector: []float32{0, 1}, TopK: 3}
	before, err := src.client.Search(ctx, query)
	if err != nil {
		t.Fatal(err)
	}

	exportPath := filepath.Join(dir, "export.json")
	fileStore := storage.NewFileStore(fileCfg.Storage.SnapshotPath)
	if _, err := storage.Export(ctx, fileStore, exportPath); err != nil {
		t.Fatal(err)
	}

	sqlCfg := &config.Config{Storage: config.StorageConfig{
		Backend:      config.BackendSQLite,
		DatabasePath: filepath.Join(dir, "vectors.db"),
		Driver:       "sqlite",
	}}
	config.ApplyDefaults(sqlCfg)
	dst, err := storage.New(ctx, sqlCfg.Storage)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := storage.Import(ctx, dst, exportPath); err != nil || n != 2 {
		t.Fatalf("import = %d, %v", n, err)
	}
	_ = dst.Close()

	moved := openStack(t, sqlCfg)
	after, err := moved.client.Search(ctx, query)
	if err != nil {
		t.Fatal(err)
	}
	// Equal scores keep their insertion order across the move.
	if got, want := embeddingIDs(after), embeddingIDs(before); !reflect.DeepEqual(got, want) {
		t.Errorf("results after move = %v, want %v", got, want)
	}
	if got := embeddingIDs(after); !reflect.DeepEqual(got, []string{"a2", "b1", "a1"}) {
		t.Errorf("results = %v, want [a2 b1 a1]", got)
	}
}
