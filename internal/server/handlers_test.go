package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/config"
	"github.com/hyperjump/vecindex/internal/index"
	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/search"
	"github.com/hyperjump/vecindex/internal/storage"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := &config.Config{Storage: config.StorageConfig{
		Backend:      config.BackendFile,
		SnapshotPath: filepath.Join(t.TempDir(), "snapshot.json"),
	}}
	config.ApplyDefaults(cfg)
	cfg.Search.MaxTopK = 10

	idx, err := index.Open(context.Background(), storage.NewFileStore(cfg.Storage.SnapshotPath))
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(idx, search.WithMaxTopK(cfg.Search.MaxTopK))
	srv := NewServer(idx, engine, cfg, zap.NewNop())
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func insertBody(vectors ...[]float32) map[string]interface{} {
	items := make([]map[string]interface{}, len(vectors))
	for i, v := range vectors {
		items[i] = map[string]interface{}{"embedding_id": fmt.Sprintf("e%d", i+1), "chunk_id": fmt.Sprintf("c%d", i+1), "vector": v}
	}
	return map[string]interface{}{"vectors": items}
}

func TestHandleInsertVectors(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodPost, "/api/v1/documents/doc1/vectors",
		insertBody([]float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}))
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var sum models.IndexSummary
	decodeBody(t, w, &sum)
	if sum.DocumentID != "doc1" || sum.Inserted != 2 || !sum.Created || sum.Dimension != 4 {
		t.Errorf("summary = %+v", sum)
	}

	w = do(t, h, http.MethodPost, "/api/v1/documents/doc1/vectors", insertBody([]float32{1, 0}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mismatch status: got %d", w.Code)
	}
	var eb errorBody
	decodeBody(t, w, &eb)
	if eb.Kind != "dimension_mismatch" || eb.Error == "" {
		t.Errorf("error body = %+v", eb)
	}
}

func TestHandleInsertVectors_BadRequests(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"malformed json", "/api/v1/documents/doc1/vectors", "{not json"},
		{"empty batch", "/api/v1/documents/doc1/vectors", map[string]interface{}{"vectors": []interface{}{}}},
		{"mismatched body id", "/api/v1/documents/doc1/vectors", map[string]interface{}{
			"document_id": "other", "vectors": []map[string]interface{}{{"vector": []float32{1}}},
		}},
		{"nested metadata", "/api/v1/documents/doc1/vectors", map[string]interface{}{
			"vectors": []map[string]interface{}{{"vector": []float32{1}, "metadata": map[string]interface{}{"x": map[string]int{"y": 1}}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
			}
			var eb errorBody
			decodeBody(t, w, &eb)
			if eb.Kind != "invalid_argument" {
				t.Errorf("kind = %q", eb.Kind)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	_, h := newTestServer(t)
	if w := do(t, h, http.MethodPost, "/api/v1/documents/doc1/vectors",
		insertBody([]float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}, []float32{0, 0.6, 0.8, 0})); w.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", w.Code, w.Body.String())
	}

	w := do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query_vector": []float32{0, 1, 0, 0}, "document_id": "doc1", "top_k": 2, "similarity_threshold": 0.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	decodeBody(t, w, &resp)
	if len(resp.Results) != 2 || resp.Results[0].EmbeddingID != "e2" || resp.Results[1].EmbeddingID != "e3" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].ChunkID != "c2" || resp.Results[0].Rank != 1 || resp.SearchID == "" {
		t.Errorf("response = %+v", resp)
	}

	// Omitted top_k takes the configured default.
	w = do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{"query_vector": []float32{1, 0, 0, 0}})
	if w.Code != http.StatusOK {
		t.Fatalf("default top_k: %d %s", w.Code, w.Body.String())
	}
	decodeBody(t, w, &resp)
	if len(resp.Results) != 3 {
		t.Errorf("got %d results with default top_k", len(resp.Results))
	}
}

func TestHandleSearch_Errors(t *testing.T) {
	_, h := newTestServer(t)
	if w := do(t, h, http.MethodPost, "/api/v1/documents/doc1/vectors", insertBody([]float32{1, 0})); w.Code != http.StatusCreated {
		t.Fatalf("insert: %d", w.Code)
	}
	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"zero top_k", map[string]interface{}{"query_vector": []float32{1, 0}, "top_k": 0}, http.StatusBadRequest, "invalid_argument"},
		{"empty vector", map[string]interface{}{"top_k": 1}, http.StatusBadRequest, "invalid_argument"},
		{"dimension", map[string]interface{}{"query_vector": []float32{1, 0, 0}, "document_id": "doc1", "top_k": 1}, http.StatusUnprocessableEntity, "dimension_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/search", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status: got %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			var eb errorBody
			decodeBody(t, w, &eb)
			if eb.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", eb.Kind, tt.kind)
			}
		})
	}
}

func TestHandleDocuments(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/documents/a/vectors", insertBody([]float32{1, 0}, []float32{0, 1}))

	w := do(t, h, http.MethodGet, "/api/v1/documents", nil)
	var list struct {
		Documents []models.DocumentInfo `json:"documents"`
		Total     int                   `json:"total"`
	}
	decodeBody(t, w, &list)
	if list.Total != 1 || list.Documents[0].DocumentID != "a" || list.Documents[0].TotalVectors != 2 {
		t.Errorf("list = %+v", list)
	}

	w = do(t, h, http.MethodGet, "/api/v1/documents/a", nil)
	var info models.DocumentInfo
	decodeBody(t, w, &info)
	if w.Code != http.StatusOK || info.Dimension != 2 {
		t.Errorf("get: %d %+v", w.Code, info)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/documents/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing document: got %d", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/documents/a/embeddings/e1", nil)
	var del map[string]bool
	decodeBody(t, w, &del)
	if w.Code != http.StatusOK || !del["deleted"] {
		t.Errorf("delete embedding: %d %v", w.Code, del)
	}
	w = do(t, h, http.MethodDelete, "/api/v1/documents/a/embeddings/e1", nil)
	decodeBody(t, w, &del)
	if del["deleted"] {
		t.Error("second delete reported deleted")
	}

	w = do(t, h, http.MethodDelete, "/api/v1/documents/a", nil)
	var removed struct {
		DocumentID string `json:"document_id"`
		Removed    int    `json:"removed"`
	}
	decodeBody(t, w, &removed)
	if w.Code != http.StatusOK || removed.Removed != 1 {
		t.Errorf("delete document: %d %+v", w.Code, removed)
	}
	w = do(t, h, http.MethodDelete, "/api/v1/documents/a", nil)
	decodeBody(t, w, &removed)
	if w.Code != http.StatusOK || removed.Removed != 0 {
		t.Errorf("repeat delete: %d %+v", w.Code, removed)
	}
}

func TestHandleStatsAndStatus(t *testing.T) {
	srv, h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/documents/a/vectors", insertBody([]float32{1, 0}))
	do(t, h, http.MethodPost, "/api/v1/documents/b/vectors", insertBody([]float32{1, 0, 0}))

	w := do(t, h, http.MethodGet, "/api/v1/stats", nil)
	var st models.Stats
	decodeBody(t, w, &st)
	if st.TotalDocuments != 2 || st.TotalVectors != 2 || st.DimensionPerDocument["b"] != 3 {
		t.Errorf("stats = %+v", st)
	}

	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Documents      int                    `json:"documents"`
		Vectors        int                    `json:"vectors"`
		DiskUsageBytes *int64                 `json:"disk_usage_bytes"`
		Config         map[string]interface{} `json:"config"`
	}
	decodeBody(t, w, &out)
	if out.Documents != 2 || out.Vectors != 2 {
		t.Errorf("status counts = %+v", out)
	}
	if out.DiskUsageBytes == nil || *out.DiskUsageBytes < 1 {
		t.Errorf("disk_usage_bytes = %v", out.DiskUsageBytes)
	}
	if out.Config["storage_path"] != srv.config.Storage.SnapshotPath || out.Config["storage_backend"] != "file" {
		t.Errorf("config = %v", out.Config)
	}
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Errorf(models.ErrInvalidArgument, "x"), http.StatusBadRequest},
		{models.NewError("op", "d", models.ErrDimensionMismatch), http.StatusUnprocessableEntity},
		{models.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: disk", models.ErrPersistence), http.StatusInternalServerError},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
