// Package search answers exact top-k similarity queries over the published document indexes.
package search

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vecindex/internal/index"
	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/vector"
)

// checkEvery is how many rows are scored between context checks.
const checkEvery = 1024

// ViewSource provides point-in-time views of the indexed documents.
type ViewSource interface {
	View(documentIDs ...string) *index.View
}

// Engine runs similarity search. It holds no index state of its own.
type Engine struct {
	source      ViewSource
	logger      *zap.Logger
	maxTopK     int
	parallelism int
	normEpsilon float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxTopK clamps top_k. Zero disables clamping.
func WithMaxTopK(n int) Option {
	return func(e *Engine) { e.maxTopK = n }
}

// WithParallelism bounds how many documents are scored at once.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithNormEpsilon sets the tolerance for warning about a non-unit query vector.
func WithNormEpsilon(eps float64) Option {
	return func(e *Engine) { e.normEpsilon = eps }
}

// NewEngine creates a search engine reading from source.
func NewEngine(source ViewSource, opts ...Option) *Engine {
	e := &Engine{
		source:      source,
		logger:      zap.NewNop(),
		parallelism: runtime.GOMAXPROCS(0),
		normEpsilon: vector.DefaultNormEpsilon,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 {
		e.parallelism = 1
	}
	return e
}

// Search returns the top_k records in scope whose similarity to the query vector is at
// least the threshold, best first. Equal scores rank by insertion order, then by
// embedding id, so a fixed index state always yields the same ranking.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	const op = "search"
	start := time.Now()
	if q == nil {
		return nil, models.NewError(op, "", models.Errorf(models.ErrInvalidArgument, "query is required"))
	}
	if err := q.Validate(); err != nil {
		return nil, models.NewError(op, q.DocumentID, err)
	}

	resp := &models.SearchResponse{
		SearchID: uuid.New().String(),
		Results:  []*models.SearchResult{},
	}
	k := q.TopK
	if e.maxTopK > 0 && k > e.maxTopK {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("top_k %d clamped to %d", k, e.maxTopK))
		k = e.maxTopK
	}
	if norm := vector.L2Norm(q.QueryVector); !vector.IsUnit(q.QueryVector, e.normEpsilon) {
		resp.Warnings = append(resp.Warnings,
			fmt.Sprintf("query vector norm %.6f is not 1; scores are raw dot products", norm))
		e.logger.Warn("query vector is not unit-normalized", zap.Float64("norm", norm))
	}

	dim := len(q.QueryVector)
	view := e.source.View(q.ScopeIDs()...)
	resp.MissingDocuments = view.Missing()

	docs := make([]*vector.DocumentIndex, 0, view.Len())
	var mismatch *vector.DocumentIndex
	view.Each(func(d *vector.DocumentIndex) bool {
		if d.Dimension() != dim {
			if q.SingleDocument() {
				mismatch = d
				return false
			}
			resp.SkippedDocuments = append(resp.SkippedDocuments, d.DocumentID())
			return true
		}
		docs = append(docs, d)
		return true
	})
	if mismatch != nil {
		return nil, models.NewError(op, mismatch.DocumentID(), models.Errorf(models.ErrDimensionMismatch,
			"query dimension %d, document dimension %d", dim, mismatch.Dimension()))
	}
	if len(resp.SkippedDocuments) > 0 {
		e.logger.Warn("documents skipped for dimension mismatch",
			zap.Strings("document_ids", resp.SkippedDocuments),
			zap.Int("dimension", dim),
		)
	}

	partials := make([]*topK, len(docs))
	passed := make([]int, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, d := range docs {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			tk, n, err := scan(gctx, d, q.QueryVector, q.SimilarityThreshold, k)
			partials[i], passed[i] = tk, n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancellation between documents may stop the loop before any goroutine sees it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := newTopK(k)
	for i, tk := range partials {
		best.merge(tk)
		resp.Stats.TotalCandidates += passed[i]
	}
	for rank, c := range best.sorted() {
		entry := c.doc.Entry(c.row)
		r := &models.SearchResult{
			EmbeddingID:     entry.EmbeddingID,
			ChunkID:         entry.ChunkID,
			DocumentID:      c.doc.DocumentID(),
			SimilarityScore: c.score,
			Rank:            rank + 1,
			Metadata:        entry.Metadata.Clone(),
			Seq:             entry.Seq,
		}
		if q.IncludeVectors {
			r.Vector = append([]float32(nil), c.doc.Row(c.row)...)
		}
		resp.Results = append(resp.Results, r)
	}
	resp.TotalFound = len(resp.Results)
	resp.Stats.DocumentsSearched = len(docs)
	resp.Stats.SearchTimeMs = time.Since(start).Milliseconds()

	e.logger.Debug("search completed",
		zap.String("search_id", resp.SearchID),
		zap.Int("documents", len(docs)),
		zap.Int("candidates", resp.Stats.TotalCandidates),
		zap.Int("results", resp.TotalFound),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// scan scores every row of d and returns its best k rows at or above threshold together
// with how many rows passed the threshold.
func scan(ctx context.Context, d *vector.DocumentIndex, query []float32, threshold float64, k int) (*topK, int, error) {
	tk := newTopK(k)
	passed := 0
	for i := 0; i < d.Len(); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		score := vector.InnerProduct(query, d.Row(i))
		if score < threshold {
			continue
		}
		passed++
		entry := d.Entry(i)
		tk.offer(candidate{doc: d, row: i, score: score, seq: entry.Seq, id: entry.EmbeddingID})
	}
	return tk, passed, nil
}
