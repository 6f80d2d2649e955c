// Package index owns the set of document indexes and every mutation applied to them.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/storage"
	"github.com/hyperjump/vecindex/internal/vector"
)

// Manager is the single source of truth for what is indexed. Mutations of one document
// are serialized; mutations of different documents run concurrently. Every mutation is
// written to the store before it is published, and published indexes are immutable, so
// readers see either the state before a mutation or the state after it.
type Manager struct {
	store       storage.Store
	logger      *zap.Logger
	normEpsilon float64
	now         func() time.Time

	// mu guards docs and is held only to read or swap pointers.
	mu   sync.RWMutex
	docs map[string]*vector.DocumentIndex

	locks *lockTable

	// idsMu guards owners and nextSeq. owners maps every embedding id that is indexed or
	// reserved by an in-flight insert to its document.
	idsMu   sync.Mutex
	owners  map[string]string
	nextSeq uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithNormEpsilon sets the tolerance for counting non-unit vectors on insert.
func WithNormEpsilon(eps float64) Option {
	return func(m *Manager) { m.normEpsilon = eps }
}

// WithClock replaces time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Open loads the stored snapshot and returns a manager serving it. A corrupt snapshot
// returns an error wrapping models.ErrCorruptSnapshot and no manager.
func Open(ctx context.Context, store storage.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       store,
		logger:      zap.NewNop(),
		normEpsilon: vector.DefaultNormEpsilon,
		now:         time.Now,
		docs:        make(map[string]*vector.DocumentIndex),
		locks:       newLockTable(),
		owners:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, models.NewError("open", "", err)
	}
	for _, ds := range snap.Documents {
		d, err := vector.FromSnapshot(ds)
		if err != nil {
			return nil, models.NewError("open", ds.DocumentID, fmt.Errorf("%w: %v", models.ErrCorruptSnapshot, err))
		}
		for _, r := range ds.Records {
			if owner, ok := m.owners[r.EmbeddingID]; ok {
				return nil, models.NewError("open", ds.DocumentID,
					models.Errorf(models.ErrCorruptSnapshot, "embedding %q also in %q", r.EmbeddingID, owner))
			}
			m.owners[r.EmbeddingID] = ds.DocumentID
		}
		m.docs[ds.DocumentID] = d
	}
	m.nextSeq = snap.MaxSeq() + 1

	m.logger.Info("index loaded",
		zap.Int("documents", len(m.docs)),
		zap.Int("vectors", snap.TotalVectors()),
	)
	return m, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// CreateOrAppend adds vectors to documentID, creating its index on first insert. The
// whole batch is validated first and either fully applied and persisted or rejected.
// Vectors without an embedding id get a generated one.
func (m *Manager) CreateOrAppend(ctx context.Context, documentID string, inputs []models.VectorInput) (*models.IndexSummary, error) {
	const op = "create_or_append"
	start := time.Now()

	records, dim, nonUnit, err := m.prepare(documentID, inputs)
	if err != nil {
		return nil, models.NewError(op, documentID, err)
	}

	release, err := m.locks.lock(ctx, documentID)
	if err != nil {
		return nil, models.NewError(op, documentID, err)
	}
	defer release()

	// From here on the call is accepted and runs to completion regardless of ctx.
	ctx = context.WithoutCancel(ctx)

	cur := m.get(documentID)
	if cur != nil && cur.Dimension() != dim {
		return nil, models.NewError(op, documentID,
			models.Errorf(models.ErrDimensionMismatch, "batch dimension %d, document dimension %d", dim, cur.Dimension()))
	}

	if err := m.reserve(documentID, records); err != nil {
		return nil, models.NewError(op, documentID, err)
	}

	now := m.now()
	base := cur
	if base == nil {
		if base, err = vector.NewDocumentIndex(documentID, dim, now); err != nil {
			m.releaseIDs(records)
			return nil, models.NewError(op, documentID, err)
		}
	}
	next, err := base.Append(records, now)
	if err != nil {
		m.releaseIDs(records)
		return nil, models.NewError(op, documentID, err)
	}

	if err := m.store.PutDocument(ctx, next.Snapshot()); err != nil {
		m.releaseIDs(records)
		m.logger.Error("persist failed, insert discarded",
			zap.String("document_id", documentID),
			zap.Int("count", len(records)),
			zap.Error(err),
		)
		return nil, models.NewError(op, documentID, asPersistence(err))
	}
	m.publish(documentID, next)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.EmbeddingID
	}
	elapsed := time.Since(start)
	summary := &models.IndexSummary{
		DocumentID:     documentID,
		Inserted:       len(records),
		IndexSize:      next.Len(),
		Dimension:      dim,
		Created:        cur == nil,
		NonUnitVectors: nonUnit,
		EmbeddingIDs:   ids,
		Elapsed:        elapsed,
		ElapsedMs:      elapsed.Milliseconds(),
	}
	if nonUnit > 0 {
		m.logger.Warn("vectors are not unit-normalized; similarity scores are raw dot products",
			zap.String("document_id", documentID),
			zap.Int("count", nonUnit),
			zap.Float64("epsilon", m.normEpsilon),
		)
	}
	m.logger.Info("vectors indexed",
		zap.String("document_id", documentID),
		zap.Int("count", len(records)),
		zap.Int("index_size", next.Len()),
		zap.Int("dimension", dim),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

// prepare validates inputs and converts them to records without sequence numbers.
func (m *Manager) prepare(documentID string, inputs []models.VectorInput) ([]models.VectorRecord, int, int, error) {
	if documentID == "" {
		return nil, 0, 0, models.Errorf(models.ErrInvalidArgument, "document_id cannot be empty")
	}
	if len(inputs) == 0 {
		return nil, 0, 0, models.Errorf(models.ErrInvalidArgument, "no vectors")
	}
	dim := len(inputs[0].Vector)
	records := make([]models.VectorRecord, len(inputs))
	seen := make(map[string]bool, len(inputs))
	nonUnit := 0
	for i, in := range inputs {
		if len(in.Vector) == 0 {
			return nil, 0, 0, models.Errorf(models.ErrInvalidArgument, "vectors[%d] is empty", i)
		}
		if len(in.Vector) != dim {
			return nil, 0, 0, models.Errorf(models.ErrDimensionMismatch,
				"vectors[%d] has dimension %d, batch dimension is %d", i, len(in.Vector), dim)
		}
		if !vector.Finite(in.Vector) {
			return nil, 0, 0, models.Errorf(models.ErrInvalidArgument, "vectors[%d] has a non-finite component", i)
		}
		meta, err := models.NormalizeMetadata(in.Metadata)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("vectors[%d]: %w", i, err)
		}
		id := in.EmbeddingID
		if id == "" {
			id = uuid.New().String()
		}
		if seen[id] {
			return nil, 0, 0, models.Errorf(models.ErrInvalidArgument, "embedding_id %q repeated in batch", id)
		}
		seen[id] = true
		if !vector.IsUnit(in.Vector, m.normEpsilon) {
			nonUnit++
		}
		vec := make([]float32, dim)
		copy(vec, in.Vector)
		records[i] = models.VectorRecord{
			EmbeddingID: id,
			ChunkID:     in.ChunkID,
			DocumentID:  documentID,
			Vector:      vec,
			Metadata:    meta,
		}
	}
	return records, dim, nonUnit, nil
}

// reserve claims the embedding ids of records engine-wide and assigns sequence numbers.
func (m *Manager) reserve(documentID string, records []models.VectorRecord) error {
	m.idsMu.Lock()
	defer m.idsMu.Unlock()
	for _, r := range records {
		if owner, ok := m.owners[r.EmbeddingID]; ok {
			return models.Errorf(models.ErrInvalidArgument, "embedding_id %q already indexed in document %q", r.EmbeddingID, owner)
		}
	}
	for i := range records {
		m.owners[records[i].EmbeddingID] = documentID
		records[i].Seq = m.nextSeq
		m.nextSeq++
	}
	return nil
}

func (m *Manager) releaseIDs(records []models.VectorRecord) {
	m.idsMu.Lock()
	defer m.idsMu.Unlock()
	for _, r := range records {
		delete(m.owners, r.EmbeddingID)
	}
}

// DeleteDocument removes documentID and returns how many vectors it held. Deleting an
// absent document returns 0 and no error.
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	const op = "delete_document"
	if documentID == "" {
		return 0, models.NewError(op, documentID, models.Errorf(models.ErrInvalidArgument, "document_id cannot be empty"))
	}
	release, err := m.locks.lock(ctx, documentID)
	if err != nil {
		return 0, models.NewError(op, documentID, err)
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	cur := m.get(documentID)
	if cur == nil {
		return 0, nil
	}
	if err := m.store.DeleteDocument(ctx, documentID); err != nil {
		m.logger.Error("persist failed, delete discarded", zap.String("document_id", documentID), zap.Error(err))
		return 0, models.NewError(op, documentID, asPersistence(err))
	}
	m.publish(documentID, nil)

	m.idsMu.Lock()
	for _, id := range cur.EmbeddingIDs() {
		delete(m.owners, id)
	}
	m.idsMu.Unlock()

	m.logger.Info("document deleted", zap.String("document_id", documentID), zap.Int("count", cur.Len()))
	return cur.Len(), nil
}

// DeleteEmbedding removes one vector and reports whether it existed. Removing the last
// vector of a document removes the document.
func (m *Manager) DeleteEmbedding(ctx context.Context, documentID, embeddingID string) (bool, error) {
	const op = "delete_embedding"
	if documentID == "" || embeddingID == "" {
		return false, models.NewError(op, documentID,
			models.Errorf(models.ErrInvalidArgument, "document_id and embedding_id are required"))
	}
	release, err := m.locks.lock(ctx, documentID)
	if err != nil {
		return false, models.NewError(op, documentID, err)
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	cur := m.get(documentID)
	if cur == nil {
		return false, nil
	}
	next, ok := cur.Without(embeddingID, m.now())
	if !ok {
		return false, nil
	}
	if next.Len() == 0 {
		err = m.store.DeleteDocument(ctx, documentID)
		next = nil
	} else {
		err = m.store.PutDocument(ctx, next.Snapshot())
	}
	if err != nil {
		m.logger.Error("persist failed, delete discarded",
			zap.String("document_id", documentID),
			zap.String("embedding_id", embeddingID),
			zap.Error(err),
		)
		return false, models.NewError(op, documentID, asPersistence(err))
	}
	m.publish(documentID, next)

	m.idsMu.Lock()
	delete(m.owners, embeddingID)
	m.idsMu.Unlock()

	m.logger.Debug("embedding deleted", zap.String("document_id", documentID), zap.String("embedding_id", embeddingID))
	return true, nil
}

// Stats returns aggregate statistics.
func (m *Manager) Stats() models.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := models.Stats{
		TotalDocuments:       len(m.docs),
		DimensionPerDocument: make(map[string]int, len(m.docs)),
		VectorsPerDocument:   make(map[string]int, len(m.docs)),
	}
	for id, d := range m.docs {
		st.TotalVectors += d.Len()
		st.DimensionPerDocument[id] = d.Dimension()
		st.VectorsPerDocument[id] = d.Len()
	}
	return st
}

// Documents lists indexed documents, newest first.
func (m *Manager) Documents() []models.DocumentInfo {
	m.mu.RLock()
	infos := make([]models.DocumentInfo, 0, len(m.docs))
	for _, d := range m.docs {
		infos = append(infos, d.Info())
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].DocumentID < infos[j].DocumentID
	})
	return infos
}

// Document returns the info of one document.
func (m *Manager) Document(documentID string) (models.DocumentInfo, bool) {
	d := m.get(documentID)
	if d == nil {
		return models.DocumentInfo{}, false
	}
	return d.Info(), true
}

// Records returns the records of one document in insertion order.
func (m *Manager) Records(documentID string) ([]models.VectorRecord, bool) {
	d := m.get(documentID)
	if d == nil {
		return nil, false
	}
	out := make([]models.VectorRecord, d.Len())
	for i := range out {
		out[i] = d.Record(i)
	}
	return out, true
}

// Len returns the number of indexed documents.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// View returns a point-in-time view of documentIDs, or of every document when none are
// given. Requested ids that are not indexed are reported by View.Missing.
func (m *Manager) View(documentIDs ...string) *View {
	m.mu.RLock()
	v := &View{takenAt: m.now()}
	if len(documentIDs) == 0 {
		v.docs = make([]*vector.DocumentIndex, 0, len(m.docs))
		for _, d := range m.docs {
			v.docs = append(v.docs, d)
		}
	} else {
		v.docs = make([]*vector.DocumentIndex, 0, len(documentIDs))
		for _, id := range documentIDs {
			if d, ok := m.docs[id]; ok {
				v.docs = append(v.docs, d)
			} else {
				v.missing = append(v.missing, id)
			}
		}
	}
	m.mu.RUnlock()
	if len(documentIDs) == 0 {
		sort.Slice(v.docs, func(i, j int) bool { return v.docs[i].DocumentID() < v.docs[j].DocumentID() })
	}
	return v
}

func (m *Manager) get(documentID string) *vector.DocumentIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[documentID]
}

// publish swaps in the new index for documentID; nil removes it.
func (m *Manager) publish(documentID string, d *vector.DocumentIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		delete(m.docs, documentID)
		return
	}
	m.docs[documentID] = d
}

func asPersistence(err error) error {
	if errors.Is(err, models.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrPersistence, err)
}
