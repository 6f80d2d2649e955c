// Package inbox applies vector batch files dropped into a directory, using fsnotify with
// debouncing. Each *.json file holds one models.DocumentBatch. Applied files move to
// processed/; rejected files move to failed/ next to a .err file holding the reason.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/models"
)

const (
	defaultDebounce = 400 * time.Millisecond

	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Applier receives the batches read from the inbox.
type Applier interface {
	CreateOrAppend(ctx context.Context, documentID string, inputs []models.VectorInput) (*models.IndexSummary, error)
}

// Inbox watches one directory for batch files.
type Inbox struct {
	dir      string
	applier  Applier
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	started  bool
	stopped  bool
	ctx      context.Context
	inflight sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Inbox) { b.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is applied.
func WithDebounce(d time.Duration) Option {
	return func(b *Inbox) {
		if d > 0 {
			b.debounce = d
		}
	}
}

// New creates an inbox for dir that hands batches to applier.
func New(dir string, applier Applier, opts ...Option) *Inbox {
	b := &Inbox{
		dir:      filepath.Clean(dir),
		applier:  applier,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dir returns the watched directory.
func (b *Inbox) Dir() string { return b.dir }

// Start creates the inbox directories if needed and starts watching. It runs until ctx is
// cancelled or Stop is called. Files already present are not applied; call Sync for that.
func (b *Inbox) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	for _, d := range []string{b.dir, filepath.Join(b.dir, ProcessedDir), filepath.Join(b.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(b.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch inbox: %w", err)
	}
	b.watcher = w
	b.ctx = ctx
	b.started = true
	b.logger.Info("inbox watching", zap.String("path", b.dir), zap.Duration("debounce", b.debounce))
	go b.run(ctx, w)
	return nil
}

func (b *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case <-b.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil {
				b.logger.Warn("inbox watcher error", zap.Error(err))
			}
		}
	}
}

func (b *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if filepath.Dir(filepath.Clean(path)) != b.dir || !isBatchFile(path) {
		return
	}
	b.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		b.schedule(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		b.cancel(path)
	}
}

// isBatchFile reports whether name is a visible *.json file.
func isBatchFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

func (b *Inbox) schedule(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if t, ok := b.pending[path]; ok {
		t.Stop()
	}
	b.pending[path] = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		delete(b.pending, path)
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.inflight.Add(1)
		ctx := b.ctx
		b.mu.Unlock()
		defer b.inflight.Done()
		err := b.ProcessFile(ctx, path)
		switch {
		case err == nil, errors.Is(err, fs.ErrNotExist):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			b.logger.Debug("inbox batch left for next sync", zap.String("path", path), zap.Error(err))
		default:
			b.logger.Warn("inbox batch rejected", zap.String("path", path), zap.Error(err))
		}
	})
}

func (b *Inbox) cancel(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.pending[path]; ok {
		t.Stop()
		delete(b.pending, path)
	}
}

// Sync applies every batch file present in the directory, in name order, and returns how
// many were applied.
func (b *Inbox) Sync(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isBatchFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	applied := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := b.ProcessFile(ctx, filepath.Join(b.dir, name)); err != nil {
			b.logger.Warn("inbox batch rejected", zap.String("path", name), zap.Error(err))
			continue
		}
		applied++
	}
	return applied, nil
}

// ProcessFile applies one batch file and moves it out of the inbox. A file that is gone
// returns an error wrapping fs.ErrNotExist and is not moved, and neither is a batch whose
// apply was cut short by ctx.
func (b *Inbox) ProcessFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	batch, err := decodeBatch(path, data)
	if err == nil {
		var sum *models.IndexSummary
		sum, err = b.applier.CreateOrAppend(ctx, batch.DocumentID, batch.Vectors)
		if err == nil {
			b.logger.Info("inbox batch applied",
				zap.String("path", path),
				zap.String("document_id", sum.DocumentID),
				zap.Int("count", sum.Inserted),
			)
			return b.move(path, ProcessedDir)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted, not rejected: the next Sync picks it up again.
			return err
		}
	}
	if moveErr := b.fail(path, err); moveErr != nil {
		b.logger.Error("inbox move to failed/ failed", zap.String("path", path), zap.Error(moveErr))
	}
	return err
}

// decodeBatch parses a batch file. A batch without document_id belongs to the document
// named by the file stem.
func decodeBatch(path string, data []byte) (*models.DocumentBatch, error) {
	var batch models.DocumentBatch
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&batch); err != nil {
		return nil, models.Errorf(models.ErrInvalidArgument, "decode %s: %v", filepath.Base(path), err)
	}
	if batch.DocumentID == "" {
		base := filepath.Base(path)
		batch.DocumentID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &batch, nil
}

func (b *Inbox) fail(path string, cause error) error {
	dest, err := b.destination(path, FailedDir)
	if err != nil {
		return err
	}
	if err := os.Rename(path, dest); err != nil {
		return err
	}
	msg := fmt.Sprintf("%s: %v\n", models.KindOf(cause), cause)
	return os.WriteFile(dest+".err", []byte(msg), 0644)
}

func (b *Inbox) move(path, sub string) error {
	dest, err := b.destination(path, sub)
	if err != nil {
		return err
	}
	return os.Rename(path, dest)
}

// destination picks a free name under sub, suffixing a timestamp when the name is taken.
func (b *Inbox) destination(path, sub string) (string, error) {
	dir := filepath.Join(b.dir, sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	base := filepath.Base(path)
	dest := filepath.Join(dir, base)
	if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
		return dest, nil
	}
	ext := filepath.Ext(base)
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+"-"+stamp+ext), nil
}

// Stop stops watching and waits for batches being applied.
func (b *Inbox) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for path, t := range b.pending {
		t.Stop()
		delete(b.pending, path)
	}
	w := b.watcher
	b.mu.Unlock()

	_ = w.Close()
	b.stopOnce.Do(func() { close(b.done) })
	b.inflight.Wait()
}
