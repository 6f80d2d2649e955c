// Package storage persists document indexes durably.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/vecindex/internal/config"
	"github.com/hyperjump/vecindex/internal/models"
)

// Store is the durable side of the index. Every write must be complete and durable when
// it returns nil; a failed write must leave the previously stored state intact.
// Implementations serialize writes internally and are safe for concurrent use.
type Store interface {
	// Load returns the full stored state. An empty store yields an empty snapshot;
	// unreadable state yields an error wrapping models.ErrCorruptSnapshot.
	Load(ctx context.Context) (*models.Snapshot, error)
	// PutDocument replaces the stored form of one document.
	PutDocument(ctx context.Context, doc *models.DocumentSnapshot) error
	// DeleteDocument removes a document. Deleting an absent document is not an error.
	DeleteDocument(ctx context.Context, documentID string) error
	Close() error
}

// New opens the store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.SnapshotPath), nil
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.DatabasePath, cfg.Driver)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Paths returns the on-disk locations used by the configured backend.
func Paths(cfg config.StorageConfig) []string {
	switch cfg.Backend {
	case config.BackendFile, "":
		return []string{cfg.SnapshotPath}
	case config.BackendSQLite:
		return []string{cfg.DatabasePath, cfg.DatabasePath + "-wal", cfg.DatabasePath + "-shm"}
	default:
		return nil
	}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrPersistence, op, err)
}
