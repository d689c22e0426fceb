package engine

import (
	"context"

	"github.com/INLOpen/chaindb/hooks"
)

// StorageEngineInterface defines the public API for the storage engine.
type StorageEngineInterface interface {
	// Data Manipulation
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error

	// Administration
	// ForceFlush freezes a non-empty mutable memtable. If wait is true, it
	// blocks until every pending flush has committed.
	ForceFlush(ctx context.Context, wait bool) error
	Close() error

	// Introspection
	Stats() Stats
	Metrics() *EngineMetrics
	GetHookManager() hooks.HookManager
	GetDataDir() string
}

var _ StorageEngineInterface = (*Engine)(nil)
