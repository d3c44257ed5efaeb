// Package storage provides abstractions for persisting a ledger.
package storage

import (
	"context"

	"github.com/mmynk/pare/internal/ledger"
)

// Store defines the interface for ledger persistence.
// This abstraction allows swapping backends (plain files, SQLite)
// without changing the service layer.
type Store interface {
	// Load reads the persisted ledger.
	Load(ctx context.Context) (*ledger.Ledger, error)

	// Save persists the whole ledger, replacing what was stored before.
	Save(ctx context.Context, l *ledger.Ledger) error

	// Close releases any resources held by the store.
	Close() error
}

// Codec converts a ledger to and from one of the file encodings.
// Decode(Encode(l)) must reproduce every field of l.
type Codec interface {
	Encode(l *ledger.Ledger) ([]byte, error)
	Decode(data []byte) (*ledger.Ledger, error)
}
