// Package file persists a ledger to a single file in either encoding.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/storage"
	"github.com/mmynk/pare/internal/storage/pcsv"
	"github.com/mmynk/pare/internal/storage/pson"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store reads and writes a ledger file. The encoding follows the file
// extension: .pcsv and .csv are tabular, anything else is a document.
type Store struct {
	path   string
	codec  storage.Codec
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store for path. A nil logger uses slog.Default().
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		codec:  CodecFor(path),
		logger: logger,
		now:    time.Now,
	}
}

// CodecFor picks the encoding for a file name.
func CodecFor(path string) storage.Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcsv", ".csv":
		return pcsv.Codec{}
	default:
		return pson.Codec{}
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. A missing or empty file yields a fresh ledger, and
// so does content that cannot be parsed; the parse error is logged.
func (s *Store) Load(ctx context.Context) (*ledger.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("ledger file not found, starting fresh", "path", s.path)
		return ledger.NewDefault(s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return ledger.NewDefault(s.now()), nil
	}

	l, err := s.codec.Decode(content)
	if err != nil {
		s.logger.Warn("failed to parse ledger file, starting fresh", "path", s.path, "error", err)
		return ledger.NewDefault(s.now()), nil
	}
	return l, nil
}

// Save stamps the modification time and replaces the file atomically.
func (s *Store) Save(ctx context.Context, l *ledger.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.Touch(s.now())
	content, err := s.codec.Encode(l)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	s.logger.Debug("ledger saved", "path", s.path, "bytes", len(content))
	return nil
}

// Close is a no-op; the file is only open during Load and Save.
func (s *Store) Close() error {
	return nil
}
