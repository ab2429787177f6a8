package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/logger"
)

// FileStore keeps the document as a JSON object in a single file:
//
//	{"styles": {"signature": "…", "order": ["…"], "index": 2}}
type FileStore struct {
	path string
	log  zerolog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger used to report malformed entries.
func WithFileLogger(l zerolog.Logger) FileStoreOption {
	return func(s *FileStore) { s.log = l }
}

// NewFileStore creates a store backed by the file at path. The file and its
// directory are created on first Save.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cycle: read store %s: %w", s.path, err)
	}

	doc, malformed := decodeJSONDocument(data)
	for _, key := range malformed {
		s.log.Warn().Str(logger.FieldKey, key).Str("path", s.path).Msg("discarding malformed cycle entry")
	}
	return doc, nil
}

func (s *FileStore) Save(_ context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cycle: encode store: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("cycle: write store %s: %w", s.path, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cycle-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
