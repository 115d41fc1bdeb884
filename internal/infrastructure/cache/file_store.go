// Package cache persists and invalidates foreign-key metadata: a zstd
// compressed file store for metadata.Cache and a PostgreSQL LISTEN/NOTIFY
// invalidator.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"relmap/internal/metadata"
)

const fileExt = ".json.zst"

// Compile-time check that FileStore implements metadata.Store.
var _ metadata.Store = (*FileStore)(nil)

// FileStore keeps one compressed JSON file per entity type and registry
// checksum. Saving a new checksum removes the files of older ones.
type FileStore struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &FileStore{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load implements metadata.Store. A missing file is a miss, not an error.
func (s *FileStore) Load(typeName, checksum string) (metadata.ForeignKeyData, bool, error) {
	compressed, err := os.ReadFile(s.path(typeName, checksum))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress cache file: %w", err)
	}
	var data metadata.ForeignKeyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("decode cache file: %w", err)
	}
	if data == nil {
		data = metadata.ForeignKeyData{}
	}
	return data, true, nil
}

// Save implements metadata.Store. The file is written to a temporary name
// and renamed into place.
func (s *FileStore) Save(typeName, checksum string, data metadata.ForeignKeyData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, typeName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(s.encoder.EncodeAll(raw, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}

	target := s.path(typeName, checksum)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return s.prune(typeName, target)
}

// Clear removes every cache file.
func (s *FileStore) Clear() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cache file: %w", err)
		}
	}
	return nil
}

// Close releases the codec resources.
func (s *FileStore) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

func (s *FileStore) path(typeName, checksum string) string {
	return filepath.Join(s.dir, typeName+"-"+checksum+fileExt)
}

// prune drops files of typeName written for other checksums.
func (s *FileStore) prune(typeName, keep string) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, typeName+"-*"+fileExt))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale cache file: %w", err)
		}
	}
	return nil
}
