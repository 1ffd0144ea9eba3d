package pdfcache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Cache stores rendered policy PDFs by deterministic path so repeated print
// requests are no-ops until an explicit reset.
type Cache struct {
	dir string
}

// New builds a cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pdfcache: create dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache file name for one contract's policy document.
func Key(contractID int64, policyNumber string, sample bool) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d%s", contractID, policyNumber)))
	name := hex.EncodeToString(sum[:])
	if sample {
		name += "_sample"
	}
	return name
}

// Get returns the cached document for key, if present.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put writes the document atomically (temp file plus rename) so concurrent
// generation for the same key never exposes a partial file.
func (c *Cache) Put(key string, pdf []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("pdfcache: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(pdf); err != nil {
		return fmt.Errorf("pdfcache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("pdfcache: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pdfcache: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path(key)); err != nil {
		return fmt.Errorf("pdfcache: rename: %w", err)
	}
	return nil
}

// Drop removes the cached document for key, forcing the next print to fetch
// from the carrier again.
func (c *Cache) Drop(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pdfcache: drop: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".pdf")
}
