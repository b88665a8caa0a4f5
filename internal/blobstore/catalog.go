package blobstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/deeprecall/deeprecall/internal/utils"
)

// catalog is the durable index mapping content hashes to metadata. It owns an
// in-memory map backed by a JSON side-file, lazily loaded on first access.
// A missing or corrupt side-file loads as empty. The raw map never escapes;
// callers go through methods and get copies.
type catalog struct {
	path    string
	mu      sync.RWMutex
	loaded  bool
	records map[string]*BlobRecord
}

func newCatalog(path string) *catalog {
	return &catalog{
		path:    path,
		records: make(map[string]*BlobRecord),
	}
}

// load reads the side-file into memory. Must be called with mu held.
func (c *catalog) load() error {
	if c.loaded {
		return nil
	}
	c.loaded = true

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("catalog unreadable, starting empty", "path", c.path, "error", err)
		}
		return nil
	}

	var records map[string]*BlobRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("catalog corrupt, starting empty", "path", c.path, "error", err)
		return nil
	}

	c.records = records
	return nil
}

// flush writes the side-file atomically via temp file + rename.
// Must be called with mu held.
func (c *catalog) flush() error {
	data, err := json.MarshalIndent(c.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	if err := utils.EnsureParent(c.path); err != nil {
		return fmt.Errorf("ensure catalog dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

func (c *catalog) Get(hash string) (*BlobRecord, bool) {
	c.mu.RLock()
	if c.loaded {
		defer c.mu.RUnlock()
		rec, ok := c.records[hash]
		if !ok {
			return nil, false
		}
		cp := *rec
		return &cp, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	rec, ok := c.records[hash]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func (c *catalog) Set(rec *BlobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	cp := *rec
	c.records[rec.ContentHash] = &cp
	return c.flush()
}

func (c *catalog) Delete(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	if _, ok := c.records[hash]; !ok {
		return ErrBlobNotFound
	}
	delete(c.records, hash)
	return c.flush()
}

// List returns catalog entries ordered by hash for deterministic output.
func (c *catalog) List() []*BlobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	out := make([]*BlobRecord, 0, len(c.records))
	for _, rec := range c.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ContentHash < out[j].ContentHash
	})
	return out
}

func (c *catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	return len(c.records)
}

// Purge drops every entry and the side-file. Used on identity reset.
func (c *catalog) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	c.records = make(map[string]*BlobRecord)
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove catalog: %w", err)
	}
	return nil
}

// update applies fn to every entry under one lock and flushes once.
// fn may mutate records in place and return the set of hashes to drop.
func (c *catalog) update(fn func(records map[string]*BlobRecord) []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	for _, hash := range fn(c.records) {
		delete(c.records, hash)
	}
	return c.flush()
}

func catalogPath(root string) string {
	return filepath.Join(root, "catalog.json")
}
