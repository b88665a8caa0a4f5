package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deeprecall/deeprecall/internal/utils"
)

const (
	objectsDirName = "objects"
	lockFileName   = ".lock"

	// small read-through cache for hot blobs (page thumbnails, recently
	// opened documents)
	readCacheSize = 64
)

// Store is a content-addressable blob store with a durable metadata catalog.
// A store instance has exclusive ownership of its root directory, enforced
// with a file lock; two processes opening the same root is an error, not a
// race.
type Store struct {
	root  string
	cat   *catalog
	flock *flock.Flock
	cache *lru.Cache[string, []byte]
}

// NewStore opens (or initializes) a blob store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root, err := utils.ResolvePath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := utils.EnsureDir(filepath.Join(root, objectsDirName)); err != nil {
		return nil, fmt.Errorf("ensure objects dir: %w", err)
	}

	fl := flock.New(filepath.Join(root, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, ErrStoreLocked
	}

	cache, err := lru.New[string, []byte](readCacheSize)
	if err != nil {
		fl.Unlock()
		return nil, err
	}

	return &Store{
		root:  root,
		cat:   newCatalog(catalogPath(root)),
		flock: fl,
		cache: cache,
	}, nil
}

// Close releases the store lock.
func (s *Store) Close() error {
	s.cache.Purge()
	return s.flock.Unlock()
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Put stores data under its content hash and catalogs it. Storing bytes that
// are already present is a no-op: the existing record is returned unchanged
// and no second object is written.
func (s *Store) Put(data []byte, meta PutMeta) (*BlobRecord, error) {
	hash := HashBytes(data)

	if rec, ok := s.cat.Get(hash); ok {
		return rec, nil
	}

	loc := s.objectPath(hash)
	if err := utils.EnsureParent(loc); err != nil {
		return nil, fmt.Errorf("ensure shard dir: %w", err)
	}

	// temp file + rename keeps a crashed write from leaving a partial
	// object under a valid hash name
	tmp, err := os.CreateTemp(filepath.Dir(loc), ".put-*")
	if err != nil {
		return nil, fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmpName, loc); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("commit object: %w", err)
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = utils.DetectContentType(meta.Filename, data)
	}

	now := time.Now().UnixMilli()
	rec := &BlobRecord{
		ContentHash:     hash,
		Size:            int64(len(data)),
		MimeType:        mimeType,
		Filename:        meta.Filename,
		CreatedAt:       now,
		ModifiedAt:      now,
		StorageLocation: loc,
		Health:          HealthHealthy,
	}
	if err := s.cat.Set(rec); err != nil {
		return nil, fmt.Errorf("catalog put: %w", err)
	}

	s.cache.Add(hash, data)
	return rec, nil
}

// Get returns the raw bytes for a hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if data, ok := s.cache.Get(hash); ok {
		return data, nil
	}

	rec, ok := s.cat.Get(hash)
	if !ok {
		return nil, ErrBlobNotFound
	}

	data, err := os.ReadFile(rec.StorageLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", hash, err)
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Stat returns the catalog entry for a hash.
func (s *Store) Stat(hash string) (*BlobRecord, error) {
	rec, ok := s.cat.Get(hash)
	if !ok {
		return nil, ErrBlobNotFound
	}
	return rec, nil
}

// List returns all catalog entries.
func (s *Store) List() ([]*BlobRecord, error) {
	return s.cat.List(), nil
}

// Delete removes the object and its catalog entry.
func (s *Store) Delete(hash string) error {
	rec, ok := s.cat.Get(hash)
	if !ok {
		return ErrBlobNotFound
	}

	if err := os.Remove(rec.StorageLocation); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object %s: %w", hash, err)
	}

	s.cache.Remove(hash)
	return s.cat.Delete(hash)
}

// Rename updates the filename metadata. The hash and the bytes never change.
func (s *Store) Rename(hash string, newName string) error {
	rec, ok := s.cat.Get(hash)
	if !ok {
		return ErrBlobNotFound
	}
	rec.Filename = newName
	rec.ModifiedAt = time.Now().UnixMilli()
	return s.cat.Set(rec)
}

// Purge drops the catalog without touching objects on disk. A follow-up
// Scan rebuilds the catalog from local ground truth.
func (s *Store) Purge() error {
	s.cache.Purge()
	return s.cat.Purge()
}

// objectPath shards objects by the first two hash chars to keep directory
// fanout sane.
func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.root, objectsDirName, hash[:2], hash)
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
