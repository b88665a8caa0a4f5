package blobstore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/deeprecall/deeprecall/internal/utils"
)

// Scan reconciles the catalog against the objects actually on disk.
// Cataloged entries with no backing object are dropped (deleted); objects
// unknown to the catalog are adopted with inferred metadata (added).
// Per-object failures accumulate into the result and never abort the scan.
func (s *Store) Scan() (*ScanResult, error) {
	result := &ScanResult{Errors: []string{}}

	onDisk := make(map[string]string) // hash -> path
	objectsRoot := filepath.Join(s.root, objectsDirName)
	filepath.WalkDir(objectsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("walk %s: %v", path, err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !isContentHash(name) {
			return nil
		}
		onDisk[name] = path
		return nil
	})

	err := s.cat.update(func(records map[string]*BlobRecord) []string {
		var drop []string
		now := time.Now().UnixMilli()

		for hash, rec := range records {
			path, ok := onDisk[hash]
			if !ok {
				drop = append(drop, hash)
				result.Deleted++
				continue
			}
			delete(onDisk, hash) // whatever remains is uncataloged

			info, err := os.Stat(path)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
				continue
			}

			changed := false
			if rec.Size != info.Size() {
				rec.Size = info.Size()
				changed = true
			}
			if rec.StorageLocation != path {
				rec.StorageLocation = path
				changed = true
			}
			if rec.Health != HealthHealthy {
				rec.Health = HealthHealthy
				changed = true
			}
			if changed {
				rec.ModifiedAt = now
				result.Updated++
			}
		}

		// adopt objects the catalog has never seen
		for hash, path := range onDisk {
			info, err := os.Stat(path)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
				continue
			}
			records[hash] = &BlobRecord{
				ContentHash:     hash,
				Size:            info.Size(),
				MimeType:        sniffMimeType(path),
				CreatedAt:       now,
				ModifiedAt:      info.ModTime().UnixMilli(),
				StorageLocation: path,
				Health:          HealthHealthy,
			}
			result.Added++
		}

		return drop
	})
	if err != nil {
		return nil, fmt.Errorf("flush catalog after scan: %w", err)
	}

	return result, nil
}

// HealthCheck probes every catalog entry's backing object and classifies it.
// The classification is written back to the catalog so List/Stat reflect it.
func (s *Store) HealthCheck() (*HealthReport, error) {
	report := &HealthReport{}

	err := s.cat.update(func(records map[string]*BlobRecord) []string {
		for _, rec := range records {
			report.TotalBlobs++
			report.TotalSize += rec.Size

			info, err := os.Stat(rec.StorageLocation)
			switch {
			case err == nil && info.Size() == rec.Size:
				rec.Health = HealthHealthy
				report.Healthy++
			case err == nil:
				rec.Health = HealthModified
				report.Modified++
			case utils.FileExists(s.objectPath(rec.ContentHash)):
				// not at the recorded location but present at the
				// canonical shard path
				rec.Health = HealthRelocated
				report.Relocated++
			default:
				rec.Health = HealthMissing
				report.Missing++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flush catalog after health check: %w", err)
	}

	return report, nil
}

// isContentHash reports whether name looks like a hex SHA-256 digest.
func isContentHash(name string) bool {
	if len(name) != 64 {
		return false
	}
	for _, c := range name {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// sniffMimeType reads the leading bytes of the object for content detection.
// Scanned objects have no filename to go by.
func sniffMimeType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "application/octet-stream"
	}
	return utils.DetectContentType("", buf[:n])
}
