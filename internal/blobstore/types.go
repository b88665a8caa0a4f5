package blobstore

import "errors"

var (
	ErrBlobNotFound = errors.New("blobstore: blob not found")
	ErrStoreLocked  = errors.New("blobstore: store is locked by another process")
)

// HealthState classifies the relationship between a catalog entry and the
// bytes on disk.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthMissing   HealthState = "missing"
	HealthModified  HealthState = "modified"
	HealthRelocated HealthState = "relocated"
)

// BlobRecord is the catalog entry for one content-addressed object. The
// ContentHash is the identity: equal hashes reference byte-identical content.
type BlobRecord struct {
	ContentHash     string      `json:"contentHash"`
	Size            int64       `json:"size"`
	MimeType        string      `json:"mimeType"`
	Filename        string      `json:"filename,omitempty"`
	CreatedAt       int64       `json:"createdAt"`
	ModifiedAt      int64       `json:"modifiedAt"`
	StorageLocation string      `json:"storageLocation"`
	Health          HealthState `json:"health"`
}

// PutMeta carries caller-supplied metadata for a Put. MimeType is optional;
// when empty it is inferred from the filename and content.
type PutMeta struct {
	Filename string
	MimeType string
}

// ScanResult reports one reconciliation pass of catalog vs. disk.
// Per-object failures land in Errors and never abort the scan.
type ScanResult struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}

// HealthReport aggregates per-class counts over the whole catalog.
type HealthReport struct {
	TotalBlobs int   `json:"totalBlobs"`
	Healthy    int   `json:"healthy"`
	Missing    int   `json:"missing"`
	Modified   int   `json:"modified"`
	Relocated  int   `json:"relocated"`
	TotalSize  int64 `json:"totalSize"`
}
