package device

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Registry answers which device holds which content. It reads the
// device_blobs presence rows maintained through the batch engine; it never
// writes them itself.
type Registry struct {
	db *sqlx.DB
}

func NewRegistry(db *sqlx.DB) *Registry {
	return &Registry{db: db}
}

// BlobView is the per-hash presence summary for one querying device.
type BlobView struct {
	ContentHash         string `db:"content_hash" json:"contentHash"`
	PresentOnThisDevice bool   `db:"on_device" json:"presentOnThisDevice"`
	PresentElsewhere    bool   `db:"elsewhere" json:"presentElsewhere"`
}

// OrphanedBlob describes content known to exist on some device but not on
// the querying one. Callers must treat it as unavailable until a transfer
// happens; the bytes are not locally fetchable.
type OrphanedBlob struct {
	ContentHash string `db:"content_hash" json:"contentHash"`
	Size        int64  `db:"size" json:"size"`
	MimeType    string `db:"mime_type" json:"mimeType"`
	Filename    string `db:"filename" json:"filename"`
}

// DeviceSummary aggregates one device's presence rows.
type DeviceSummary struct {
	DeviceID   string `db:"device_id" json:"deviceId"`
	BlobCount  int    `db:"blob_count" json:"blobCount"`
	LastSeenAt int64  `db:"last_seen_at" json:"lastSeenAt"`
}

// View returns the presence summary of every known hash for one principal,
// from the perspective of deviceID.
func (r *Registry) View(ctx context.Context, owner, deviceID string) ([]*BlobView, error) {
	var views []*BlobView
	err := r.db.SelectContext(ctx, &views, `
		SELECT content_hash,
		       MAX(CASE WHEN device_id = ? AND present = 1 THEN 1 ELSE 0 END) AS on_device,
		       MAX(CASE WHEN device_id != ? AND present = 1 THEN 1 ELSE 0 END) AS elsewhere
		FROM device_blobs
		WHERE owner_id = ?
		GROUP BY content_hash
		ORDER BY content_hash`,
		deviceID, deviceID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("device view: %w", err)
	}
	return views, nil
}

// Orphaned returns the blobs present on at least one device but absent from
// deviceID, with the shared metadata needed to request a transfer.
func (r *Registry) Orphaned(ctx context.Context, owner, deviceID string) ([]*OrphanedBlob, error) {
	var orphans []*OrphanedBlob
	err := r.db.SelectContext(ctx, &orphans, `
		SELECT b.content_hash, b.size, b.mime_type, b.filename
		FROM blobs b
		WHERE b.owner_id = ?
		  AND EXISTS (
			SELECT 1 FROM device_blobs d
			WHERE d.owner_id = b.owner_id AND d.content_hash = b.content_hash AND d.present = 1
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM device_blobs d
			WHERE d.owner_id = b.owner_id AND d.content_hash = b.content_hash
			  AND d.device_id = ? AND d.present = 1
		  )
		ORDER BY b.content_hash`,
		owner, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("orphaned blobs: %w", err)
	}
	return orphans, nil
}

// Devices lists every device holding content for the principal.
func (r *Registry) Devices(ctx context.Context, owner string) ([]*DeviceSummary, error) {
	var devices []*DeviceSummary
	err := r.db.SelectContext(ctx, &devices, `
		SELECT device_id, COUNT(*) AS blob_count, MAX(last_seen_at) AS last_seen_at
		FROM device_blobs
		WHERE owner_id = ? AND present = 1
		GROUP BY device_id
		ORDER BY device_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}
