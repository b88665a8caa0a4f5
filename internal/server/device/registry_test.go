package device

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeprecall/deeprecall/internal/db"
	"github.com/deeprecall/deeprecall/internal/server/batch"
)

// seed pushes presence state through the batch engine so the registry reads
// exactly what a synced client would have produced.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	sdb, err := db.NewSqliteDB(db.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { sdb.Close() })

	engine, err := batch.NewEngine(sdb)
	require.NoError(t, err)

	mk := func(id, table string, payload map[string]any) *batch.Change {
		raw, _ := json.Marshal(payload)
		return &batch.Change{ID: id, Table: table, Op: batch.OpInsert, Payload: raw}
	}

	result, err := engine.Apply(context.Background(), "u1", []*batch.Change{
		mk("b1", "blobs", map[string]any{"content_hash": "hash-a", "size": 10, "filename": "a.pdf", "mime_type": "application/pdf", "updated_at": 1}),
		mk("b2", "blobs", map[string]any{"content_hash": "hash-b", "size": 20, "filename": "b.txt", "updated_at": 1}),
		mk("b3", "blobs", map[string]any{"content_hash": "hash-c", "size": 30, "filename": "c.png", "updated_at": 1}),
		// hash-a on both devices, hash-b only on d2, hash-c dropped from d1
		mk("p1", "device_blobs", map[string]any{"device_id": "d1", "content_hash": "hash-a", "present": true, "last_seen_at": 100, "updated_at": 1}),
		mk("p2", "device_blobs", map[string]any{"device_id": "d2", "content_hash": "hash-a", "present": true, "last_seen_at": 200, "updated_at": 1}),
		mk("p3", "device_blobs", map[string]any{"device_id": "d2", "content_hash": "hash-b", "present": true, "last_seen_at": 200, "updated_at": 1}),
		mk("p4", "device_blobs", map[string]any{"device_id": "d1", "content_hash": "hash-c", "present": false, "last_seen_at": 100, "updated_at": 1}),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	return NewRegistry(sdb)
}

func TestRegistryView(t *testing.T) {
	registry := newTestRegistry(t)

	views, err := registry.View(context.Background(), "u1", "d1")
	require.NoError(t, err)
	require.Len(t, views, 3)

	byHash := map[string]*BlobView{}
	for _, v := range views {
		byHash[v.ContentHash] = v
	}

	assert.True(t, byHash["hash-a"].PresentOnThisDevice)
	assert.True(t, byHash["hash-a"].PresentElsewhere)

	assert.False(t, byHash["hash-b"].PresentOnThisDevice)
	assert.True(t, byHash["hash-b"].PresentElsewhere)

	// present=false rows count as absent everywhere
	assert.False(t, byHash["hash-c"].PresentOnThisDevice)
	assert.False(t, byHash["hash-c"].PresentElsewhere)
}

func TestRegistryOrphaned(t *testing.T) {
	registry := newTestRegistry(t)

	orphans, err := registry.Orphaned(context.Background(), "u1", "d1")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "hash-b", orphans[0].ContentHash)
	assert.Equal(t, int64(20), orphans[0].Size)
	assert.Equal(t, "b.txt", orphans[0].Filename)

	// d2 holds everything that is held anywhere
	orphans, err = registry.Orphaned(context.Background(), "u1", "d2")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRegistryDevices(t *testing.T) {
	registry := newTestRegistry(t)

	devices, err := registry.Devices(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "d1", devices[0].DeviceID)
	assert.Equal(t, 1, devices[0].BlobCount)
	assert.Equal(t, int64(100), devices[0].LastSeenAt)

	assert.Equal(t, "d2", devices[1].DeviceID)
	assert.Equal(t, 2, devices[1].BlobCount)
	assert.Equal(t, int64(200), devices[1].LastSeenAt)
}

func TestRegistryScopedByOwner(t *testing.T) {
	registry := newTestRegistry(t)

	views, err := registry.View(context.Background(), "someone-else", "d1")
	require.NoError(t, err)
	assert.Empty(t, views)

	devices, err := registry.Devices(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, devices)
}
