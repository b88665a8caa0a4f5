package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeprecall/deeprecall/internal/db"
)

func newTestEngine(t *testing.T) (*Engine, *sqlx.DB) {
	t.Helper()
	sdb, err := db.NewSqliteDB(db.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { sdb.Close() })

	engine, err := NewEngine(sdb)
	require.NoError(t, err)
	return engine, sdb
}

func mkChange(id, table, op string, payload map[string]any) *Change {
	raw, _ := json.Marshal(payload)
	return &Change{ID: id, Table: table, Op: op, Payload: raw}
}

func TestApplyInsertNote(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "title": "hello", "content": "world", "updated_at": 100}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"c1"}, result.Applied)

	require.Len(t, result.Responses, 1)
	row := result.Responses[0]
	assert.Equal(t, "notes", row["table"])
	assert.Equal(t, "n1", row["id"])
	assert.Equal(t, "hello", row["title"])
	assert.Equal(t, int64(100), row["updated_at"])
	assert.NotContains(t, row, "owner_id")
}

func TestApplyRequiresOwner(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "", []*Change{
		mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "updated_at": 1}),
	})
	assert.ErrorIs(t, err, ErrNoOwner)
}

func TestApplyEmptyBatch(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Applied)
}

func TestApplyIdempotentReplay(t *testing.T) {
	engine, sdb := newTestEngine(t)

	change := mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "title": "first", "updated_at": 100})
	_, err := engine.Apply(context.Background(), "u1", []*Change{change})
	require.NoError(t, err)

	// mutate the row out of band so a real re-apply would be visible
	_, err = sdb.Exec(`UPDATE notes SET title = 'mutated' WHERE owner_id = 'u1' AND id = 'n1'`)
	require.NoError(t, err)

	// same change id replayed: acked as applied, row untouched
	result, err := engine.Apply(context.Background(), "u1", []*Change{change})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"c1"}, result.Applied)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "mutated", result.Responses[0]["title"])
}

func TestApplyLastWriteWins(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpUpdate, map[string]any{"id": "n1", "title": "newer", "updated_at": 100}),
	})
	require.NoError(t, err)

	// an older concurrent write still succeeds, but the newer row stands
	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c2", "notes", OpUpdate, map[string]any{"id": "n1", "title": "older", "updated_at": 50}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"c2"}, result.Applied)

	require.Len(t, result.Responses, 1)
	assert.Equal(t, "newer", result.Responses[0]["title"])
	assert.Equal(t, int64(100), result.Responses[0]["updated_at"])
}

func TestApplyEqualTimestampWins(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpUpdate, map[string]any{"id": "n1", "title": "first", "updated_at": 100}),
	})
	require.NoError(t, err)

	// ties go to the incoming write
	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c2", "notes", OpUpdate, map[string]any{"id": "n1", "title": "second", "updated_at": 100}),
	})
	require.NoError(t, err)
	assert.Equal(t, "second", result.Responses[0]["title"])
}

func TestApplyUpdateDegradesToInsert(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpUpdate, map[string]any{"id": "ghost", "title": "materialized", "updated_at": 10}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "materialized", result.Responses[0]["title"])
}

func TestApplySavepointIsolation(t *testing.T) {
	engine, _ := newTestEngine(t)

	changes := []*Change{
		mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "updated_at": 1}),
		mkChange("c2", "notes", OpInsert, map[string]any{"id": "n2", "updated_at": 2}),
		mkChange("c3", "notes", OpInsert, map[string]any{"title": "no id", "updated_at": 3}),
		mkChange("c4", "notes", OpInsert, map[string]any{"id": "n4", "updated_at": 4}),
		mkChange("c5", "notes", OpInsert, map[string]any{"id": "n5", "updated_at": 5}),
	}

	result, err := engine.Apply(context.Background(), "u1", changes)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"c1", "c2", "c4", "c5"}, result.Applied)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "c3", result.Errors[0].ID)

	// the siblings committed despite c3
	ok, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c6", "notes", OpUpdate, map[string]any{"id": "n5", "title": "still here", "updated_at": 6}),
	})
	require.NoError(t, err)
	assert.Equal(t, "still here", ok.Responses[0]["title"])
}

func TestApplyConstraintViolationIsolated(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": -5, "updated_at": 1}),
		mkChange("c2", "notes", OpInsert, map[string]any{"id": "n1", "updated_at": 2}),
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"c2"}, result.Applied)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "c1", result.Errors[0].ID)

	// the failed change left no ledger entry: a corrected retry under a new
	// change id goes through
	retry, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c3", "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": 5, "updated_at": 3}),
	})
	require.NoError(t, err)
	assert.True(t, retry.Success)
}

func TestApplyUnknownTableAndOp(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "secrets", OpInsert, map[string]any{"id": "x", "updated_at": 1}),
		mkChange("c2", "notes", "upsert", map[string]any{"id": "n1", "updated_at": 2}),
		mkChange("c3", "notes", OpInsert, map[string]any{"id": "n1"}),
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Errors, 3)
	// unknown tables sort to the end of the batch, so c1 fails last
	assert.Contains(t, result.Errors[0].Error, "unknown op")
	assert.Contains(t, result.Errors[1].Error, "updated_at")
	assert.Contains(t, result.Errors[2].Error, "unknown table")
}

func TestApplyDeleteAndTombstone(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "title": "doomed", "updated_at": 50}),
	})
	require.NoError(t, err)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c2", "notes", OpDelete, map[string]any{"id": "n1", "updated_at": 100}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, true, result.Responses[0]["deleted"])
	assert.Equal(t, int64(100), result.Responses[0]["deleted_at"])

	// a write older than the tombstone stays dead, but still acks
	stale, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c3", "notes", OpUpdate, map[string]any{"id": "n1", "title": "zombie", "updated_at": 80}),
	})
	require.NoError(t, err)
	assert.True(t, stale.Success)
	assert.Equal(t, true, stale.Responses[0]["deleted"])

	// a newer write clears the tombstone and resurrects the row
	fresh, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c4", "notes", OpUpdate, map[string]any{"id": "n1", "title": "reborn", "updated_at": 150}),
	})
	require.NoError(t, err)
	assert.True(t, fresh.Success)
	assert.Equal(t, "reborn", fresh.Responses[0]["title"])
}

func TestApplyDeleteMissingRowAcks(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpDelete, map[string]any{"id": "never-existed", "updated_at": 10}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Responses[0]["deleted"])
}

func TestApplyDeleteReplay(t *testing.T) {
	engine, _ := newTestEngine(t)

	del := mkChange("c1", "notes", OpDelete, map[string]any{"id": "n1", "updated_at": 100})
	_, err := engine.Apply(context.Background(), "u1", []*Change{del})
	require.NoError(t, err)

	// replaying the delete reports the tombstone, not an error
	result, err := engine.Apply(context.Background(), "u1", []*Change{del})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Responses[0]["deleted"])
	assert.Equal(t, int64(100), result.Responses[0]["deleted_at"])
}

func TestApplyBlobExistingWins(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": 10, "filename": "first.txt", "updated_at": 100}),
	})
	require.NoError(t, err)

	// same content re-announced from another device: stored row stands
	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c2", "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": 10, "filename": "second.txt", "updated_at": 200}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "first.txt", result.Responses[0]["filename"])
}

func TestApplyOrdersTablesByDependency(t *testing.T) {
	engine, _ := newTestEngine(t)

	// presence arrives before its blob; the engine reorders so blobs land
	// first within the same transaction
	result, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "device_blobs", OpInsert, map[string]any{"device_id": "d1", "content_hash": "aa11", "present": true, "updated_at": 1}),
		mkChange("c2", "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": 10, "updated_at": 1}),
		mkChange("c3", "annotations", OpInsert, map[string]any{"id": "a1", "note_id": "n1", "body": "margin", "updated_at": 1}),
		mkChange("c4", "notes", OpInsert, map[string]any{"id": "n1", "updated_at": 1}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"c2", "c1", "c4", "c3"}, result.Applied)
}

func TestApplyOwnersIsolated(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "u1", []*Change{
		mkChange("c1", "notes", OpInsert, map[string]any{"id": "n1", "title": "mine", "updated_at": 100}),
	})
	require.NoError(t, err)

	result, err := engine.Apply(context.Background(), "u2", []*Change{
		mkChange("c2", "notes", OpInsert, map[string]any{"id": "n1", "title": "theirs", "updated_at": 50}),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	// no cross-owner LWW: u2 gets their own row
	assert.Equal(t, "theirs", result.Responses[0]["title"])
}

func TestApplyTwoDevicesOneBlob(t *testing.T) {
	engine, sdb := newTestEngine(t)

	for i, dev := range []string{"d1", "d2"} {
		_, err := engine.Apply(context.Background(), "u1", []*Change{
			mkChange(fmt.Sprintf("b%d", i), "blobs", OpInsert, map[string]any{"content_hash": "aa11", "size": 10, "updated_at": 1}),
			mkChange(fmt.Sprintf("p%d", i), "device_blobs", OpInsert, map[string]any{"device_id": dev, "content_hash": "aa11", "present": true, "updated_at": 1}),
		})
		require.NoError(t, err)
	}

	var blobCount, presenceCount int
	require.NoError(t, sdb.Get(&blobCount, `SELECT COUNT(*) FROM blobs WHERE owner_id = 'u1'`))
	require.NoError(t, sdb.Get(&presenceCount, `SELECT COUNT(*) FROM device_blobs WHERE owner_id = 'u1'`))
	assert.Equal(t, 1, blobCount)
	assert.Equal(t, 2, presenceCount)
}

func TestApplyMalformedPayload(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Apply(context.Background(), "u1", []*Change{
		{ID: "c1", Table: "notes", Op: OpInsert, Payload: json.RawMessage(`{broken`)},
	})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "malformed payload")
}
