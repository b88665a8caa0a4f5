package client

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeprecall/deeprecall/internal/writebuf"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(&Config{
		DataDir:   t.TempDir(),
		ServerURL: "http://127.0.0.1:1", // never dialed: these tests only enqueue
		DeviceID:  "test-device",
		User:      "alice@example.com",
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir(), ServerURL: "http://x", DeviceID: "d1"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Interval)

	assert.Error(t, (&Config{ServerURL: "http://x", DeviceID: "d1"}).Validate())
	assert.Error(t, (&Config{DataDir: "/tmp/x", DeviceID: "d1"}).Validate())
	assert.Error(t, (&Config{DataDir: "/tmp/x", ServerURL: "http://x"}).Validate())
}

func TestPutBlobEnqueuesContentAndPresence(t *testing.T) {
	c := newTestClient(t)

	rec, err := c.PutBlob([]byte("local first"), "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", rec.Filename)

	// the bytes are readable immediately, before any sync
	data, err := c.Store().Get(rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("local first"), data)

	pending, err := c.Buffer().Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, "blobs", pending[0].Table)
	assert.Equal(t, writebuf.OpInsert, pending[0].Op)

	assert.Equal(t, "device_blobs", pending[1].Table)
	var presence map[string]any
	require.NoError(t, json.Unmarshal(pending[1].Payload, &presence))
	assert.Equal(t, "test-device", presence["device_id"])
	assert.Equal(t, rec.ContentHash, presence["content_hash"])
	assert.Equal(t, true, presence["present"])
}

func TestDeleteBlobMarksAbsence(t *testing.T) {
	c := newTestClient(t)

	rec, err := c.PutBlob([]byte("short lived"), "tmp.txt")
	require.NoError(t, err)

	require.NoError(t, c.DeleteBlob(rec.ContentHash))

	pending, err := c.Buffer().Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)

	last := pending[2]
	assert.Equal(t, "device_blobs", last.Table)
	assert.Equal(t, writebuf.OpUpdate, last.Op)
	var presence map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &presence))
	assert.Equal(t, false, presence["present"])
}

func TestNoteLifecycleEnqueues(t *testing.T) {
	c := newTestClient(t)

	id, err := c.SaveNote("", "title", "content")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, c.UpdateNote(id, "title2", "content2"))
	require.NoError(t, c.DeleteNote(id))

	annID, err := c.SaveAnnotation("", id, "", "margin note")
	require.NoError(t, err)
	require.NotEmpty(t, annID)

	pending, err := c.Buffer().Pending()
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, writebuf.OpInsert, pending[0].Op)
	assert.Equal(t, writebuf.OpUpdate, pending[1].Op)
	assert.Equal(t, writebuf.OpDelete, pending[2].Op)
	assert.Equal(t, "annotations", pending[3].Table)

	// every payload carries the LWW timestamp
	for _, ch := range pending {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ch.Payload, &payload))
		assert.Contains(t, payload, "updated_at")
	}
}

func TestResetIdentityReadoptsBlobs(t *testing.T) {
	c := newTestClient(t)

	rec, err := c.PutBlob([]byte("kept through reset"), "keep.txt")
	require.NoError(t, err)

	result, err := c.ResetIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	// the queue is empty, the bytes are still here
	pending, err := c.Buffer().Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	data, err := c.Store().Get(rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept through reset"), data)
}

func TestBackoffDelayCaps(t *testing.T) {
	c := newTestClient(t)
	c.config.Interval = time.Second

	// no retries yet: base interval
	assert.Equal(t, time.Second, c.backoffDelay())
}
