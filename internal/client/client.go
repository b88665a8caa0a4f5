package client

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/deeprecall/deeprecall/internal/blobstore"
	"github.com/deeprecall/deeprecall/internal/recallsdk"
	"github.com/deeprecall/deeprecall/internal/writebuf"
)

const maxBackoffShift = 6 // caps backoff at interval * 64

// Client is the device-side runtime: a local-first blob store plus a durable
// write buffer flushing to the sync server. Local mutations commit
// immediately; the server learns about them on the next flush.
type Client struct {
	config *Config
	store  *blobstore.Store
	buf    *writebuf.Buffer
	sdk    *recallsdk.SDK
}

func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := blobstore.NewStore(filepath.Join(config.DataDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	opts := []recallsdk.Option{}
	if config.AuthToken != "" {
		opts = append(opts, recallsdk.WithAuthToken(config.AuthToken))
	} else {
		opts = append(opts, recallsdk.WithDevIdentity(config.User, config.DeviceID))
	}
	sdk, err := recallsdk.New(config.ServerURL, opts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create sdk: %w", err)
	}

	bufOpts := []writebuf.Option{}
	if config.BatchSize > 0 {
		bufOpts = append(bufOpts, writebuf.WithBatchSize(config.BatchSize))
	}
	buf, err := writebuf.New(filepath.Join(config.DataDir, "writebuf.db"), sdk.Sync, bufOpts...)
	if err != nil {
		store.Close()
		sdk.Close()
		return nil, fmt.Errorf("open write buffer: %w", err)
	}

	return &Client{
		config: config,
		store:  store,
		buf:    buf,
		sdk:    sdk,
	}, nil
}

func (c *Client) Close() error {
	c.sdk.Close()
	if err := c.buf.Close(); err != nil {
		return err
	}
	return c.store.Close()
}

// Store exposes the local blob store for read paths (get/stat/list).
func (c *Client) Store() *blobstore.Store {
	return c.store
}

// Buffer exposes the write buffer for observability (pending/errors).
func (c *Client) Buffer() *writebuf.Buffer {
	return c.buf
}

// SDK exposes the server API for coordination queries.
func (c *Client) SDK() *recallsdk.SDK {
	return c.sdk
}

// PutBlob stores bytes locally and registers them for sync: the shared blob
// row plus this device's presence row. The local commit is immediate; no
// network happens here.
func (c *Client) PutBlob(data []byte, filename string) (*blobstore.BlobRecord, error) {
	rec, err := c.store.Put(data, blobstore.PutMeta{Filename: filename})
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	_, err = c.buf.Enqueue("blobs", writebuf.OpInsert, map[string]any{
		"content_hash": rec.ContentHash,
		"size":         rec.Size,
		"mime_type":    rec.MimeType,
		"filename":     rec.Filename,
		"created_at":   rec.CreatedAt,
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}

	if err := c.enqueuePresence(rec.ContentHash, true); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteBlob removes local bytes and marks this device's presence false.
// The shared blob row stays: other devices may still hold the content.
func (c *Client) DeleteBlob(hash string) error {
	if err := c.store.Delete(hash); err != nil {
		return err
	}
	return c.enqueuePresence(hash, false)
}

// SaveNote enqueues an insert for a new note. An empty id gets one assigned.
func (c *Client) SaveNote(id, title, content string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := c.buf.Enqueue("notes", writebuf.OpInsert, map[string]any{
		"id":         id,
		"title":      title,
		"content":    content,
		"updated_at": time.Now().UnixMilli(),
	})
	return id, err
}

// UpdateNote enqueues a full-row update; the server resolves concurrent
// writers by last-write-wins on updated_at.
func (c *Client) UpdateNote(id, title, content string) error {
	_, err := c.buf.Enqueue("notes", writebuf.OpUpdate, map[string]any{
		"id":         id,
		"title":      title,
		"content":    content,
		"updated_at": time.Now().UnixMilli(),
	})
	return err
}

func (c *Client) DeleteNote(id string) error {
	_, err := c.buf.Enqueue("notes", writebuf.OpDelete, map[string]any{
		"id":         id,
		"updated_at": time.Now().UnixMilli(),
	})
	return err
}

// SaveAnnotation enqueues an annotation attached to a note and optionally
// anchored to blob content.
func (c *Client) SaveAnnotation(id, noteID, contentHash, body string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	payload := map[string]any{
		"id":         id,
		"body":       body,
		"updated_at": time.Now().UnixMilli(),
	}
	if noteID != "" {
		payload["note_id"] = noteID
	}
	if contentHash != "" {
		payload["content_hash"] = contentHash
	}
	_, err := c.buf.Enqueue("annotations", writebuf.OpInsert, payload)
	return id, err
}

// SyncNow flushes one batch to the server.
func (c *Client) SyncNow(ctx context.Context) (*writebuf.FlushReport, error) {
	return c.buf.Flush(ctx)
}

// Run flushes on a fixed interval, backing off exponentially while the
// server stays unreachable. Returns when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	slog.Info("sync loop start", "device", c.config.DeviceID, "interval", c.config.Interval)
	defer slog.Info("sync loop stop")

	for {
		delay := c.backoffDelay()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		report, err := c.buf.Flush(ctx)
		if err != nil {
			slog.Warn("flush failed, changes remain pending", "error", err)
			continue
		}
		if report.Submitted > 0 {
			slog.Info("flush", "submitted", report.Submitted, "applied", report.Applied, "failed", report.Failed)
		}
	}
}

// ResetIdentity purges everything tied to the previous principal: the write
// buffer, then the catalog, then a rescan rebuilds coordination metadata
// from the bytes actually on disk.
func (c *Client) ResetIdentity(ctx context.Context) (*blobstore.ScanResult, error) {
	if err := c.buf.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear write buffer: %w", err)
	}
	if err := c.store.Purge(); err != nil {
		return nil, fmt.Errorf("purge catalog: %w", err)
	}
	result, err := c.store.Scan()
	if err != nil {
		return nil, fmt.Errorf("rescan after reset: %w", err)
	}
	slog.Info("identity reset", "adopted", result.Added)
	return result, nil
}

func (c *Client) enqueuePresence(hash string, present bool) error {
	now := time.Now().UnixMilli()
	op := writebuf.OpInsert
	if !present {
		op = writebuf.OpUpdate
	}
	_, err := c.buf.Enqueue("device_blobs", op, map[string]any{
		"device_id":    c.config.DeviceID,
		"content_hash": hash,
		"present":      present,
		"last_seen_at": now,
		"updated_at":   now,
	})
	return err
}

func (c *Client) backoffDelay() time.Duration {
	shift := c.buf.MaxRetryCount()
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return c.config.Interval * (1 << shift)
}
