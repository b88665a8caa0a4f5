package writebuf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/deeprecall/deeprecall/internal/db"
)

const DefaultBatchSize = 50

const schemaSQL = `
CREATE TABLE IF NOT EXISTS write_buffer (
	change_id   TEXT PRIMARY KEY,
	tbl         TEXT NOT NULL,
	op          TEXT NOT NULL,
	payload     TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_write_buffer_status ON write_buffer(status, enqueued_at);
`

// Buffer is the client-side durable write queue. Enqueue commits locally and
// returns immediately; Flush pushes a bounded batch to the server and applies
// the per-change verdicts. No change is lost on transient failure.
type Buffer struct {
	db        *sqlx.DB
	submit    Submitter
	batchSize int

	// mu serializes queue state transitions of Flush and Clear. The
	// network call runs outside the lock; epoch detects a Clear that
	// happened while a flush was in flight so stale verdicts are dropped.
	mu    sync.Mutex
	epoch uint64
}

// Option configures a Buffer.
type Option func(*Buffer)

func WithBatchSize(n int) Option {
	return func(b *Buffer) {
		b.batchSize = n
	}
}

// New opens (or creates) a durable buffer at dbPath.
func New(dbPath string, submitter Submitter, opts ...Option) (*Buffer, error) {
	sdb, err := db.NewSqliteDB(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open write buffer db: %w", err)
	}
	if _, err := sdb.Exec(schemaSQL); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("init write buffer schema: %w", err)
	}

	// changes stranded mid-flush by a crash come back as pending; the server
	// side is idempotent, so re-submitting an already-applied change is safe
	res, err := sdb.Exec(
		`UPDATE write_buffer SET status = ?, retry_count = retry_count + 1 WHERE status = ?`,
		StatusPending, StatusSyncing,
	)
	if err != nil {
		sdb.Close()
		return nil, fmt.Errorf("recover in-flight changes: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("write buffer recovered in-flight changes", "count", n)
	}

	b := &Buffer{
		db:        sdb,
		submit:    submitter,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Buffer) Close() error {
	return b.db.Close()
}

// Enqueue appends a mutation to the queue and returns without any network
// I/O. This is the local-first contract: the write path never waits on the
// server.
func (b *Buffer) Enqueue(table string, op Op, payload any) (*Change, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	change := &Change{
		ID:         uuid.NewString(),
		Table:      table,
		Op:         op,
		Payload:    raw,
		EnqueuedAt: time.Now().UnixMilli(),
		Status:     StatusPending,
	}

	_, err = b.db.Exec(
		`INSERT INTO write_buffer (change_id, tbl, op, payload, enqueued_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		change.ID, change.Table, change.Op, string(change.Payload), change.EnqueuedAt, change.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue change: %w", err)
	}

	return change, nil
}

// Flush submits the oldest pending changes as one batch. Applied changes are
// removed, per-change failures are parked with status=error, and a transport
// failure returns every change to pending with its retry count bumped.
// Safe to call repeatedly and concurrently with Enqueue and Clear.
func (b *Buffer) Flush(ctx context.Context) (*FlushReport, error) {
	b.mu.Lock()
	epoch := b.epoch
	batch, err := b.takeBatch()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return &FlushReport{}, nil
	}

	result, submitErr := b.submit.SubmitBatch(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.epoch != epoch {
		// the queue was cleared mid-flight; whatever the server did,
		// these rows no longer exist locally and must not come back
		slog.Debug("write buffer flush aborted by clear", "changes", len(batch))
		return &FlushReport{Submitted: len(batch), Aborted: true}, nil
	}

	if submitErr != nil {
		if err := b.requeue(batch); err != nil {
			return nil, err
		}
		return &FlushReport{Submitted: len(batch)}, fmt.Errorf("submit batch: %w", submitErr)
	}

	report := &FlushReport{Submitted: len(batch)}
	if err := b.settle(batch, result, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Clear empties the queue. Used on identity or session reset. Any in-flight
// flush observes the epoch bump and discards its verdicts.
func (b *Buffer) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.epoch++
	if _, err := b.db.ExecContext(ctx, `DELETE FROM write_buffer`); err != nil {
		return fmt.Errorf("clear write buffer: %w", err)
	}
	return nil
}

// Pending returns pending changes in enqueue order.
func (b *Buffer) Pending() ([]*Change, error) {
	return b.selectByStatus(StatusPending)
}

// Errors returns changes the server rejected.
func (b *Buffer) Errors() ([]*Change, error) {
	return b.selectByStatus(StatusError)
}

// MaxRetryCount returns the highest retry count among pending changes, used
// by callers to drive backoff.
func (b *Buffer) MaxRetryCount() int {
	var n int
	if err := b.db.Get(&n, `SELECT COALESCE(MAX(retry_count), 0) FROM write_buffer WHERE status = ?`, StatusPending); err != nil {
		return 0
	}
	return n
}

// takeBatch marks a bounded batch of pending changes as syncing and returns
// them. Caller holds mu.
func (b *Buffer) takeBatch() ([]*Change, error) {
	var batch []*Change
	err := b.db.Select(&batch,
		`SELECT change_id, tbl, op, payload, enqueued_at, status, retry_count, last_error
		 FROM write_buffer WHERE status = ? ORDER BY enqueued_at, rowid LIMIT ?`,
		StatusPending, b.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`UPDATE write_buffer SET status = ? WHERE change_id IN (?)`,
		StatusSyncing, changeIDs(batch),
	)
	if err != nil {
		return nil, err
	}
	if _, err := b.db.Exec(b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("mark syncing: %w", err)
	}
	return batch, nil
}

// requeue returns a batch to pending after a transport failure. Caller
// holds mu.
func (b *Buffer) requeue(batch []*Change) error {
	query, args, err := sqlx.In(
		`UPDATE write_buffer SET status = ?, retry_count = retry_count + 1 WHERE change_id IN (?)`,
		StatusPending, changeIDs(batch),
	)
	if err != nil {
		return err
	}
	if _, err := b.db.Exec(b.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("requeue batch: %w", err)
	}
	return nil
}

// settle applies the server verdicts: applied rows are deleted, rejected
// rows are parked, anything unaccounted for goes back to pending. Caller
// holds mu.
func (b *Buffer) settle(batch []*Change, result *SubmitResult, report *FlushReport) error {
	seen := make(map[string]bool, len(batch))

	if len(result.Applied) > 0 {
		query, args, err := sqlx.In(`DELETE FROM write_buffer WHERE change_id IN (?)`, result.Applied)
		if err != nil {
			return err
		}
		if _, err := b.db.Exec(b.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("remove applied: %w", err)
		}
		for _, id := range result.Applied {
			seen[id] = true
		}
		report.Applied = len(result.Applied)
	}

	for _, ce := range result.Errors {
		if _, err := b.db.Exec(
			`UPDATE write_buffer SET status = ?, last_error = ? WHERE change_id = ?`,
			StatusError, ce.Error, ce.ID,
		); err != nil {
			return fmt.Errorf("park rejected change %s: %w", ce.ID, err)
		}
		seen[ce.ID] = true
		report.Failed++
	}

	var unaccounted []*Change
	for _, c := range batch {
		if !seen[c.ID] {
			unaccounted = append(unaccounted, c)
		}
	}
	if len(unaccounted) > 0 {
		slog.Warn("server verdict missing for changes, requeueing", "count", len(unaccounted))
		if err := b.requeue(unaccounted); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) selectByStatus(status Status) ([]*Change, error) {
	var changes []*Change
	err := b.db.Select(&changes,
		`SELECT change_id, tbl, op, payload, enqueued_at, status, retry_count, last_error
		 FROM write_buffer WHERE status = ? ORDER BY enqueued_at, rowid`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", status, err)
	}
	return changes, nil
}

func changeIDs(batch []*Change) []string {
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	return ids
}
