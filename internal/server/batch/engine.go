package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	owner_id     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size         INTEGER NOT NULL CHECK (size >= 0),
	mime_type    TEXT NOT NULL DEFAULT '',
	filename     TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (owner_id, content_hash)
);

CREATE TABLE IF NOT EXISTS device_blobs (
	owner_id     TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	present      INTEGER NOT NULL DEFAULT 1,
	last_seen_at INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (owner_id, device_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_device_blobs_hash ON device_blobs(owner_id, content_hash);

CREATE TABLE IF NOT EXISTS notes (
	owner_id   TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS annotations (
	owner_id     TEXT NOT NULL,
	id           TEXT NOT NULL,
	note_id      TEXT,
	content_hash TEXT,
	body         TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (owner_id, id)
);

CREATE INDEX IF NOT EXISTS idx_annotations_note ON annotations(owner_id, note_id);

CREATE TABLE IF NOT EXISTS applied_changes (
	change_id  TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	tbl        TEXT NOT NULL,
	row_id     TEXT NOT NULL,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tombstones (
	owner_id   TEXT NOT NULL,
	tbl        TEXT NOT NULL,
	row_id     TEXT NOT NULL,
	deleted_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, tbl, row_id)
);
`

// Engine applies batches of client changes against the relational source of
// truth. One batch runs in one transaction; each change gets its own
// savepoint so a failing change rolls back alone and its siblings proceed.
type Engine struct {
	db     *sqlx.DB
	tables map[string]*tableDesc
}

// NewEngine initializes the schema and resolves the table registry.
func NewEngine(db *sqlx.DB) (*Engine, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("init sync schema: %w", err)
	}
	return &Engine{
		db:     db,
		tables: tableRegistry(),
	}, nil
}

// Apply runs one batch for one principal. Per-change failures are isolated
// into the result; only batch-level failures (begin/commit) return an error.
func (e *Engine) Apply(ctx context.Context, owner string, changes []*Change) (*Result, error) {
	if owner == "" {
		return nil, ErrNoOwner
	}

	result := &Result{
		Applied:   []string{},
		Responses: []Row{},
	}
	if len(changes) == 0 {
		result.Success = true
		return result, nil
	}

	ordered := orderChanges(e.tables, changes)

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, change := range ordered {
		sp := fmt.Sprintf("chg_%d", i)
		if _, err := tx.Exec("SAVEPOINT " + sp); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}

		row, err := e.applyChange(tx, owner, change)
		if err != nil {
			// roll back this change only; siblings continue
			tx.Exec("ROLLBACK TO " + sp)
			tx.Exec("RELEASE " + sp)
			slog.Warn("change rejected", "owner", owner, "change", change.ID, "table", change.Table, "op", change.Op, "error", err)
			result.Errors = append(result.Errors, ChangeError{ID: change.ID, Error: err.Error()})
			continue
		}

		if _, err := tx.Exec("RELEASE " + sp); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		result.Applied = append(result.Applied, change.ID)
		if row != nil {
			result.Responses = append(result.Responses, row)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

// applyChange executes one change inside the batch transaction. Panics from
// unexpected payloads are converted to per-change errors so they stay
// isolated like any other failure.
func (e *Engine) applyChange(tx *sqlx.Tx, owner string, change *Change) (row Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, err = nil, fmt.Errorf("apply change %s: panic: %v", change.ID, r)
		}
	}()

	if change.ID == "" {
		return nil, fmt.Errorf("%w: change id must not be empty", ErrValidation)
	}

	desc, ok := e.tables[change.Table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ErrValidation, change.Table)
	}

	var payload map[string]any
	if err := json.Unmarshal(change.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}

	keys, err := desc.key(payload)
	if err != nil {
		return nil, err
	}
	rowID := desc.rowID(keys)

	updatedAt, err := payloadUpdatedAt(payload)
	if err != nil {
		return nil, err
	}

	// idempotency: replaying an applied change is a no-op reporting the
	// current row. The ledger insert lives inside the savepoint, so a
	// failing change leaves no ledger entry behind.
	res, err := tx.Exec(
		`INSERT INTO applied_changes (change_id, owner_id, tbl, row_id, applied_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(change_id) DO NOTHING`,
		change.ID, owner, desc.name, rowID, updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("record change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("change replayed", "owner", owner, "change", change.ID)
		return e.currentRow(tx, desc, owner, keys, rowID, updatedAt)
	}

	switch change.Op {
	case OpInsert:
		return e.applyUpsert(tx, desc, owner, change, payload, keys, rowID, updatedAt, true)
	case OpUpdate:
		return e.applyUpsert(tx, desc, owner, change, payload, keys, rowID, updatedAt, false)
	case OpDelete:
		return e.applyDelete(tx, desc, owner, keys, rowID, updatedAt)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrValidation, change.Op)
	}
}

// applyUpsert handles insert and update. Both are single-statement upserts:
// a missing row degrades an update to an insert, and the last-write-wins
// compare happens inside the conflict clause, atomically with the write.
func (e *Engine) applyUpsert(tx *sqlx.Tx, desc *tableDesc, owner string, change *Change, payload map[string]any, keys []any, rowID string, updatedAt int64, isInsert bool) (Row, error) {
	// a row deleted with a newer timestamp stays deleted
	if ts, ok := e.tombstone(tx, owner, desc.name, rowID); ok {
		if ts >= updatedAt {
			slog.Debug("write older than tombstone", "change", change.ID, "row", rowID)
			return deletedAck(desc, keys, ts), nil
		}
		if _, err := tx.Exec(
			`DELETE FROM tombstones WHERE owner_id = ? AND tbl = ? AND row_id = ?`,
			owner, desc.name, rowID,
		); err != nil {
			return nil, fmt.Errorf("clear tombstone: %w", err)
		}
	}

	cols, err := desc.bind(payload)
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(cols)+2)
	args = append(args, owner)
	args = append(args, cols...)
	args = append(args, updatedAt)

	query := desc.lwwUpdateSQL
	if isInsert {
		if desc.policy == existingWinsOnConflict {
			// content-addressed rows: equal key means equal content,
			// the stored row is never overwritten
			query = desc.insertSQL
		} else {
			query = desc.upsertSQL
		}
	}

	if _, err := tx.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("%s %s: %w", change.Op, desc.name, err)
	}

	row, err := e.selectRow(tx, desc, owner, keys)
	if err != nil {
		return nil, fmt.Errorf("read back %s/%s: %w", desc.name, rowID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("read back %s/%s: row missing after upsert", desc.name, rowID)
	}

	if stored, ok := row["updated_at"].(int64); ok && stored > updatedAt {
		// lost the LWW compare; the stored row is the applied result and
		// this still counts as success
		slog.Debug("stale write", "change", change.ID, "row", rowID, "stored", stored, "incoming", updatedAt)
	}
	return row, nil
}

// applyDelete removes a row unconditionally and records a tombstone. A
// delete that matched nothing still acks: the caller's intent holds.
func (e *Engine) applyDelete(tx *sqlx.Tx, desc *tableDesc, owner string, keys []any, rowID string, deletedAt int64) (Row, error) {
	args := append([]any{owner}, keys...)
	if _, err := tx.Exec(desc.deleteSQL, args...); err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", desc.name, rowID, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO tombstones (owner_id, tbl, row_id, deleted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, tbl, row_id) DO UPDATE SET deleted_at = excluded.deleted_at
		 WHERE excluded.deleted_at > tombstones.deleted_at`,
		owner, desc.name, rowID, deletedAt,
	); err != nil {
		return nil, fmt.Errorf("record tombstone: %w", err)
	}

	return deletedAck(desc, keys, deletedAt), nil
}

// currentRow resolves the response for a replayed change: the live row when
// it exists, a tombstone ack otherwise.
func (e *Engine) currentRow(tx *sqlx.Tx, desc *tableDesc, owner string, keys []any, rowID string, updatedAt int64) (Row, error) {
	row, err := e.selectRow(tx, desc, owner, keys)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}
	if ts, ok := e.tombstone(tx, owner, desc.name, rowID); ok {
		return deletedAck(desc, keys, ts), nil
	}
	return deletedAck(desc, keys, updatedAt), nil
}

func (e *Engine) selectRow(tx *sqlx.Tx, desc *tableDesc, owner string, keys []any) (Row, error) {
	args := append([]any{owner}, keys...)
	rows, err := tx.Queryx(desc.selectSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	m := make(map[string]any)
	if err := rows.MapScan(m); err != nil {
		return nil, err
	}

	row := make(Row, len(m)+1)
	row["table"] = desc.name
	for k, v := range m {
		if k == "owner_id" {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[k] = v
	}
	return row, nil
}

func (e *Engine) tombstone(tx *sqlx.Tx, owner, tbl, rowID string) (int64, bool) {
	var ts int64
	err := tx.Get(&ts,
		`SELECT deleted_at FROM tombstones WHERE owner_id = ? AND tbl = ? AND row_id = ?`,
		owner, tbl, rowID,
	)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// deletedAck is the tombstone-style response for deletes and for writes that
// lost against a newer delete.
func deletedAck(desc *tableDesc, keys []any, deletedAt int64) Row {
	row := Row{
		"table":      desc.name,
		"deleted":    true,
		"deleted_at": deletedAt,
	}
	for i, k := range desc.keyCols {
		row[k] = keys[i]
	}
	return row
}

func payloadUpdatedAt(payload map[string]any) (int64, error) {
	raw, ok := payload["updated_at"]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrValidation, "updated_at")
	}
	f, ok := raw.(float64)
	if !ok || f <= 0 {
		return 0, fmt.Errorf("%w: field %q must be a positive epoch-ms number", ErrValidation, "updated_at")
	}
	return int64(f), nil
}
