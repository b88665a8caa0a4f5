package batch

import (
	"fmt"
	"sort"
	"strings"
)

// conflictPolicy decides what an insert does when the primary key already
// exists.
type conflictPolicy int

const (
	// overwriteOnConflict replaces the existing row (replay-safe entity
	// tables)
	overwriteOnConflict conflictPolicy = iota
	// existingWinsOnConflict keeps the stored row untouched
	// (content-addressed tables: equal key means equal content)
	existingWinsOnConflict
)

type colKind int

const (
	kindText colKind = iota
	kindInt
	kindBool
)

// column maps one payload field to a table column. jsonKey and the column
// name are kept identical across the wire.
type column struct {
	name     string
	kind     colKind
	required bool
	nullable bool
}

// tableDesc is a resolved descriptor for one synced table. The set of
// descriptors is closed and built once at engine startup; no free-form
// string dispatch happens per change.
type tableDesc struct {
	name string
	// priority orders application within a batch so referenced tables
	// land before their dependents; lower applies first
	priority int
	keyCols  []string
	columns  []column
	policy   conflictPolicy

	insertSQL    string
	upsertSQL    string
	lwwUpdateSQL string
	selectSQL    string
	deleteSQL    string
}

// tableRegistry returns the closed set of synced tables.
//
// Dependency order: blobs before device_blobs (presence references content),
// notes before annotations (annotations reference their note).
func tableRegistry() map[string]*tableDesc {
	descs := []*tableDesc{
		{
			name:     "blobs",
			priority: 0,
			keyCols:  []string{"content_hash"},
			policy:   existingWinsOnConflict,
			columns: []column{
				{name: "content_hash", kind: kindText, required: true},
				{name: "size", kind: kindInt, required: true},
				{name: "mime_type", kind: kindText},
				{name: "filename", kind: kindText},
				{name: "created_at", kind: kindInt},
			},
		},
		{
			name:     "device_blobs",
			priority: 1,
			keyCols:  []string{"device_id", "content_hash"},
			policy:   overwriteOnConflict,
			columns: []column{
				{name: "device_id", kind: kindText, required: true},
				{name: "content_hash", kind: kindText, required: true},
				{name: "present", kind: kindBool, required: true},
				{name: "last_seen_at", kind: kindInt},
			},
		},
		{
			name:     "notes",
			priority: 2,
			keyCols:  []string{"id"},
			policy:   overwriteOnConflict,
			columns: []column{
				{name: "id", kind: kindText, required: true},
				{name: "title", kind: kindText},
				{name: "content", kind: kindText},
			},
		},
		{
			name:     "annotations",
			priority: 3,
			keyCols:  []string{"id"},
			policy:   overwriteOnConflict,
			columns: []column{
				{name: "id", kind: kindText, required: true},
				{name: "note_id", kind: kindText, nullable: true},
				{name: "content_hash", kind: kindText, nullable: true},
				{name: "body", kind: kindText},
			},
		},
	}

	registry := make(map[string]*tableDesc, len(descs))
	for _, d := range descs {
		d.buildSQL()
		registry[d.name] = d
	}
	return registry
}

// buildSQL precomputes the statements a descriptor needs. updated_at is
// engine-managed and always the last bound column.
func (d *tableDesc) buildSQL() {
	cols := make([]string, 0, len(d.columns)+2)
	cols = append(cols, "owner_id")
	for _, c := range d.columns {
		cols = append(cols, c.name)
	}
	cols = append(cols, "updated_at")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	conflict := "owner_id, " + strings.Join(d.keyCols, ", ")

	var sets []string
	for _, c := range d.columns {
		if contains(d.keyCols, c.name) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.name, c.name))
	}
	sets = append(sets, "updated_at = excluded.updated_at")
	setClause := strings.Join(sets, ", ")

	d.insertSQL = fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO NOTHING",
		d.name, strings.Join(cols, ", "), placeholders, conflict,
	)
	d.upsertSQL = fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		d.name, strings.Join(cols, ", "), placeholders, conflict, setClause,
	)
	// the WHERE on the conflict clause makes the timestamp compare and the
	// write one atomic statement: a stale write leaves the row untouched
	d.lwwUpdateSQL = fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s WHERE excluded.updated_at >= %s.updated_at",
		d.name, strings.Join(cols, ", "), placeholders, conflict, setClause, d.name,
	)

	var keyWhere []string
	for _, k := range d.keyCols {
		keyWhere = append(keyWhere, k+" = ?")
	}
	whereClause := "owner_id = ? AND " + strings.Join(keyWhere, " AND ")

	d.selectSQL = fmt.Sprintf("SELECT * FROM %s WHERE %s", d.name, whereClause)
	d.deleteSQL = fmt.Sprintf("DELETE FROM %s WHERE %s", d.name, whereClause)
}

// bind validates a decoded payload against the descriptor and produces the
// bound args in column order (without owner_id and updated_at).
func (d *tableDesc) bind(payload map[string]any) ([]any, error) {
	args := make([]any, 0, len(d.columns))
	for _, c := range d.columns {
		raw, ok := payload[c.name]
		if !ok || raw == nil {
			if c.required {
				return nil, fmt.Errorf("%w: %s: missing field %q", ErrValidation, d.name, c.name)
			}
			args = append(args, c.zero())
			continue
		}

		v, err := c.convert(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: field %q: %v", ErrValidation, d.name, c.name, err)
		}
		args = append(args, v)
	}
	return args, nil
}

// key extracts and validates the key column values from a payload.
func (d *tableDesc) key(payload map[string]any) ([]any, error) {
	keys := make([]any, 0, len(d.keyCols))
	for _, k := range d.keyCols {
		v, ok := payload[k].(string)
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: %s: key field %q must be a non-empty string", ErrValidation, d.name, k)
		}
		keys = append(keys, v)
	}
	return keys, nil
}

// rowID is the composite identity used by the idempotency ledger and
// tombstones.
func (d *tableDesc) rowID(keys []any) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(k)
	}
	return strings.Join(parts, "/")
}

func (c column) convert(raw any) (any, error) {
	switch c.kind {
	case kindText:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case kindInt:
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return int64(f), nil
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unknown column kind")
	}
}

func (c column) zero() any {
	if c.nullable {
		return nil
	}
	switch c.kind {
	case kindInt, kindBool:
		return int64(0)
	default:
		return ""
	}
}

// orderChanges stable-sorts a batch by table priority. Changes within the
// same table, and changes for unknown tables, keep arrival order.
func orderChanges(registry map[string]*tableDesc, changes []*Change) []*Change {
	ordered := make([]*Change, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return tablePriority(registry, ordered[i].Table) < tablePriority(registry, ordered[j].Table)
	})
	return ordered
}

func tablePriority(registry map[string]*tableDesc, table string) int {
	if d, ok := registry[table]; ok {
		return d.priority
	}
	return int(^uint(0) >> 1) // unknown tables sort last and fail validation there
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
