// internal/entity/descriptor.go
//
// Per-table persistence configuration.
//
// Context
// -------
// A Descriptor is read once at startup and shared by every record of a
// table.  It answers the questions the write path asks: which table, which
// key columns, is there a version column, which operations run inside a
// transaction, and where does the table live (tenant app schema or org
// shard, branch or root).
//
// Notes
// -----
//   - Descriptors are immutable after registration; never edit one while
//     writes are in flight.
//   - Oxford commas, two spaces after periods.
package entity

import (
	"errors"
	"time"
)

// Op is a bitmask of write operations.
type Op uint8

const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete

	OpAll = OpInsert | OpUpdate | OpDelete
)

// Scope says which kind of database owns a table.
type Scope uint8

const (
	// ScopeOrg tables live in org shards.
	ScopeOrg Scope = iota
	// ScopeTenant tables live in the tenant's app-level database.
	ScopeTenant
)

// Level picks the implicit org database when no org id is given.
type Level uint8

const (
	// LevelBranch routes to the ambient (branch office) shard.
	LevelBranch Level = iota
	// LevelRoot routes to the tenant's root company database.
	LevelRoot
)

// AuditFunc computes audit columns from the clock and the actor id ("" when
// anonymous).
type AuditFunc func(now time.Time, actorID string) map[string]any

// ErrNoTable is returned by Validate for a descriptor without a table.
var ErrNoTable = errors.New("entity: descriptor has no table")

// Descriptor configures one table.
type Descriptor struct {
	Table         string
	PrimaryKey    []string // defaults to ["id"]
	ManualID      bool     // disables UUID assignment on insert
	VersionColumn string   // optimistic lock column, "" disables locking
	Transactional Op
	Scope         Scope
	Level         Level

	// Columns, when set, is the table's column list and replaces schema
	// introspection.
	Columns []string

	// Rules are go-playground/validator map rules checked before a write,
	// e.g. {"name": "required,max=64"}.
	Rules map[string]any

	InsertAudit AuditFunc // defaults to InsertAudit
	UpdateAudit AuditFunc // defaults to UpdateAudit
}

// Keys returns the primary key columns.
func (d *Descriptor) Keys() []string {
	if len(d.PrimaryKey) == 0 {
		return []string{"id"}
	}
	return d.PrimaryKey
}

// IsTransactional reports whether op runs inside a transaction.
func (d *Descriptor) IsTransactional(op Op) bool { return d.Transactional&op != 0 }

// Validate checks the descriptor is usable.
func (d *Descriptor) Validate() error {
	if d == nil || d.Table == "" {
		return ErrNoTable
	}
	return nil
}

func (d *Descriptor) insertAudit() AuditFunc {
	if d.InsertAudit != nil {
		return d.InsertAudit
	}
	return InsertAudit
}

func (d *Descriptor) updateAudit() AuditFunc {
	if d.UpdateAudit != nil {
		return d.UpdateAudit
	}
	return UpdateAudit
}

// InsertAudit establishes full provenance for a new row.
func InsertAudit(now time.Time, actorID string) map[string]any {
	cols := map[string]any{
		"created_on":  now,
		"modified_on": now,
		"is_deleted":  false,
	}
	if actorID != "" {
		cols["created_by"] = actorID
		cols["modified_by"] = actorID
	}
	return cols
}

// UpdateAudit touches modification columns only, never creation provenance.
func UpdateAudit(now time.Time, actorID string) map[string]any {
	cols := map[string]any{"modified_on": now}
	if actorID != "" {
		cols["modified_by"] = actorID
	}
	return cols
}
