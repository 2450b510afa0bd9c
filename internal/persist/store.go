// internal/persist/store.go
//
// Sharded persistence: insert, update, and bulk writes against an explicit
// or implicit shard.
//
// Context
// -------
// Each call is a fresh sequence; nothing is remembered between calls
// except what the connection caches keep:
//
//	InsertTo(e, org)   validate org → PrepareForInsert → route → INSERT
//	                   (inside a transaction when the descriptor asks)
//	UpdateTo(e, org)   validate org → PrepareForUpdate → route → UPDATE
//	                   by primary key, version-checked when locking is on
//	UpdateAllTo, DeleteAllTo
//	                   bulk statements, no lifecycle hooks
//	SaveTo(e, org)     InsertTo for new records, UpdateTo otherwise
//
// The implicit variants (Insert, Update, Save, UpdateAll, DeleteAll) skip
// the org check and route by descriptor: tenant-scoped tables go to the
// tenant database, root-level tables to the root company database, and
// everything else to the ambient org.
//
// A veto from the lifecycle is (false, nil).  Driver errors and stale
// writes are returned, never swallowed.  A transaction is committed or
// rolled back before any of these functions return, panics included.
//
// Notes
// -----
//   - Statements are built with squirrel and run on the primary pool.
//   - Oxford commas, two spaces after periods.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/connpool"
	"github.com/yanizio/tenantdb/internal/entity"
	"github.com/yanizio/tenantdb/internal/metrics"
)

// Connections is the routing surface the store needs.  *routing.Router
// satisfies it.
type Connections interface {
	Tenant(ctx context.Context) (*connpool.Conn, error)
	Root(ctx context.Context) (*connpool.Conn, error)
	Current(ctx context.Context) (*connpool.Conn, error)
	Org(ctx context.Context, orgID string) (*connpool.Conn, error)
}

// Options tunes a Store.
type Options struct {
	TxTimeout time.Duration // bounds a whole transaction; 0 disables
	Logger    *zap.Logger
}

// Store writes entities to their shard.  Safe for concurrent use; records
// are not.
type Store struct {
	conns     Connections
	life      *entity.Lifecycle
	txTimeout time.Duration
	log       *zap.Logger
}

// New wires a Store.
func New(conns Connections, life *entity.Lifecycle, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{conns: conns, life: life, txTimeout: opts.TxTimeout, log: log}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// -----------------------------------------------------------------------------
// Explicit routing
// -----------------------------------------------------------------------------

// InsertTo inserts e into the shard of orgID.  It reports whether the row
// was inserted.
func (s *Store) InsertTo(ctx context.Context, e entity.Entity, orgID string) (bool, error) {
	if err := requireOrg(orgID); err != nil {
		return false, err
	}
	return s.insert(ctx, e, orgID)
}

// UpdateTo updates e by primary key in the shard of orgID.  ok is false
// when the lifecycle vetoed the write; rows may be 0 on success.
func (s *Store) UpdateTo(ctx context.Context, e entity.Entity, orgID string) (rows int64, ok bool, err error) {
	if err := requireOrg(orgID); err != nil {
		return 0, false, err
	}
	return s.update(ctx, e, orgID)
}

// UpdateAllTo runs one bulk UPDATE in the shard of orgID.  A nil cond
// updates every row.
func (s *Store) UpdateAllTo(ctx context.Context, d *entity.Descriptor, attrs map[string]any, cond sq.Sqlizer, orgID string) (int64, error) {
	if err := requireOrg(orgID); err != nil {
		return 0, err
	}
	return s.updateAll(ctx, d, attrs, cond, orgID)
}

// DeleteAllTo runs one bulk DELETE in the shard of orgID.  A nil cond
// deletes every row.
func (s *Store) DeleteAllTo(ctx context.Context, d *entity.Descriptor, cond sq.Sqlizer, orgID string) (int64, error) {
	if err := requireOrg(orgID); err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, d, cond, orgID)
}

// SaveTo inserts new records and updates loaded ones in the shard of orgID.
func (s *Store) SaveTo(ctx context.Context, e entity.Entity, orgID string) (bool, error) {
	if err := requireOrg(orgID); err != nil {
		return false, err
	}
	return s.save(ctx, e, orgID)
}

// -----------------------------------------------------------------------------
// Implicit routing
// -----------------------------------------------------------------------------

// Insert inserts e into the database its descriptor routes to.
func (s *Store) Insert(ctx context.Context, e entity.Entity) (bool, error) {
	return s.insert(ctx, e, "")
}

// Update updates e in the database its descriptor routes to.
func (s *Store) Update(ctx context.Context, e entity.Entity) (int64, bool, error) {
	return s.update(ctx, e, "")
}

// Save inserts or updates e in the database its descriptor routes to.
func (s *Store) Save(ctx context.Context, e entity.Entity) (bool, error) {
	return s.save(ctx, e, "")
}

// UpdateAll is UpdateAllTo with implicit routing.
func (s *Store) UpdateAll(ctx context.Context, d *entity.Descriptor, attrs map[string]any, cond sq.Sqlizer) (int64, error) {
	return s.updateAll(ctx, d, attrs, cond, "")
}

// DeleteAll is DeleteAllTo with implicit routing.
func (s *Store) DeleteAll(ctx context.Context, d *entity.Descriptor, cond sq.Sqlizer) (int64, error) {
	return s.deleteAll(ctx, d, cond, "")
}

// DB returns the connection a descriptor routes to; orgID may be "" for
// implicit routing.  Readers should use Conn.Reader().
func (s *Store) DB(ctx context.Context, d *entity.Descriptor, orgID string) (*connpool.Conn, error) {
	return s.conn(ctx, d, orgID)
}

// -----------------------------------------------------------------------------
// Write paths
// -----------------------------------------------------------------------------

func (s *Store) insert(ctx context.Context, e entity.Entity, orgID string) (ok bool, err error) {
	defer func() { observe("insert", ok, err) }()

	d := e.Descriptor()
	if _, ok, err := s.life.PrepareForInsert(ctx, e); err != nil || !ok {
		return false, err
	}

	conn, err := s.conn(ctx, d, orgID)
	if err != nil {
		return false, err
	}

	attrs := e.Attributes()
	query, args, err := sq.Insert(d.Table).SetMap(attrs).ToSql()
	if err != nil {
		return false, err
	}

	write := func(ctx context.Context, x execer) (bool, error) {
		res, err := x.ExecContext(ctx, query, args...)
		if err != nil {
			return false, err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return false, err
		}
		return true, afterSave(ctx, e, true, attrs)
	}

	if d.IsTransactional(entity.OpInsert) {
		ok, err = s.inTx(ctx, conn.DB, write)
	} else {
		ok, err = write(ctx, conn.DB)
	}
	if ok && err == nil {
		e.MarkSaved()
	}
	return ok && err == nil, err
}

func (s *Store) update(ctx context.Context, e entity.Entity, orgID string) (rows int64, ok bool, err error) {
	defer func() {
		if errors.Is(err, ErrStaleObject) {
			metrics.WritesTotal.WithLabelValues("update", "stale").Inc()
			return
		}
		observe("update", ok, err)
	}()

	d := e.Descriptor()
	if _, ok, err := s.life.PrepareForUpdate(ctx, e); err != nil || !ok {
		return 0, false, err
	}

	values := e.Attributes()
	if len(values) == 0 {
		return 0, true, afterSave(ctx, e, false, values)
	}

	cond := sq.Eq{}
	for _, key := range d.Keys() {
		cond[key] = values[key]
	}

	lock := d.VersionColumn
	var next int64
	if lock != "" {
		cur := values[lock]
		if next, err = nextVersion(cur); err != nil {
			return 0, false, fmt.Errorf("%s.%s: %w", d.Table, lock, err)
		}
		values[lock] = next
		cond[lock] = cur
	}

	conn, err := s.conn(ctx, d, orgID)
	if err != nil {
		return 0, false, err
	}

	query, args, err := sq.Update(d.Table).SetMap(values).Where(cond).ToSql()
	if err != nil {
		return 0, false, err
	}

	write := func(ctx context.Context, x execer) (bool, error) {
		res, err := x.ExecContext(ctx, query, args...)
		if err != nil {
			return false, err
		}
		if rows, err = res.RowsAffected(); err != nil {
			return false, err
		}
		if lock != "" && rows == 0 {
			s.log.Info("stale write rejected",
				zap.String("table", d.Table),
				zap.Any("key", cond))
			return false, ErrStaleObject
		}
		return true, afterSave(ctx, e, false, values)
	}

	if d.IsTransactional(entity.OpUpdate) {
		ok, err = s.inTx(ctx, conn.DB, write)
	} else {
		ok, err = write(ctx, conn.DB)
	}
	if err != nil {
		return 0, false, err
	}
	if lock != "" {
		e.Set(lock, next)
	}
	return rows, ok, nil
}

func (s *Store) save(ctx context.Context, e entity.Entity, orgID string) (bool, error) {
	if e.IsNew() {
		return s.insert(ctx, e, orgID)
	}
	_, ok, err := s.update(ctx, e, orgID)
	return ok, err
}

func (s *Store) updateAll(ctx context.Context, d *entity.Descriptor, attrs map[string]any, cond sq.Sqlizer, orgID string) (n int64, err error) {
	defer func() { observe("update_all", err == nil, err) }()

	if err := d.Validate(); err != nil {
		return 0, err
	}
	b := sq.Update(d.Table).SetMap(attrs)
	if cond != nil {
		b = b.Where(cond)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, d, orgID, query, args)
}

func (s *Store) deleteAll(ctx context.Context, d *entity.Descriptor, cond sq.Sqlizer, orgID string) (n int64, err error) {
	defer func() { observe("delete_all", err == nil, err) }()

	if err := d.Validate(); err != nil {
		return 0, err
	}
	b := sq.Delete(d.Table)
	if cond != nil {
		b = b.Where(cond)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, d, orgID, query, args)
}

func (s *Store) exec(ctx context.Context, d *entity.Descriptor, orgID, query string, args []any) (int64, error) {
	conn, err := s.conn(ctx, d, orgID)
	if err != nil {
		return 0, err
	}
	res, err := conn.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// conn picks the connection: explicit org first, then descriptor routing.
func (s *Store) conn(ctx context.Context, d *entity.Descriptor, orgID string) (*connpool.Conn, error) {
	switch {
	case orgID != "":
		return s.conns.Org(ctx, orgID)
	case d.Scope == entity.ScopeTenant:
		return s.conns.Tenant(ctx)
	case d.Level == entity.LevelRoot:
		return s.conns.Root(ctx)
	default:
		return s.conns.Current(ctx)
	}
}

// inTx runs fn in a transaction that is committed only when fn reports
// success.  Every other exit, panics included, rolls back first.
func (s *Store) inTx(ctx context.Context, db *sqlx.DB, fn func(context.Context, execer) (bool, error)) (ok bool, err error) {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
	}()

	ok, err = fn(ctx, tx)
	if err != nil || !ok {
		s.rollback(tx)
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (s *Store) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Error("transaction rollback failed", zap.Error(err))
	}
}

func afterSave(ctx context.Context, e entity.Entity, insert bool, written map[string]any) error {
	if h, ok := e.(entity.AfterSaver); ok {
		return h.AfterSave(ctx, insert, written)
	}
	return nil
}

func requireOrg(orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return ErrInvalidArgument
	}
	return nil
}

// nextVersion returns cur+1 for the integer shapes drivers and callers use.
func nextVersion(cur any) (int64, error) {
	switch v := cur.(type) {
	case nil:
		return 1, nil
	case int:
		return int64(v) + 1, nil
	case int32:
		return int64(v) + 1, nil
	case int64:
		return v + 1, nil
	case uint32:
		return int64(v) + 1, nil
	case uint64:
		return int64(v) + 1, nil
	case []byte:
		return nextVersion(string(v))
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, ErrBadVersion
		}
		return n + 1, nil
	}
	return 0, ErrBadVersion
}

func observe(op string, ok bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !ok:
		outcome = "aborted"
	}
	metrics.WritesTotal.WithLabelValues(op, outcome).Inc()
}
