// internal/entity/lifecycle.go
//
// Identity and audit stamping run before every insert or update.
//
// Context
// -------
// PrepareForInsert and PrepareForUpdate compute the columns a write must
// carry in addition to the caller's values:
//
//   - insert: a UUID primary key when unset, created/modified timestamps,
//     is_deleted, and created_by/modified_by when an actor is known.
//   - update: modified timestamp and modified_by when an actor is known.
//
// Computed columns are filtered against the table schema.  A column the
// table does not have is skipped silently; a schema that cannot be loaded
// is an error, because writing without knowing the table is never safe.
//
// After stamping, descriptor Rules and the record's own Validator hook may
// veto the write.  A veto is ok == false with a nil error.
//
// Notes
// -----
//   - The clock, ID generator, and session accessor are injected so tests
//     can pin them.
//   - Oxford commas, two spaces after periods.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrNoSchema is returned when a descriptor declares no columns and no
// SchemaSource is configured.
var ErrNoSchema = errors.New("entity: no schema source for table")

// Session is the authenticated actor.
type Session struct {
	UserID string
}

// SessionAccessor returns the current session.  ok is false outside an
// authenticated context, which only omits the *_by columns.
type SessionAccessor interface {
	CurrentUserSession(ctx context.Context) (Session, bool)
}

// Lifecycle stamps records before they are written.  Safe for concurrent
// use.
type Lifecycle struct {
	schemas  SchemaSource
	sessions SessionAccessor
	now      func() time.Time
	newID    func() string
	validate *validator.Validate
}

// Option customises a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Lifecycle) { l.now = now } }

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(f func() string) Option { return func(l *Lifecycle) { l.newID = f } }

// NewLifecycle wires a Lifecycle.  schemas may be nil when every descriptor
// declares Columns; sessions may be nil for system jobs without an actor.
func NewLifecycle(schemas SchemaSource, sessions SessionAccessor, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		schemas:  schemas,
		sessions: sessions,
		now:      time.Now,
		newID:    uuid.NewString,
		validate: validator.New(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// PrepareForInsert assigns identity and insert audit columns to e in place
// and returns the columns it applied.
func (l *Lifecycle) PrepareForInsert(ctx context.Context, e Entity) (map[string]any, bool, error) {
	d := e.Descriptor()
	if err := d.Validate(); err != nil {
		return nil, false, err
	}

	computed := d.insertAudit()(l.now(), l.actor(ctx))
	if !d.ManualID && len(d.Keys()) == 1 {
		key := d.Keys()[0]
		if v, _ := e.Get(key); isEmpty(v) {
			computed[key] = l.newID()
		}
	}

	applied, err := l.fill(ctx, e, computed)
	if err != nil {
		return nil, false, err
	}
	ok, err := l.check(ctx, e, true)
	return applied, ok, err
}

// PrepareForUpdate applies update audit columns to e in place.
func (l *Lifecycle) PrepareForUpdate(ctx context.Context, e Entity) (map[string]any, bool, error) {
	d := e.Descriptor()
	if err := d.Validate(); err != nil {
		return nil, false, err
	}

	applied, err := l.fill(ctx, e, d.updateAudit()(l.now(), l.actor(ctx)))
	if err != nil {
		return nil, false, err
	}
	ok, err := l.check(ctx, e, false)
	return applied, ok, err
}

// fill assigns the computed columns the table actually has.
func (l *Lifecycle) fill(ctx context.Context, e Entity, computed map[string]any) (map[string]any, error) {
	if len(computed) == 0 {
		return map[string]any{}, nil
	}
	schema, err := l.schemaFor(ctx, e.Descriptor())
	if err != nil {
		return nil, err
	}
	applied := make(map[string]any, len(computed))
	for name, value := range computed {
		if _, ok := schema.Column(name); ok {
			e.Set(name, value)
			applied[name] = value
		}
	}
	return applied, nil
}

// check runs descriptor rules, then the record's own veto.
func (l *Lifecycle) check(ctx context.Context, e Entity, insert bool) (bool, error) {
	if rules := e.Descriptor().Rules; len(rules) > 0 {
		if errs := l.validate.ValidateMapCtx(ctx, e.Attributes(), rules); len(errs) > 0 {
			return false, nil
		}
	}
	if v, ok := e.(Validator); ok {
		return v.BeforeSave(ctx, insert)
	}
	return true, nil
}

func (l *Lifecycle) schemaFor(ctx context.Context, d *Descriptor) (Schema, error) {
	if len(d.Columns) > 0 {
		return NewStaticSchema(d.Columns...), nil
	}
	if l.schemas == nil {
		return nil, fmt.Errorf("%s: %w", d.Table, ErrNoSchema)
	}
	s, err := l.schemas.TableSchema(ctx, d.Table)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", d.Table, err)
	}
	return s, nil
}

func (l *Lifecycle) actor(ctx context.Context) string {
	if l.sessions == nil {
		return ""
	}
	if s, ok := l.sessions.CurrentUserSession(ctx); ok {
		return s.UserID
	}
	return ""
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	}
	return false
}
