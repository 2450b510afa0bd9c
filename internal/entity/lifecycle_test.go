// internal/entity/lifecycle_test.go
//
// Unit-tests for identity assignment, audit stamping, schema filtering,
// and write vetoes.

package entity

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

type fakeSessions struct{ user string }

func (f fakeSessions) CurrentUserSession(context.Context) (Session, bool) {
	if f.user == "" {
		return Session{}, false
	}
	return Session{UserID: f.user}, true
}

type fakeSchemas struct {
	cols  StaticSchema
	err   error
	calls int
}

func (f *fakeSchemas) TableSchema(context.Context, string) (Schema, error) {
	f.calls++
	return f.cols, f.err
}

func newLifecycle(schemas SchemaSource, user string) *Lifecycle {
	return NewLifecycle(schemas, fakeSessions{user: user}, WithClock(func() time.Time { return fixedNow }))
}

var uuidShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestPrepareForInsertAssignsUUIDAndAudit(t *testing.T) {
	d := &Descriptor{Table: "orders", Columns: []string{
		"id", "name", "created_on", "modified_on", "created_by", "modified_by", "is_deleted",
	}}
	rec := NewRecord(d, map[string]any{"name": "first"})

	applied, ok, err := newLifecycle(nil, "u-1").PrepareForInsert(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("PrepareForInsert = %v, %v", ok, err)
	}
	if !uuidShape.MatchString(rec.ID()) {
		t.Fatalf("id not UUID-shaped: %q", rec.ID())
	}
	for col, want := range map[string]any{
		"created_on": fixedNow, "modified_on": fixedNow,
		"created_by": "u-1", "modified_by": "u-1", "is_deleted": false,
	} {
		if got, _ := rec.Get(col); got != want {
			t.Errorf("%s = %v, want %v", col, got, want)
		}
	}
	if len(applied) != 6 {
		t.Fatalf("applied = %v", applied)
	}
}

func TestPrepareForInsertWithoutSessionOmitsActor(t *testing.T) {
	d := &Descriptor{Table: "orders", Columns: []string{
		"id", "created_on", "modified_on", "created_by", "modified_by",
	}}
	rec := NewRecord(d, nil)

	if _, ok, err := newLifecycle(nil, "").PrepareForInsert(context.Background(), rec); err != nil || !ok {
		t.Fatalf("PrepareForInsert = %v, %v", ok, err)
	}
	if v, _ := rec.Get("created_on"); v != fixedNow {
		t.Fatalf("created_on = %v", v)
	}
	for _, col := range []string{"created_by", "modified_by"} {
		if _, ok := rec.Get(col); ok {
			t.Errorf("%s must be omitted without a session", col)
		}
	}
}

func TestPrepareForInsertKeepsExistingID(t *testing.T) {
	d := &Descriptor{Table: "orders", Columns: []string{"id"}}
	rec := NewRecord(d, map[string]any{"id": "fixed"})

	if _, _, err := newLifecycle(nil, "").PrepareForInsert(context.Background(), rec); err != nil {
		t.Fatalf("PrepareForInsert: %v", err)
	}
	if rec.ID() != "fixed" {
		t.Fatalf("preset id overwritten: %q", rec.ID())
	}

	manual := NewRecord(&Descriptor{Table: "seq", ManualID: true, Columns: []string{"id"}}, nil)
	newLifecycle(nil, "").PrepareForInsert(context.Background(), manual)
	if _, ok := manual.Get("id"); ok {
		t.Fatalf("ManualID descriptor must not receive a UUID")
	}
}

func TestPrepareSkipsUnknownColumns(t *testing.T) {
	schemas := &fakeSchemas{cols: NewStaticSchema("id", "name")}
	rec := NewRecord(&Descriptor{Table: "tags"}, map[string]any{"name": "x"})

	applied, ok, err := newLifecycle(schemas, "u-1").PrepareForInsert(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("PrepareForInsert = %v, %v", ok, err)
	}
	if _, has := rec.Get("created_on"); has {
		t.Fatalf("column missing from schema was written")
	}
	if len(applied) != 1 || schemas.calls != 1 {
		t.Fatalf("applied = %v, schema calls = %d", applied, schemas.calls)
	}
}

func TestPrepareForUpdateTouchesModifiedOnly(t *testing.T) {
	d := &Descriptor{Table: "orders", Columns: []string{
		"id", "created_on", "modified_on", "created_by", "modified_by",
	}}
	created := fixedNow.Add(-time.Hour)
	rec := LoadedRecord(d, map[string]any{"id": "a", "created_on": created, "created_by": "u-0"})

	applied, ok, err := newLifecycle(nil, "u-2").PrepareForUpdate(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("PrepareForUpdate = %v, %v", ok, err)
	}
	if v, _ := rec.Get("created_on"); v != created {
		t.Fatalf("created_on changed: %v", v)
	}
	if v, _ := rec.Get("created_by"); v != "u-0" {
		t.Fatalf("created_by changed: %v", v)
	}
	if v, _ := rec.Get("modified_by"); v != "u-2" {
		t.Fatalf("modified_by = %v", v)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %v", applied)
	}
}

func TestSchemaLookupFailureIsAnError(t *testing.T) {
	boom := errors.New("information_schema unavailable")
	rec := NewRecord(&Descriptor{Table: "orders"}, nil)

	_, ok, err := newLifecycle(&fakeSchemas{err: boom}, "").PrepareForInsert(context.Background(), rec)
	if !errors.Is(err, boom) || ok {
		t.Fatalf("want schema error, got ok=%v err=%v", ok, err)
	}

	_, _, err = newLifecycle(nil, "").PrepareForUpdate(context.Background(), rec)
	if !errors.Is(err, ErrNoSchema) {
		t.Fatalf("want ErrNoSchema, got %v", err)
	}
}

func TestRulesVetoWrite(t *testing.T) {
	d := &Descriptor{
		Table:   "orders",
		Columns: []string{"id", "name"},
		Rules:   map[string]any{"name": "required,max=8"},
	}
	rec := NewRecord(d, map[string]any{"name": "far too long a name"})

	_, ok, err := newLifecycle(nil, "").PrepareForInsert(context.Background(), rec)
	if err != nil || ok {
		t.Fatalf("want veto, got ok=%v err=%v", ok, err)
	}

	rec.Set("name", "short")
	if _, ok, _ := newLifecycle(nil, "").PrepareForInsert(context.Background(), rec); !ok {
		t.Fatalf("valid record vetoed")
	}
}

type vetoRecord struct {
	*Record
	allow bool
}

func (v vetoRecord) BeforeSave(context.Context, bool) (bool, error) { return v.allow, nil }

func TestValidatorHookVetoes(t *testing.T) {
	d := &Descriptor{Table: "orders", Columns: []string{"id"}}
	rec := vetoRecord{Record: NewRecord(d, nil)}

	if _, ok, err := newLifecycle(nil, "").PrepareForInsert(context.Background(), rec); ok || err != nil {
		t.Fatalf("hook veto ignored: ok=%v err=%v", ok, err)
	}
}

func TestCustomAuditFunc(t *testing.T) {
	d := &Descriptor{
		Table:   "events",
		Columns: []string{"id", "stamped_at"},
		InsertAudit: func(now time.Time, _ string) map[string]any {
			return map[string]any{"stamped_at": now.Unix()}
		},
	}
	rec := NewRecord(d, nil)
	newLifecycle(nil, "").PrepareForInsert(context.Background(), rec)
	if v, _ := rec.Get("stamped_at"); v != fixedNow.Unix() {
		t.Fatalf("stamped_at = %v", v)
	}
}

func TestDescriptorDefaults(t *testing.T) {
	d := &Descriptor{Table: "t", Transactional: OpInsert}
	if k := d.Keys(); len(k) != 1 || k[0] != "id" {
		t.Fatalf("default key = %v", k)
	}
	if !d.IsTransactional(OpInsert) || d.IsTransactional(OpUpdate) {
		t.Fatalf("transactional mask wrong")
	}
	if err := (&Descriptor{}).Validate(); !errors.Is(err, ErrNoTable) {
		t.Fatalf("want ErrNoTable, got %v", err)
	}
}
