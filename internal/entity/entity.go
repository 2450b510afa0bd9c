package entity

import "context"

// Entity is a persistable record.  Implementations are not safe for
// concurrent use; one goroutine owns a record during a write.
type Entity interface {
	Descriptor() *Descriptor
	Get(column string) (any, bool)
	Set(column string, value any)
	Attributes() map[string]any // snapshot copy
	IsNew() bool
	MarkSaved()
}

// Validator lets a record veto a write.  Returning false aborts the save
// without an error.
type Validator interface {
	BeforeSave(ctx context.Context, insert bool) (bool, error)
}

// AfterSaver runs after a row is written.  Inside a transactional write an
// error rolls the transaction back.
type AfterSaver interface {
	AfterSave(ctx context.Context, insert bool, written map[string]any) error
}

// Record is the map-backed Entity.
type Record struct {
	desc  *Descriptor
	attrs map[string]any
	isNew bool
}

// NewRecord returns a new (unsaved) record.  attrs is copied.
func NewRecord(d *Descriptor, attrs map[string]any) *Record {
	return &Record{desc: d, attrs: copyMap(attrs), isNew: true}
}

// LoadedRecord wraps a row that already exists in the database.
func LoadedRecord(d *Descriptor, attrs map[string]any) *Record {
	return &Record{desc: d, attrs: copyMap(attrs)}
}

func (r *Record) Descriptor() *Descriptor { return r.desc }

func (r *Record) Get(column string) (any, bool) {
	v, ok := r.attrs[column]
	return v, ok
}

func (r *Record) Set(column string, value any) { r.attrs[column] = value }

func (r *Record) Attributes() map[string]any { return copyMap(r.attrs) }

func (r *Record) IsNew() bool { return r.isNew }

func (r *Record) MarkSaved() { r.isNew = false }

// ID returns the "id" column as a string, "" when unset.
func (r *Record) ID() string {
	s, _ := r.attrs["id"].(string)
	return s
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
