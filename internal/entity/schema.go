package entity

import "context"

// Column describes one table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Schema answers whether a table has a column.
type Schema interface {
	Column(name string) (Column, bool)
}

// SchemaSource looks up table schemas.  *schema.Inspector satisfies it.
type SchemaSource interface {
	TableSchema(ctx context.Context, table string) (Schema, error)
}

// StaticSchema is a fixed column set.
type StaticSchema map[string]Column

// NewStaticSchema builds a StaticSchema from column names.
func NewStaticSchema(columns ...string) StaticSchema {
	s := make(StaticSchema, len(columns))
	for _, c := range columns {
		s[c] = Column{Name: c}
	}
	return s
}

func (s StaticSchema) Column(name string) (Column, bool) {
	c, ok := s[name]
	return c, ok
}
