// Package materialize собирает типизированные сущности из сырых строк изменений.
package materialize

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"replicator/internal/coerce"
	"replicator/internal/entity"
	"replicator/internal/registry"
)

var (
	ErrLayoutMissing  = errors.New("column layout unknown")
	ErrLayoutMismatch = errors.New("column layout mismatch")
	ErrNoOwnerKey     = errors.New("owner key is empty")
)

// FieldError: колонку не удалось положить в поле; строка при этом материализуется дальше.
type FieldError struct {
	Table  string
	Column string
	Field  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s -> %s: %v", e.Table, e.Column, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

type Materializer struct {
	reg    *registry.Registry
	state  *State
	log    *slog.Logger
	report func(*FieldError)
}

type Option func(*Materializer)

// WithDiagnostics: получатель ошибок отдельных колонок.
func WithDiagnostics(fn func(*FieldError)) Option {
	return func(m *Materializer) { m.report = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) { m.log = l }
}

func New(reg *registry.Registry, state *State, opts ...Option) *Materializer {
	m := &Materializer{reg: reg, state: state, log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Materialize собирает сущность таблицы table из строки row по закэшированной раскладке.
func (m *Materializer) Materialize(table string, row []any) (*entity.Entity, error) {
	schema, err := m.reg.Lookup(table)
	if err != nil {
		return nil, err
	}
	layout, ok := m.state.Layout(table)
	if !ok {
		return nil, fmt.Errorf("table %q: %w", table, ErrLayoutMissing)
	}
	return m.Build(schema, layout, row)
}

// Build: чистое ядро материализации, без обращения к State.
func (m *Materializer) Build(schema *registry.Schema, layout Layout, row []any) (*entity.Entity, error) {
	if len(layout.Columns) != len(layout.Types) || len(layout.Columns) != len(row) {
		return nil, fmt.Errorf("table %q: %d columns, %d types, %d values: %w",
			schema.Table, len(layout.Columns), len(layout.Types), len(row), ErrLayoutMismatch)
	}

	e := schema.New()
	for i, raw := range row {
		if raw == nil {
			continue
		}
		col := layout.Columns[i]
		field := col
		// колонка внешнего ключа уходит в поле связи
		if rel, ok := schema.RelationByColumn(col); ok {
			field = rel.Field
		}
		if err := schema.Assign(e, field, layout.Types[i], raw); err != nil {
			m.fail(&FieldError{Table: schema.Table, Column: col, Field: field, Err: err})
		}
	}

	// второй проход: пустые one-to-many получают ключ владельца
	for name, rel := range schema.Nested() {
		if rel.Cardinality != registry.OneToMany || !isZero(e.Values[name]) {
			continue
		}
		if isZero(e.Values[rel.PrimaryKey]) {
			m.fail(&FieldError{Table: schema.Table, Column: rel.PrimaryKey, Field: name, Err: ErrNoOwnerKey})
			continue
		}
		key := coerce.Format(e.Values[rel.PrimaryKey])
		if err := schema.Assign(e, name, coerce.String, key); err != nil {
			m.fail(&FieldError{Table: schema.Table, Column: rel.PrimaryKey, Field: name, Err: err})
		}
	}

	m.log.Debug("entity materialized", "table", schema.Table, "entity", e.String())
	return e, nil
}

func (m *Materializer) fail(fe *FieldError) {
	m.log.Warn("column skipped", "table", fe.Table, "column", fe.Column, "field", fe.Field, "err", fe.Err)
	if m.report != nil {
		m.report(fe)
	}
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
