// Package sqlsink сохраняет сущности в таблицы Postgres или SQLite.
package sqlsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"replicator/internal/entity"
	"replicator/internal/pg"
	"replicator/internal/registry"
)

type table struct {
	name    string
	key     string
	columns []string // поля сущности в порядке DSL
	upsert  string
	delete  string
}

type Sink struct {
	db     *sql.DB
	driver string

	mu     sync.RWMutex
	tables map[string]*table // FQN -> целевая таблица
}

func New(db *sql.DB, driver string) *Sink {
	return &Sink{db: db, driver: driver, tables: map[string]*table{}}
}

// Register готовит запросы для схемы; сущности чужих типов Save/Delete не примут.
func (s *Sink) Register(schema *registry.Schema) {
	t := &table{name: schema.Target, key: schema.KeyField()}
	for _, f := range schema.Entity.Fields {
		t.columns = append(t.columns, f.Name)
	}

	idents := make([]string, len(t.columns))
	params := make([]string, len(t.columns))
	var sets []string
	for i, c := range t.columns {
		idents[i] = pg.Ident(c)
		params[i] = pg.Placeholder(s.driver, i+1)
		if c != t.key {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", pg.Ident(c), pg.Ident(c)))
		}
	}
	conflict := "do nothing"
	if len(sets) > 0 {
		conflict = "do update set " + strings.Join(sets, ", ")
	}
	t.upsert = fmt.Sprintf("insert into %s (%s) values (%s) on conflict (%s) %s",
		pg.Ident(t.name), strings.Join(idents, ", "), strings.Join(params, ", "), pg.Ident(t.key), conflict)
	t.delete = fmt.Sprintf("delete from %s where %s = %s",
		pg.Ident(t.name), pg.Ident(t.key), pg.Placeholder(s.driver, 1))

	s.mu.Lock()
	s.tables[schema.FQN()] = t
	s.mu.Unlock()
}

func (s *Sink) table(e *entity.Entity) (*table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[e.Type]
	if !ok {
		return nil, fmt.Errorf("sqlsink: entity %s is not registered", e.Type)
	}
	return t, nil
}

func (s *Sink) Save(ctx context.Context, e *entity.Entity) error {
	t, err := s.table(e)
	if err != nil {
		return err
	}
	args := make([]any, len(t.columns))
	for i, c := range t.columns {
		if args[i], err = sqlValue(e.Values[c]); err != nil {
			return fmt.Errorf("sqlsink: %s.%s: %w", e.Type, c, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, t.upsert, args...); err != nil {
		return fmt.Errorf("sqlsink: save %s: %w", e, err)
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, e *entity.Entity) error {
	t, err := s.table(e)
	if err != nil {
		return err
	}
	key, err := sqlValue(e.Values[t.key])
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, t.delete, key); err != nil {
		return fmt.Errorf("sqlsink: delete %s: %w", e, err)
	}
	return nil
}

func sqlValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *entity.Deferred:
		if t == nil {
			return nil, nil
		}
		return t.Key, nil
	case []string:
		if t == nil {
			return nil, nil
		}
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		return t, nil
	}
	return v, nil
}
