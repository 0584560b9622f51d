// Package resolve находит владельцев вложенной связи по ключу из строки таблицы-носителя.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"replicator/internal/entity"
	"replicator/internal/registry"
	"replicator/internal/sink/memory"
)

var ErrOwnerNotFound = errors.New("owner not found")

// LookupError: обратное разрешение не удалось; каскад по связи для события бросается.
type LookupError struct {
	Owner  string
	Column string
	Key    string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s where %s = %q: %v", e.Owner, e.Column, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Resolver возвращает текущее состояние владельцев owner, чей OwnerColumn связи rel равен key.
// Один владелец: это срез из одного элемента.
type Resolver interface {
	Resolve(ctx context.Context, owner *registry.Schema, rel registry.Relationship, key string) ([]*entity.Entity, error)
}

// Memory ищет владельцев среди уже сохранённых в in-memory sink.
type Memory struct {
	store *memory.Store
}

func NewMemory(store *memory.Store) *Memory {
	return &Memory{store: store}
}

func (m *Memory) Resolve(ctx context.Context, owner *registry.Schema, rel registry.Relationship, key string) ([]*entity.Entity, error) {
	lookupErr := func(err error) error {
		return &LookupError{Owner: owner.FQN(), Column: rel.OwnerColumn(), Key: key, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, lookupErr(err)
	}
	// колонка fk у владельца хранится в поле связи
	field := rel.OwnerColumn()
	if r, ok := owner.RelationByColumn(field); ok {
		field = r.Field
	}
	found := m.store.Find(owner.FQN(), field, key)
	if len(found) == 0 {
		return nil, lookupErr(ErrOwnerNotFound)
	}
	return found, nil
}

// BySink выбирает резолвер по sink'у владельца: владельцы ищутся там, где хранятся.
type BySink map[string]Resolver

func (b BySink) Resolve(ctx context.Context, owner *registry.Schema, rel registry.Relationship, key string) ([]*entity.Entity, error) {
	r, ok := b[owner.SinkName]
	if !ok {
		return nil, &LookupError{Owner: owner.FQN(), Column: rel.OwnerColumn(), Key: key,
			Err: fmt.Errorf("no resolver for sink %q", owner.SinkName)}
	}
	return r.Resolve(ctx, owner, rel, key)
}

// Covers проверяет, что у каждого владельца вложенной связи есть резолвер.
func (b BySink) Covers(schemas []*registry.Schema) error {
	for _, s := range schemas {
		if len(s.Nested()) == 0 {
			continue
		}
		if _, ok := b[s.SinkName]; !ok {
			return fmt.Errorf("%s: owners in sink %q cannot be resolved", s.FQN(), s.SinkName)
		}
	}
	return nil
}
