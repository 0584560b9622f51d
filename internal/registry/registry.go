// Package registry держит статические метаданные: какая таблица даёт какую сущность,
// куда её сохранять и через какие связи она вложена в другие сущности.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"replicator/internal/binding"
	"replicator/internal/dsl"
	"replicator/internal/sink"
)

// Carrier: владелец, чьё вложенное поле зависит от таблицы-носителя.
type Carrier struct {
	Owner *Schema
	Rel   Relationship
}

type Registry struct {
	byTable  map[string]*Schema
	byFQN    map[string]*Schema
	carriers map[string][]Carrier // exit table -> владельцы
}

// New строит реестр из сущностей DSL, привязок таблиц и набора sink'ов.
// Все ошибки метаданных всплывают здесь, при старте.
func New(entities map[string]*dsl.Entity, cat *binding.Catalog, sinks sink.Set) (*Registry, error) {
	r := &Registry{
		byTable:  map[string]*Schema{},
		byFQN:    map[string]*Schema{},
		carriers: map[string][]Carrier{},
	}
	if cat == nil {
		return r, nil
	}
	for _, t := range cat.Tables {
		fqn, ok := normalizeEntityName(entities, t.Entity)
		if !ok {
			return nil, fmt.Errorf("table %q: unknown entity %q", t.Table, t.Entity)
		}
		if prev, dup := r.byFQN[fqn]; dup {
			return nil, fmt.Errorf("entity %s is bound to both %q and %q", fqn, prev.Table, t.Table)
		}
		sk, err := sinks.Get(t.Sink)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", t.Table, err)
		}
		s, err := newSchema(entities[fqn])
		if err != nil {
			return nil, err
		}
		s.Table = t.Table
		s.Sink = sk
		s.SinkName = t.Sink
		s.Columns = append([]string(nil), t.Columns...)
		s.Target = t.Target
		if s.Target == "" {
			s.Target = defaultTarget(s.Entity)
		}
		r.byTable[t.Table] = s
		r.byFQN[fqn] = s
	}

	// стабильный порядок владельцев для каскада
	for _, s := range r.Schemas() {
		fields := make([]string, 0, len(s.nested))
		for f := range s.nested {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			rel := s.nested[f]
			r.carriers[rel.Table] = append(r.carriers[rel.Table], Carrier{Owner: s, Rel: rel})
		}
	}
	return r, nil
}

// Lookup: схема таблицы или ErrSchemaMissing.
func (r *Registry) Lookup(table string) (*Schema, error) {
	s, ok := r.byTable[table]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", table, ErrSchemaMissing)
	}
	return s, nil
}

// IsMapped: таблица прямо отображается на сущность.
func (r *Registry) IsMapped(table string) bool {
	_, ok := r.byTable[table]
	return ok
}

// IsCarrier: таблица несёт связь для чьего-то вложенного поля.
func (r *Registry) IsCarrier(table string) bool {
	return len(r.carriers[table]) > 0
}

func (r *Registry) Carriers(table string) []Carrier {
	return r.carriers[table]
}

func (r *Registry) ByEntity(fqn string) (*Schema, bool) {
	s, ok := r.byFQN[fqn]
	return s, ok
}

// Schemas: все схемы по имени таблицы.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.byTable))
	for _, s := range r.byTable {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// normalizeEntityName возвращает FQN ("module.name").
// Без модуля ищет уникальную сущность с таким именем среди всех модулей.
func normalizeEntityName(entities map[string]*dsl.Entity, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if _, ok := entities[raw]; ok {
		return raw, true
	}
	module, name := "", raw
	if i := strings.IndexByte(raw, '.'); i > 0 {
		module, name = raw[:i], raw[i+1:]
	}

	var found string
	for fqn, e := range entities {
		if !strings.EqualFold(e.Name, name) {
			continue
		}
		if module != "" {
			if strings.EqualFold(e.Module, module) {
				return fqn, true
			}
			continue
		}
		if found != "" { // неуникально
			return "", false
		}
		found = fqn
	}
	return found, found != ""
}

// элементарная плюрализация, как в DDL: users, orders, ...
func defaultTarget(e *dsl.Entity) string {
	s := strings.ToLower(e.Name)
	if !strings.HasSuffix(s, "s") {
		s += "s"
	}
	return strings.ToLower(e.Module) + "_" + s
}
