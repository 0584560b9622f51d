package entity

import (
	"replicator/internal/coerce"
)

// Entity: сущность, собранная из строки изменения.
// Принадлежит вызову, который её создал, до передачи в sink.
type Entity struct {
	Type     string         // FQN: "module.Entity"
	KeyField string         // имя поля первичного ключа
	Values   map[string]any // поле -> значение (всегда заполнено нулями по схеме)
}

// Deferred: ключ вложенной связи вместо самих вложенных записей.
// Потребитель разрешает его сам, когда ему это нужно.
type Deferred struct {
	Key  string
	Code coerce.Code
}

func (d *Deferred) String() string {
	if d == nil {
		return ""
	}
	return d.Key
}

func New(typ, keyField string, size int) *Entity {
	return &Entity{Type: typ, KeyField: keyField, Values: make(map[string]any, size)}
}

func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.Values[field]
	return v, ok
}

func (e *Entity) Set(field string, v any) {
	e.Values[field] = v
}

// Key: строковое значение первичного ключа.
func (e *Entity) Key() string {
	if e == nil {
		return ""
	}
	return coerce.Format(e.Values[e.KeyField])
}

func (e *Entity) String() string {
	return e.Type + "#" + e.Key()
}
