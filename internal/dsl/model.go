package dsl

import "strings"

// Entity описывает структуру сущности из DSL
type Entity struct {
	Module string
	Name   string
	Fields []Field
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, float, money, bool, date, datetime, enum, ref, array
	ElemType  string            // для array[...]
	RefTarget string            // для ref[...] и array[ref[...]]
	Enum      []string          // значения enum, если поле типа enum
	Options   map[string]string // pk, nested, table, fk, pk=, cardinality и прочие опции
}

func (e *Entity) FQN() string { return e.Module + "." + e.Name }

func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKey: поле с опцией pk, иначе "id".
func (e *Entity) PrimaryKey() string {
	for _, f := range e.Fields {
		if f.IsPrimaryKey() {
			return f.Name
		}
	}
	return "id"
}

// флаг pk без значения; pk=<col> у вложенных полей: это ключ связи
func (f Field) IsPrimaryKey() bool {
	return f.Options != nil && f.Options["pk"] == "true" && !f.IsNested()
}

func (f Field) IsNested() bool {
	return f.Options != nil && strings.EqualFold(f.Options["nested"], "true")
}

func (f Field) Option(key string) string {
	if f.Options == nil {
		return ""
	}
	return strings.TrimSpace(f.Options[key])
}
