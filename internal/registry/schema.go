package registry

import (
	"errors"
	"fmt"
	"strings"

	"replicator/internal/coerce"
	"replicator/internal/dsl"
	"replicator/internal/entity"
	"replicator/internal/sink"
)

var (
	// ErrSchemaMissing: таблица не отображается ни на одну сущность.
	ErrSchemaMissing = errors.New("schema missing")
	// ErrNoField: у сущности нет поля для колонки.
	ErrNoField = errors.New("field not found")
)

type Cardinality string

const (
	OneToMany Cardinality = "one_to_many"
	ManyToOne Cardinality = "many_to_one"
)

// Relationship связывает вложенное поле владельца с таблицей-носителем.
type Relationship struct {
	Field       string // поле владельца, которое держит вложенное значение
	Table       string // таблица-носитель (exit table)
	ForeignKey  string
	PrimaryKey  string
	Cardinality Cardinality
}

// CarrierColumn: колонка строки носителя, из которой берётся ключ владельца.
func (r Relationship) CarrierColumn() string {
	if r.Cardinality == ManyToOne {
		return r.PrimaryKey
	}
	return r.ForeignKey
}

// OwnerColumn: колонка владельца, по которой ищутся владельцы.
func (r Relationship) OwnerColumn() string {
	if r.Cardinality == ManyToOne {
		return r.ForeignKey
	}
	return r.PrimaryKey
}

type setter func(e *entity.Entity, code coerce.Code, raw any) error

// Schema: неизменяемое после старта описание отображения таблицы на сущность.
type Schema struct {
	Table    string
	Entity   *dsl.Entity
	Sink     sink.Sink
	SinkName string
	Target   string   // таблица в sql-sink'е
	Columns  []string // статические имена колонок из привязки

	nested  map[string]Relationship // поле -> связь
	byFK    map[string]Relationship // колонка fk -> связь
	setters map[string]setter
}

func (s *Schema) FQN() string      { return s.Entity.FQN() }
func (s *Schema) KeyField() string { return s.Entity.PrimaryKey() }

// New: экземпляр сущности с нулевыми значениями всех полей.
func (s *Schema) New() *entity.Entity {
	e := entity.New(s.FQN(), s.KeyField(), len(s.Entity.Fields))
	for _, f := range s.Entity.Fields {
		if f.IsNested() {
			e.Set(f.Name, nil)
			continue
		}
		e.Set(f.Name, coerce.Zero(f.Type))
	}
	return e
}

// Nested: связи схемы по именам полей.
func (s *Schema) Nested() map[string]Relationship { return s.nested }

// RelationByColumn: связь, чей внешний ключ называется column.
func (s *Schema) RelationByColumn(column string) (Relationship, bool) {
	r, ok := s.byFK[column]
	return r, ok
}

// Assign приводит raw и записывает его в поле field.
func (s *Schema) Assign(e *entity.Entity, field string, code coerce.Code, raw any) error {
	set, ok := s.setters[field]
	if !ok {
		return fmt.Errorf("%s.%s: %w", s.FQN(), field, ErrNoField)
	}
	return set(e, code, raw)
}

func newSchema(e *dsl.Entity) (*Schema, error) {
	s := &Schema{
		Entity:  e,
		nested:  map[string]Relationship{},
		byFK:    map[string]Relationship{},
		setters: make(map[string]setter, len(e.Fields)),
	}
	if _, ok := e.Field(e.PrimaryKey()); !ok {
		return nil, fmt.Errorf("%s: primary key field %q is not declared", e.FQN(), e.PrimaryKey())
	}
	for _, f := range e.Fields {
		if !f.IsNested() {
			s.setters[f.Name] = valueSetter(f)
			continue
		}
		rel, err := relationOf(e, f)
		if err != nil {
			return nil, err
		}
		s.nested[f.Name] = rel
		s.byFK[rel.ForeignKey] = rel
		s.setters[f.Name] = deferredSetter(f.Name)
	}
	return s, nil
}

func valueSetter(f dsl.Field) setter {
	name, kind, enum := f.Name, f.Type, f.Enum
	return func(e *entity.Entity, code coerce.Code, raw any) error {
		v, err := coerce.Value(kind, code, raw)
		if err != nil {
			return err
		}
		if kind == "enum" && len(enum) > 0 {
			sv, _ := v.(string)
			if !contains(enum, sv) {
				return fmt.Errorf("%w: value %q is not allowed", coerce.ErrMismatch, sv)
			}
		}
		e.Set(name, v)
		return nil
	}
}

// вложенное поле хранит только ключ, сами записи разрешает потребитель
func deferredSetter(name string) setter {
	return func(e *entity.Entity, code coerce.Code, raw any) error {
		v, err := coerce.Value("string", code, raw)
		if err != nil {
			return err
		}
		e.Set(name, &entity.Deferred{Key: v.(string), Code: code})
		return nil
	}
}

func relationOf(e *dsl.Entity, f dsl.Field) (Relationship, error) {
	rel := Relationship{
		Field:       f.Name,
		Table:       f.Option("table"),
		ForeignKey:  f.Option("fk"),
		PrimaryKey:  f.Option("pk"),
		Cardinality: Cardinality(strings.ToLower(f.Option("cardinality"))),
	}
	if rel.Cardinality == "" {
		rel.Cardinality = ManyToOne
		if strings.EqualFold(f.Type, "array") {
			rel.Cardinality = OneToMany
		}
	}
	if rel.PrimaryKey == "" || rel.PrimaryKey == "true" {
		rel.PrimaryKey = "id"
		if rel.Cardinality == OneToMany {
			rel.PrimaryKey = e.PrimaryKey()
		}
	}
	where := e.FQN() + "." + f.Name
	switch {
	case rel.Cardinality != OneToMany && rel.Cardinality != ManyToOne:
		return rel, fmt.Errorf("%s: unknown cardinality %q", where, rel.Cardinality)
	case rel.Table == "":
		return rel, fmt.Errorf("%s: nested field needs table=", where)
	case rel.ForeignKey == "":
		return rel, fmt.Errorf("%s: nested field needs fk=", where)
	}
	if rel.Cardinality == OneToMany {
		if _, ok := e.Field(rel.PrimaryKey); !ok {
			return rel, fmt.Errorf("%s: pk=%s is not a field of %s", where, rel.PrimaryKey, e.FQN())
		}
	}
	return rel, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
