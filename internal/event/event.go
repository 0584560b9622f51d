// Package event описывает события потока изменений в порядке их прихода.
package event

import (
	"fmt"
	"strings"

	"replicator/internal/coerce"
)

type Kind int

const (
	KindOther Kind = iota
	KindTableMap
	KindWrite
	KindUpdate
	KindDelete
)

var kindNames = map[Kind]string{
	KindOther:    "other",
	KindTableMap: "table_map",
	KindWrite:    "write",
	KindUpdate:   "update",
	KindDelete:   "delete",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsRow: insert/update/delete.
func (k Kind) IsRow() bool {
	return k == KindWrite || k == KindUpdate || k == KindDelete
}

// ParseKind понимает и синонимы binlog: insert, ext_write_rows и т.п.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table_map", "tablemap", "table":
		return KindTableMap
	case "write", "insert", "write_rows", "ext_write_rows":
		return KindWrite
	case "update", "update_rows", "ext_update_rows":
		return KindUpdate
	case "delete", "delete_rows", "ext_delete_rows":
		return KindDelete
	}
	return KindOther
}

// TableMap объявляет таблицу следующих строк и раскладку её колонок.
type TableMap struct {
	Table   string
	Columns []string
	Types   []coerce.Code
}

// Update: пара образов строки до и после изменения.
type Update struct {
	Before []any
	After  []any
}

type Event struct {
	Kind     Kind
	TableMap *TableMap
	Rows     [][]any  // write, delete
	Updates  []Update // update
}

// Images возвращает образы строк для материализации.
// Для update берётся образ "после", для остальных сами строки.
func (e Event) Images() [][]any {
	if e.Kind != KindUpdate {
		return e.Rows
	}
	out := make([][]any, 0, len(e.Updates))
	for _, u := range e.Updates {
		out = append(out, u.After)
	}
	return out
}
