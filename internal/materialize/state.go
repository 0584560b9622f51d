package materialize

import (
	"sync"

	"replicator/internal/coerce"
	"replicator/internal/event"
)

// Layout: упорядоченные имена и коды типов колонок таблицы.
type Layout struct {
	Columns []string
	Types   []coerce.Code
}

// State: текущая таблица и кэш раскладок, живут всё соединение с потоком.
// Раскладка кэшируется при первом table-map и больше не обновляется.
type State struct {
	mu      sync.Mutex
	table   string
	layouts map[string]Layout
}

func NewState() *State {
	return &State{layouts: map[string]Layout{}}
}

func (s *State) Table() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// Enter делает tm.Table текущей таблицей. columns подставляются, если table-map
// пришёл без имён колонок. Возвращает true, если раскладка закэширована сейчас.
func (s *State) Enter(tm *event.TableMap, columns []string) bool {
	if tm == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = tm.Table
	if _, seen := s.layouts[tm.Table]; seen {
		return false
	}
	names := tm.Columns
	if len(names) == 0 {
		names = columns
	}
	s.layouts[tm.Table] = Layout{
		Columns: append([]string(nil), names...),
		Types:   append([]coerce.Code(nil), tm.Types...),
	}
	return true
}

func (s *State) Layout(table string) (Layout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[table]
	return l, ok
}

// Reset: новое соединение с потоком.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = ""
	s.layouts = map[string]Layout{}
}
