// Package stream читает поток изменений и прогоняет его через маршрутизатор.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"replicator/internal/coerce"
	"replicator/internal/event"
)

// Source отдаёт события по порядку; io.EOF: поток закончился.
type Source interface {
	Next(ctx context.Context) (event.Event, error)
}

// DecodeError: строку потока не удалось разобрать; Run её пропускает.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

type wireUpdate struct {
	Before []any `json:"before"`
	After  []any `json:"after"`
}

// одна строка JSONL:
// {"type":"table_map","table":"users","columns":["id","name"],"types":[3,15]}
// {"type":"write","rows":[[1,"ann"]]}
// {"type":"update","updates":[{"before":[1,"ann"],"after":[1,"bob"]}]}
type wireEvent struct {
	Type    string       `json:"type"`
	Table   string       `json:"table"`
	Columns []string     `json:"columns"`
	Types   []int        `json:"types"`
	Rows    [][]any      `json:"rows"`
	Updates []wireUpdate `json:"updates"`
}

// JSONLines: источник из текста, одно событие в строке. Пустые строки пропускаются.
type JSONLines struct {
	sc   *bufio.Scanner
	line int
}

func NewJSONLines(r io.Reader) *JSONLines {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLines{sc: sc}
}

func (j *JSONLines) Next(ctx context.Context) (event.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return event.Event{}, err
		}
		if !j.sc.Scan() {
			if err := j.sc.Err(); err != nil {
				return event.Event{}, err
			}
			return event.Event{}, io.EOF
		}
		j.line++
		line := bytes.TrimSpace(j.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := decode(line)
		if err != nil {
			return event.Event{}, &DecodeError{Line: j.line, Err: err}
		}
		return ev, nil
	}
}

func decode(line []byte) (event.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return event.Event{}, err
	}

	ev := event.Event{Kind: event.ParseKind(w.Type), Rows: w.Rows}
	switch ev.Kind {
	case event.KindTableMap:
		if w.Table == "" {
			return event.Event{}, fmt.Errorf("table_map without table")
		}
		tm := &event.TableMap{Table: w.Table, Columns: w.Columns, Types: make([]coerce.Code, len(w.Types))}
		for i, t := range w.Types {
			if t < 0 || t > 255 {
				return event.Event{}, fmt.Errorf("column type %d out of range", t)
			}
			tm.Types[i] = coerce.Code(t)
		}
		if len(tm.Columns) > 0 && len(tm.Columns) != len(tm.Types) {
			return event.Event{}, fmt.Errorf("table %s: %d columns, %d types", w.Table, len(tm.Columns), len(tm.Types))
		}
		ev.TableMap = tm
	case event.KindUpdate:
		for _, u := range w.Updates {
			ev.Updates = append(ev.Updates, event.Update{Before: u.Before, After: u.After})
		}
	}
	return ev, nil
}

// Chan: источник поверх канала; закрытый канал равен io.EOF.
type Chan <-chan event.Event

func (c Chan) Next(ctx context.Context) (event.Event, error) {
	select {
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	case ev, ok := <-c:
		if !ok {
			return event.Event{}, io.EOF
		}
		return ev, nil
	}
}
