// Package sink описывает хранилища, в которые уходят материализованные сущности.
package sink

import (
	"context"
	"fmt"
	"sort"
	"time"

	"replicator/internal/entity"
)

type Sink interface {
	Save(ctx context.Context, e *entity.Entity) error
	Delete(ctx context.Context, e *entity.Entity) error
}

// Set: именованные sink'и, на которые ссылаются привязки таблиц.
type Set map[string]Sink

func (s Set) Get(name string) (Sink, error) {
	sk, ok := s[name]
	if !ok || sk == nil {
		return nil, fmt.Errorf("unknown sink %q (have: %v)", name, s.Names())
	}
	return sk, nil
}

func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type timeoutSink struct {
	next Sink
	d    time.Duration
}

// WithTimeout ограничивает каждую операцию sink'а по времени; d <= 0: без ограничения.
func WithTimeout(s Sink, d time.Duration) Sink {
	if d <= 0 {
		return s
	}
	return &timeoutSink{next: s, d: d}
}

func (t *timeoutSink) Save(ctx context.Context, e *entity.Entity) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Save(ctx, e)
}

func (t *timeoutSink) Delete(ctx context.Context, e *entity.Entity) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Delete(ctx, e)
}
