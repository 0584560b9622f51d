// Package memory хранит в памяти последние версии сущностей по типу и ключу.
package memory

import (
	"context"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"replicator/internal/coerce"
	"replicator/internal/entity"

	"github.com/oklog/ulid/v2"
)

type Record struct {
	Key       string         `json:"key"`
	Revision  string         `json:"revision"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"-"`
	Entity    *entity.Entity `json:"-"`
}

type Store struct {
	mu      sync.RWMutex
	data    map[string]map[string]*Record // FQN -> key -> запись
	entropy io.Reader
}

func NewStore() *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{
		data:    make(map[string]map[string]*Record),
		entropy: ulid.Monotonic(src, 0),
	}
}

// под write-lock: монотонный источник энтропии не потокобезопасен
func (s *Store) newRevision(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// Save: upsert по ключу сущности; удалённая запись оживает.
func (s *Store) Save(ctx context.Context, e *entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.data[e.Type]
	if byKey == nil {
		byKey = make(map[string]*Record)
		s.data[e.Type] = byKey
	}
	now := time.Now().UTC()
	key := e.Key()
	rec := byKey[key]
	if rec == nil {
		rec = &Record{Key: key, CreatedAt: now}
		byKey[key] = rec
	}
	rec.Entity = clone(e)
	rec.Deleted = false
	rec.Version++
	rec.UpdatedAt = now
	rec.Revision = s.newRevision(now)
	return nil
}

// Delete: soft delete; неизвестный ключ оставляет надгробие.
func (s *Store) Delete(ctx context.Context, e *entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.data[e.Type]
	if byKey == nil {
		byKey = make(map[string]*Record)
		s.data[e.Type] = byKey
	}
	now := time.Now().UTC()
	key := e.Key()
	rec := byKey[key]
	if rec == nil {
		rec = &Record{Key: key, CreatedAt: now, Entity: clone(e)}
		byKey[key] = rec
	}
	rec.Deleted = true
	rec.Version++
	rec.UpdatedAt = now
	rec.Revision = s.newRevision(now)
	return nil
}

// Get: живая запись по типу и ключу.
func (s *Store) Get(fqn, key string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.data[fqn][key]
	if rec == nil || rec.Deleted {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List: живые записи типа, по ключу.
func (s *Store) List(fqn string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.data[fqn]))
	for _, rec := range s.data[fqn] {
		if rec.Deleted {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Find: живые сущности типа fqn, у которых поле field равно value (строково).
func (s *Store) Find(fqn, field, value string) []*entity.Entity {
	var out []*entity.Entity
	for _, rec := range s.List(fqn) {
		if v, ok := rec.Entity.Get(field); ok && coerce.Format(v) == value {
			out = append(out, clone(rec.Entity))
		}
	}
	return out
}

// Types: FQN всех типов, что когда-либо сохранялись.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clone(e *entity.Entity) *entity.Entity {
	cp := entity.New(e.Type, e.KeyField, len(e.Values))
	for k, v := range e.Values {
		cp.Values[k] = v
	}
	return cp
}
