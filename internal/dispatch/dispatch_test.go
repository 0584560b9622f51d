package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"replicator/internal/binding"
	"replicator/internal/coerce"
	"replicator/internal/dsl"
	"replicator/internal/entity"
	"replicator/internal/event"
	"replicator/internal/materialize"
	"replicator/internal/registry"
	"replicator/internal/resolve"
	"replicator/internal/sink"
	"replicator/internal/sink/memory"
)

const shopDSL = `
module shop

entity User:
  id: int pk
  name: string
  orders: array[ref[Order]] nested table=orders fk=user_id

entity Order:
  id: int pk
  total: money
  user: ref[User] nested table=users fk=user_id pk=id
`

// recSink пишет вызовы и передаёт их в memory store.
type recSink struct {
	mu      sync.Mutex
	store   *memory.Store
	saves   []*entity.Entity
	deletes []*entity.Entity
	err     error
	panics  bool
}

func (r *recSink) Save(ctx context.Context, e *entity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("sink exploded")
	}
	if r.err != nil {
		return r.err
	}
	r.saves = append(r.saves, e)
	return r.store.Save(ctx, e)
}

func (r *recSink) Delete(ctx context.Context, e *entity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deletes = append(r.deletes, e)
	return r.store.Delete(ctx, e)
}

func (r *recSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves, r.deletes = nil, nil
}

type fixture struct {
	d     *Dispatcher
	sink  *recSink
	store *memory.Store
	state *materialize.State
	spans *tracetest.SpanRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(shopDSL))
	require.NoError(t, err)
	ents := map[string]*dsl.Entity{}
	for _, e := range list {
		ents[e.FQN()] = e
	}
	cat, err := binding.Parse([]byte("tables:\n  - {table: users, entity: shop.User}\n  - {table: orders, entity: shop.Order}\n"))
	require.NoError(t, err)

	store := memory.NewStore()
	rs := &recSink{store: store}
	reg, err := registry.New(ents, cat, sink.Set{"memory": rs})
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	state := materialize.NewState()
	stats := &Stats{}
	mat := materialize.New(reg, state, materialize.WithDiagnostics(stats.FieldError))
	d := New(reg, state, mat, resolve.NewMemory(store),
		WithStats(stats),
		WithTracer(tp.Tracer("test")))
	return &fixture{d: d, sink: rs, store: store, state: state, spans: spans}
}

var (
	usersMap = event.Event{Kind: event.KindTableMap, TableMap: &event.TableMap{
		Table:   "users",
		Columns: []string{"id", "name"},
		Types:   []coerce.Code{coerce.LongLong, coerce.VarChar},
	}}
	ordersMap = event.Event{Kind: event.KindTableMap, TableMap: &event.TableMap{
		Table:   "orders",
		Columns: []string{"id", "total", "user_id"},
		Types:   []coerce.Code{coerce.LongLong, coerce.NewDecimal, coerce.LongLong},
	}}
	auditMap = event.Event{Kind: event.KindTableMap, TableMap: &event.TableMap{
		Table:   "audit",
		Columns: []string{"id", "msg"},
		Types:   []coerce.Code{coerce.LongLong, coerce.VarChar},
	}}
)

func write(rows ...[]any) event.Event  { return event.Event{Kind: event.KindWrite, Rows: rows} }
func remove(rows ...[]any) event.Event { return event.Event{Kind: event.KindDelete, Rows: rows} }
func update(before, after []any) event.Event {
	return event.Event{Kind: event.KindUpdate, Updates: []event.Update{{Before: before, After: after}}}
}

func TestRouteUnmappedTableIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, auditMap)
	f.d.Route(ctx, write([]any{int64(1), "login"}))

	assert.Empty(t, f.sink.saves)
	assert.Empty(t, f.sink.deletes)
	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Events)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(0), snap.Failures)
}

func TestRouteRowsBeforeAnyTableMapAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.d.Route(context.Background(), write([]any{int64(1), "ann"}))
	assert.Empty(t, f.sink.saves)
	assert.Equal(t, int64(0), f.d.Stats().Snapshot().Failures)
}

func TestRouteWriteUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(1), "ann"}))
	require.Len(t, f.sink.saves, 1)
	assert.Equal(t, "shop.User#1", f.sink.saves[0].String())
	assert.Equal(t, "ann", f.sink.saves[0].Values["name"])

	f.sink.reset()
	f.d.Route(ctx, update([]any{int64(1), "ann"}, []any{int64(1), "bob"}))
	require.Len(t, f.sink.saves, 1)
	assert.Equal(t, "bob", f.sink.saves[0].Values["name"])

	f.sink.reset()
	f.d.Route(ctx, remove([]any{int64(1), "bob"}))
	assert.Empty(t, f.sink.saves)
	require.Len(t, f.sink.deletes, 1)
	assert.Equal(t, "1", f.sink.deletes[0].Key())

	_, ok := f.store.Get("shop.User", "1")
	assert.False(t, ok)

	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Saved)
	assert.Equal(t, int64(1), snap.Deleted)
}

func TestRouteEveryRowImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(1), "ann"}, []any{int64(2), "bob"}, []any{int64(3), "eve"}))
	assert.Len(t, f.sink.saves, 3)
	assert.Len(t, f.store.List("shop.User"), 3)
}

func TestRouteUsesCurrentTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, ordersMap)
	f.d.Route(ctx, write([]any{int64(10), "5.00", int64(7)}))

	require.NotEmpty(t, f.sink.saves)
	order := f.sink.saves[0]
	assert.Equal(t, "shop.Order", order.Type)
	assert.Equal(t, 5.0, order.Values["total"])
	assert.Equal(t, "7", order.Values["user"].(*entity.Deferred).Key)
}

func TestRouteCascadeManyToOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, ordersMap)
	f.d.Route(ctx, write([]any{int64(10), "5", int64(7)}, []any{int64(11), "6", int64(7)}, []any{int64(12), "1", int64(8)}))

	f.sink.reset()
	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, update([]any{int64(7), "ann"}, []any{int64(7), "anna"}))

	// сам пользователь и два его заказа
	var types []string
	for _, e := range f.sink.saves {
		types = append(types, e.String())
	}
	assert.ElementsMatch(t, []string{"shop.User#7", "shop.Order#10", "shop.Order#11"}, types)
	assert.Equal(t, int64(2), f.d.Stats().Snapshot().Cascaded)
}

func TestRouteCascadeOneToMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(7), "ann"}))

	f.sink.reset()
	f.d.Route(ctx, ordersMap)
	f.d.Route(ctx, write([]any{int64(10), "5", int64(7)}))

	var got []string
	for _, e := range f.sink.saves {
		got = append(got, e.String())
	}
	assert.ElementsMatch(t, []string{"shop.Order#10", "shop.User#7"}, got)
}

func TestRouteCascadeOwnerMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, ordersMap)
	f.d.Route(ctx, write([]any{int64(10), "5", int64(42)}))

	// заказ сохранён, владельца нет, но это не авария
	require.Len(t, f.sink.saves, 1)
	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(0), snap.Cascaded)
	assert.Equal(t, int64(0), snap.Failures)
}

func TestRouteCascadeNullKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, ordersMap)
	f.d.Route(ctx, write([]any{int64(10), "5", nil}))
	require.Len(t, f.sink.saves, 1)
	assert.Nil(t, f.sink.saves[0].Values["user"])
	assert.Equal(t, int64(0), f.d.Stats().Snapshot().Failures)
}

func TestRouteSinkErrorIsContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sink.err = errors.New("disk full")

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(1), "ann"}, []any{int64(2), "bob"}))

	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Failures)
	assert.Equal(t, int64(0), snap.Saved)

	// поток продолжается
	f.sink.err = nil
	f.d.Route(ctx, write([]any{int64(3), "eve"}))
	assert.Len(t, f.sink.saves, 1)
}

func TestRoutePanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sink.panics = true

	f.d.Route(ctx, usersMap)
	assert.NotPanics(t, func() {
		f.d.Route(ctx, write([]any{int64(1), "ann"}))
	})
	assert.Equal(t, int64(1), f.d.Stats().Snapshot().Failures)
}

func TestRouteLayoutMismatchIsContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(1)}, []any{int64(2), "bob"}))
	require.Len(t, f.sink.saves, 1)
	assert.Equal(t, "2", f.sink.saves[0].Key())
	assert.Equal(t, int64(1), f.d.Stats().Snapshot().Failures)
}

func TestRouteMismatchedCarrierRowDoesNotCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, usersMap)
	f.d.Route(ctx, write([]any{int64(7), "ann"}))
	f.d.Route(ctx, ordersMap)
	f.sink.reset()

	f.d.Route(ctx, write([]any{int64(10), "5", int64(7), "extra"}))
	assert.Empty(t, f.sink.saves)
	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(0), snap.Cascaded)
	assert.Equal(t, int64(1), snap.Failures)

	// следующая строка того же события по раскладке проходит
	f.d.Route(ctx, write([]any{int64(11)}, []any{int64(12), "5", int64(7)}))
	require.Len(t, f.sink.saves, 2)
	assert.Equal(t, "shop.Order#12", f.sink.saves[0].String())
	assert.Equal(t, "shop.User#7", f.sink.saves[1].String())
	assert.Equal(t, int64(2), f.d.Stats().Snapshot().Failures)
}

func TestRouteMismatchedRowOfCarrierOnlyTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// payments несёт ключ владельца, но сама не отображается
	f.d.reg = carrierOnlyRegistry(t, f.sink)
	f.d.Route(ctx, event.Event{Kind: event.KindTableMap, TableMap: &event.TableMap{
		Table:   "payments",
		Columns: []string{"id", "user_id"},
		Types:   []coerce.Code{coerce.LongLong, coerce.LongLong},
	}})
	f.d.Route(ctx, write([]any{int64(1)}))
	assert.Empty(t, f.sink.saves)
	snap := f.d.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(0), snap.Cascaded)
}

func carrierOnlyRegistry(t *testing.T, s sink.Sink) *registry.Registry {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(`
module shop

entity User:
  id: int pk
  payments: array[ref[Payment]] nested table=payments fk=user_id

entity Payment:
  id: int pk
`))
	require.NoError(t, err)
	ents := map[string]*dsl.Entity{}
	for _, e := range list {
		ents[e.FQN()] = e
	}
	cat, err := binding.Parse([]byte("tables:\n  - {table: users, entity: shop.User}\n"))
	require.NoError(t, err)
	reg, err := registry.New(ents, cat, sink.Set{"memory": s})
	require.NoError(t, err)
	return reg
}

func TestRouteFieldErrorsAreCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.d.Route(ctx, event.Event{Kind: event.KindTableMap, TableMap: &event.TableMap{
		Table:   "users",
		Columns: []string{"id", "name", "nickname"},
		Types:   []coerce.Code{coerce.LongLong, coerce.VarChar, coerce.VarChar},
	}})
	f.d.Route(ctx, write([]any{int64(1), "ann", "a"}))
	require.Len(t, f.sink.saves, 1)
	assert.Equal(t, int64(1), f.d.Stats().Snapshot().FieldErrors)
}

func TestRouteRecordsSpans(t *testing.T) {
	f := newFixture(t)
	f.d.Route(context.Background(), usersMap)
	f.d.Route(context.Background(), write([]any{int64(1), "ann"}))

	ended := f.spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "dispatch.route", ended[0].Name())
	assert.Equal(t, "dispatch.route", ended[1].Name())
}

func TestRouteOtherEventsAreNoop(t *testing.T) {
	f := newFixture(t)
	f.d.Route(context.Background(), usersMap)
	f.d.Route(context.Background(), event.Event{Kind: event.KindOther})
	assert.Empty(t, f.sink.saves)
	assert.Equal(t, "users", f.state.Table())
}
