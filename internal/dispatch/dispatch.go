// Package dispatch маршрутизирует события потока: прямое сохранение/удаление сущностей,
// каскадное обновление владельцев и переключение текущей таблицы.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"replicator/internal/coerce"
	"replicator/internal/entity"
	"replicator/internal/event"
	"replicator/internal/materialize"
	"replicator/internal/registry"
	"replicator/internal/resolve"
)

const tracerName = "replicator/internal/dispatch"

// SinkError: sink отказал в сохранении или удалении.
type SinkError struct {
	Op     string
	Entity string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

type Dispatcher struct {
	reg      *registry.Registry
	state    *materialize.State
	mat      *materialize.Materializer
	resolver resolve.Resolver
	log      *slog.Logger
	tracer   trace.Tracer
	stats    *Stats
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithStats: общие счётчики; нужны, если их же получает материализатор.
func WithStats(s *Stats) Option {
	return func(d *Dispatcher) { d.stats = s }
}

func New(reg *registry.Registry, state *materialize.State, mat *materialize.Materializer, resolver resolve.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		state:    state,
		mat:      mat,
		resolver: resolver,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.stats == nil {
		d.stats = &Stats{}
	}
	return d
}

func (d *Dispatcher) Stats() *Stats { return d.stats }

// Route обрабатывает одно событие. Ошибки не поднимаются наружу: они пишутся в лог
// и в счётчики, поток продолжается со следующего события.
// Порядок важен: строки относятся к таблице, объявленной до этого события.
func (d *Dispatcher) Route(ctx context.Context, ev event.Event) {
	d.stats.Events.Add(1)
	table := d.state.Table()

	ctx, span := d.tracer.Start(ctx, "dispatch.route", trace.WithAttributes(
		attribute.String("event.kind", ev.Kind.String()),
		attribute.String("event.table", table),
	))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			d.stats.Failures.Add(1)
			span.SetStatus(otelcodes.Error, "panic")
			d.log.Error("panic while routing event", "kind", ev.Kind.String(), "table", table, "panic", p)
		}
	}()

	if ev.Kind.IsRow() && table != "" {
		routed := false
		if d.reg.IsMapped(table) {
			d.direct(ctx, table, ev)
			routed = true
		}
		if d.reg.IsCarrier(table) {
			d.cascade(ctx, table, ev)
			routed = true
		}
		if !routed {
			d.stats.Skipped.Add(1)
		}
	}

	if ev.Kind == event.KindTableMap && ev.TableMap != nil {
		d.enter(ev.TableMap)
	}
}

// direct: сохранение или удаление самой сущности таблицы.
func (d *Dispatcher) direct(ctx context.Context, table string, ev event.Event) {
	schema, err := d.reg.Lookup(table)
	if err != nil {
		return
	}
	for _, row := range ev.Images() {
		e, err := d.mat.Materialize(table, row)
		if err != nil {
			d.failed(ctx, "entity not materialized", err, "table", table)
			continue
		}
		if ev.Kind == event.KindDelete {
			d.apply(ctx, "delete", schema.Sink.Delete, e)
			continue
		}
		d.apply(ctx, "save", schema.Sink.Save, e)
	}
}

// cascade: пересохранение владельцев, чьё вложенное поле зависит от строки носителя.
func (d *Dispatcher) cascade(ctx context.Context, table string, ev event.Event) {
	layout, ok := d.state.Layout(table)
	if !ok {
		d.failed(ctx, "carrier layout unknown", materialize.ErrLayoutMissing, "table", table)
		return
	}
	for _, row := range ev.Images() {
		if len(row) != len(layout.Columns) || len(row) != len(layout.Types) {
			// у прямо отображаемой таблицы ошибку уже засчитал direct
			if !d.reg.IsMapped(table) {
				d.failed(ctx, "carrier row skipped", fmt.Errorf("table %q: %d columns, %d types, %d values: %w",
					table, len(layout.Columns), len(layout.Types), len(row), materialize.ErrLayoutMismatch))
			}
			continue
		}
		for _, c := range d.reg.Carriers(table) {
			d.cascadeRow(ctx, table, c, layout, row)
		}
	}
}

func (d *Dispatcher) cascadeRow(ctx context.Context, table string, c registry.Carrier, layout materialize.Layout, row []any) {
	key, ok := carrierKey(layout, row, c.Rel.CarrierColumn())
	if !ok {
		d.log.Debug("carrier row has no owner key", "table", table, "column", c.Rel.CarrierColumn())
		return
	}
	owners, err := d.resolver.Resolve(ctx, c.Owner, c.Rel, key)
	if err != nil {
		if errors.Is(err, resolve.ErrOwnerNotFound) {
			// владелец ещё не реплицирован: не авария
			d.log.Info("cascade skipped", "owner", c.Owner.FQN(), "field", c.Rel.Field, "key", key)
			return
		}
		d.failed(ctx, "cascade lookup failed", err, "owner", c.Owner.FQN(), "field", c.Rel.Field)
		return
	}
	for _, o := range owners {
		if d.apply(ctx, "save", c.Owner.Sink.Save, o) {
			d.stats.Cascaded.Add(1)
		}
	}
}

func (d *Dispatcher) enter(tm *event.TableMap) {
	var columns []string
	if s, err := d.reg.Lookup(tm.Table); err == nil {
		columns = s.Columns
	}
	if d.state.Enter(tm, columns) {
		d.log.Debug("column layout cached", "table", tm.Table, "columns", len(tm.Types))
	}
}

func (d *Dispatcher) apply(ctx context.Context, op string, fn func(context.Context, *entity.Entity) error, e *entity.Entity) bool {
	if err := fn(ctx, e); err != nil {
		d.failed(ctx, "sink operation failed", &SinkError{Op: op, Entity: e.String(), Err: err})
		return false
	}
	switch op {
	case "delete":
		d.stats.Deleted.Add(1)
	default:
		d.stats.Saved.Add(1)
	}
	d.log.Debug("entity "+op+"d", "entity", e.String())
	return true
}

func (d *Dispatcher) failed(ctx context.Context, msg string, err error, args ...any) {
	d.stats.Failures.Add(1)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, msg)
	d.log.Error(msg, append(args, "err", err)...)
}

// carrierKey: первое ненулевое значение колонки column в строке носителя.
func carrierKey(layout materialize.Layout, row []any, column string) (string, bool) {
	for i, c := range layout.Columns {
		if c != column || row[i] == nil {
			continue
		}
		return coerce.Format(row[i]), true
	}
	return "", false
}
