package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"replicator/internal/api"
	"replicator/internal/binding"
	"replicator/internal/config"
	"replicator/internal/dispatch"
	"replicator/internal/dsl"
	"replicator/internal/logging"
	"replicator/internal/materialize"
	"replicator/internal/pg"
	"replicator/internal/registry"
	"replicator/internal/resolve"
	"replicator/internal/sink"
	"replicator/internal/sink/memory"
	"replicator/internal/sink/sqlsink"
	"replicator/internal/stream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "replicator:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(config.DefaultPath, args)
	if err != nil {
		return err
	}
	log, flush := logging.Setup(cfg.LogLevel, cfg.SeqURL)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// HTTP API
	if cfg.Port != "" {
		go func() {
			log.Info("API listening", "port", cfg.Port)
			err := api.RunServer(":"+cfg.Port, api.Deps{Registry: a.reg, Store: a.store, Stats: a.stats, State: a.state})
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("API stopped", "err", err)
			}
		}()
	}

	// Поток изменений
	in, closeIn, err := openEvents(cfg.Events)
	if err != nil {
		return err
	}
	defer closeIn()
	err = stream.Run(ctx, stream.NewJSONLines(in), a.dispatcher, a.state)
	log.Info("replication stopped", "stats", a.stats.Snapshot())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type app struct {
	reg        *registry.Registry
	store      *memory.Store
	state      *materialize.State
	stats      *dispatch.Stats
	dispatcher *dispatch.Dispatcher
	sinkDB     *sql.DB
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{store: memory.NewStore(), state: materialize.NewState(), stats: &dispatch.Stats{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Метаданные: сущности DSL и привязки таблиц
	entities, err := dsl.LoadAllEntities(cfg.DSLDir)
	if err != nil {
		return nil, fmt.Errorf("load DSL: %w", err)
	}
	cat, err := binding.Load(cfg.Bindings)
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	log.Info("metadata loaded", "entities", len(entities), "tables", len(cat.Tables))

	// 2. Sink'и
	sinks := sink.Set{"memory": sink.WithTimeout(a.store, cfg.SinkTimeout.Duration)}
	var (
		sinkDB  *sql.DB
		sqlSink *sqlsink.Sink
	)
	if cfg.SinkURL != "" {
		sinkDB, err = pg.Open(cfg.SinkDriver, cfg.SinkURL)
		if err != nil {
			return nil, fmt.Errorf("open sink DB: %w", err)
		}
		a.sinkDB = sinkDB
		a.closers = append(a.closers, func() { _ = sinkDB.Close() })
		sqlSink = sqlsink.New(sinkDB, cfg.SinkDriver)
		sinks["sql"] = sink.WithTimeout(sqlSink, cfg.SinkTimeout.Duration)
	}

	// 3. Реестр
	a.reg, err = registry.New(entities, cat, sinks)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if sqlSink != nil {
		if err := prepareSQLSink(ctx, sinkDB, sqlSink, a.reg.Schemas(), cfg.AutoMigrate); err != nil {
			return nil, err
		}
	}

	// 4. Материализатор, обратное разрешение, маршрутизатор
	mat := materialize.New(a.reg, a.state,
		materialize.WithLogger(log),
		materialize.WithDiagnostics(a.stats.FieldError))

	res, err := a.resolver(cfg, mat, sinkDB)
	if err != nil {
		return nil, err
	}
	a.dispatcher = dispatch.New(a.reg, a.state, mat, res, dispatch.WithLogger(log), dispatch.WithStats(a.stats))
	return a, nil
}

// resolver: с БД-источником владельцы читаются из неё, иначе из того sink'а, где они лежат.
func (a *app) resolver(cfg config.Config, mat *materialize.Materializer, sinkDB *sql.DB) (resolve.Resolver, error) {
	if cfg.SourceURL != "" {
		src, err := pg.Open(cfg.SourceDriver, cfg.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("open source DB: %w", err)
		}
		a.closers = append(a.closers, func() { _ = src.Close() })
		return resolve.NewSQL(src, cfg.SourceDriver, mat), nil
	}
	bySink := resolve.BySink{"memory": resolve.NewMemory(a.store)}
	if sinkDB != nil {
		bySink["sql"] = resolve.NewSQL(sinkDB, cfg.SinkDriver, mat, resolve.FromSink())
	}
	if err := bySink.Covers(a.reg.Schemas()); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return bySink, nil
}

// prepareSQLSink регистрирует в sql-sink'е его схемы и, если нужно, создаёт таблицы.
func prepareSQLSink(ctx context.Context, db *sql.DB, s *sqlsink.Sink, schemas []*registry.Schema, migrate bool) error {
	var own []*registry.Schema
	for _, sc := range schemas {
		if sc.SinkName == "sql" {
			s.Register(sc)
			own = append(own, sc)
		}
	}
	if !migrate || len(own) == 0 {
		return nil
	}
	n, err := pg.Migrate(ctx, db, own)
	if err != nil {
		return fmt.Errorf("migrate sink: %w", err)
	}
	slog.Info("sink tables ready", "tables", n)
	return nil
}

// openEvents открывает файл событий; "-" или пустой путь означает stdin.
func openEvents(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open events: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
