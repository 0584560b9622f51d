package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicator/internal/config"
	"replicator/internal/entity"
	"replicator/internal/stream"
)

func loadConfig(t *testing.T, extra ...string) config.Config {
	t.Helper()
	args := append([]string{
		"-dsl", filepath.Join("..", "..", "dsl"),
		"-bindings", filepath.Join("..", "..", "bindings.yaml"),
		"-port", "",
	}, extra...)
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.json"), args)
	require.NoError(t, err)
	return cfg
}

func replay(t *testing.T, a *app) {
	t.Helper()
	f, err := os.Open(filepath.Join("..", "..", "testdata", "changes.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, stream.Run(context.Background(), stream.NewJSONLines(f), a.dispatcher, a.state))
}

func TestReplaySampleStream(t *testing.T) {
	a, err := newApp(context.Background(), loadConfig(t), slog.Default())
	require.NoError(t, err)
	defer a.Close()
	replay(t, a)

	user, ok := a.store.Get("shop.User", "7")
	require.True(t, ok)
	assert.Equal(t, "gold", user.Entity.Values["tier"])
	assert.Equal(t, time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), user.Entity.Values["born"])
	assert.Equal(t, "7", user.Entity.Values["orders"].(*entity.Deferred).Key)

	order, ok := a.store.Get("shop.Order", "10")
	require.True(t, ok)
	assert.Equal(t, 19.9, order.Entity.Values["total"])
	assert.Equal(t, "7", order.Entity.Values["user"].(*entity.Deferred).Key)

	_, ok = a.store.Get("shop.Order", "11")
	assert.False(t, ok)

	snap := a.stats.Snapshot()
	assert.Equal(t, int64(8), snap.Events)
	assert.Equal(t, int64(1), snap.Deleted)
	assert.Equal(t, int64(5), snap.Cascaded)
	assert.Equal(t, int64(0), snap.Failures)
	assert.Equal(t, int64(0), snap.FieldErrors)
}

func TestReplayIntoSQLiteSink(t *testing.T) {
	dir := t.TempDir()
	bindings := filepath.Join(dir, "bindings.yaml")
	require.NoError(t, os.WriteFile(bindings, []byte(`
tables:
  - {table: users, entity: shop.User, sink: sql}
  - {table: orders, entity: shop.Order, sink: memory, columns: [id, total, placed, user_id]}
`), 0o644))

	cfg := loadConfig(t,
		"-bindings", bindings,
		"-sink-driver", "sqlite",
		"-sink", "file:"+filepath.Join(dir, "sink.db"),
		"-auto-migrate",
	)
	a, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer a.Close()
	replay(t, a)

	snap := a.stats.Snapshot()
	assert.Equal(t, int64(0), snap.Failures)
	// владелец-пользователь перечитывается из sql-sink'а: 2 записи и удаление заказа
	// плюс 2 заказа при обновлении пользователя
	assert.Equal(t, int64(5), snap.Cascaded)

	var tier string
	require.NoError(t, a.sinkDB.QueryRow(`select "tier" from "shop_users" where "id" = 7`).Scan(&tier))
	assert.Equal(t, "gold", tier)

	// в памяти только заказы
	_, ok := a.store.Get("shop.User", "7")
	assert.False(t, ok)
	_, ok = a.store.Get("shop.Order", "10")
	assert.True(t, ok)
}

func TestNewAppErrors(t *testing.T) {
	_, err := newApp(context.Background(), loadConfig(t, "-dsl", filepath.Join(t.TempDir(), "missing")), slog.Default())
	assert.Error(t, err)

	_, err = newApp(context.Background(), loadConfig(t, "-bindings", filepath.Join(t.TempDir(), "missing.yaml")), slog.Default())
	assert.Error(t, err)

	_, err = newApp(context.Background(), loadConfig(t, "-sink-driver", "oracle", "-sink", "x"), slog.Default())
	assert.Error(t, err)
}
