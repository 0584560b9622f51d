//go:build integration

package sqlsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"replicator/internal/coerce"
	"replicator/internal/materialize"
	"replicator/internal/pg"
	"replicator/internal/registry"
	"replicator/internal/resolve"
)

func TestPostgresSinkAndResolver(t *testing.T) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("replica"),
		postgres.WithUsername("kalita"),
		postgres.WithPassword("kalita"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := pg.Open(pg.DriverPostgres, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, pg.DriverPostgres)
	reg := shopRegistryWith(t, s)
	users, err := reg.Lookup("users")
	require.NoError(t, err)
	s.Register(users)

	ddl, err := pg.GenerateDDL([]*registry.Schema{users})
	require.NoError(t, err)
	require.NoError(t, pg.ApplyDDL(ctx, db, ddl))
	require.NoError(t, pg.ApplyDDL(ctx, db, ddl))

	e := users.New()
	require.NoError(t, users.Assign(e, "id", coerce.LongLong, int64(1)))
	require.NoError(t, users.Assign(e, "name", coerce.VarChar, "ann"))
	require.NoError(t, users.Assign(e, "tags", coerce.Set, "a,b"))
	require.NoError(t, users.Assign(e, "active", coerce.Tiny, int64(1)))
	require.NoError(t, s.Save(ctx, e))
	require.NoError(t, users.Assign(e, "name", coerce.VarChar, "bob"))
	require.NoError(t, s.Save(ctx, e))

	var name string
	var active bool
	require.NoError(t, db.QueryRowContext(ctx, `select "name", "active" from "shop_users" where "id" = $1`, 1).Scan(&name, &active))
	assert.Equal(t, "bob", name)
	assert.True(t, active)

	// тот же Postgres как источник для обратного разрешения
	_, err = db.ExecContext(ctx, `create table users (id bigint primary key, name text, tags text, active boolean)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `insert into users values (7, 'eve', 'x,y', true)`)
	require.NoError(t, err)

	r := resolve.NewSQL(db, pg.DriverPostgres, materialize.New(reg, materialize.NewState()))
	owners, err := r.Resolve(ctx, users, users.Nested()["orders"], "7")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "shop.User#7", owners[0].String())
	assert.Equal(t, "eve", owners[0].Values["name"])
	assert.Equal(t, []string{"x", "y"}, owners[0].Values["tags"])

	require.NoError(t, s.Delete(ctx, e))
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `select count(*) from "shop_users"`).Scan(&n))
	assert.Equal(t, 0, n)
}
