package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicator/internal/binding"
	"replicator/internal/coerce"
	"replicator/internal/dsl"
	"replicator/internal/entity"
	"replicator/internal/sink"
)

const shopDSL = `
module shop

entity User:
  id: int pk
  name: string
  tier: enum[basic, gold]
  orders: array[ref[Order]] nested table=orders fk=user_id

entity Order:
  id: int pk
  total: money
  user: ref[User] nested table=users fk=user_id pk=id
`

type nopSink struct{}

func (nopSink) Save(context.Context, *entity.Entity) error   { return nil }
func (nopSink) Delete(context.Context, *entity.Entity) error { return nil }

func entities(t *testing.T, src string) map[string]*dsl.Entity {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(src))
	require.NoError(t, err)
	out := map[string]*dsl.Entity{}
	for _, e := range list {
		out[e.FQN()] = e
	}
	return out
}

func catalog(t *testing.T, doc string) *binding.Catalog {
	t.Helper()
	c, err := binding.Parse([]byte(doc))
	require.NoError(t, err)
	return c
}

func shopRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(entities(t, shopDSL), catalog(t, `
tables:
  - {table: users, entity: shop.User}
  - {table: orders, entity: Order, target: shop_orders}
`), sink.Set{"memory": nopSink{}})
	require.NoError(t, err)
	return reg
}

func TestRegistryLookup(t *testing.T) {
	reg := shopRegistry(t)

	s, err := reg.Lookup("users")
	require.NoError(t, err)
	assert.Equal(t, "shop.User", s.FQN())
	assert.Equal(t, "id", s.KeyField())
	assert.Equal(t, "memory", s.SinkName)
	assert.Equal(t, "shop_users", s.Target)

	o, err := reg.Lookup("orders")
	require.NoError(t, err)
	assert.Equal(t, "shop.Order", o.FQN())
	assert.Equal(t, "shop_orders", o.Target)

	_, err = reg.Lookup("audit_log")
	assert.ErrorIs(t, err, ErrSchemaMissing)
	assert.False(t, reg.IsMapped("audit_log"))
	assert.True(t, reg.IsMapped("users"))

	byFQN, ok := reg.ByEntity("shop.Order")
	require.True(t, ok)
	assert.Same(t, o, byFQN)

	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "orders", schemas[0].Table)
}

func TestRegistryRelationships(t *testing.T) {
	reg := shopRegistry(t)
	user, _ := reg.Lookup("users")
	order, _ := reg.Lookup("orders")

	rel := user.Nested()["orders"]
	assert.Equal(t, OneToMany, rel.Cardinality)
	assert.Equal(t, "orders", rel.Table)
	assert.Equal(t, "id", rel.PrimaryKey)
	assert.Equal(t, "user_id", rel.CarrierColumn())
	assert.Equal(t, "id", rel.OwnerColumn())

	back := order.Nested()["user"]
	assert.Equal(t, ManyToOne, back.Cardinality)
	assert.Equal(t, "id", back.CarrierColumn())
	assert.Equal(t, "user_id", back.OwnerColumn())

	got, ok := order.RelationByColumn("user_id")
	require.True(t, ok)
	assert.Equal(t, "user", got.Field)

	assert.True(t, reg.IsCarrier("orders"))
	assert.True(t, reg.IsCarrier("users"))
	assert.False(t, reg.IsCarrier("payments"))

	carriers := reg.Carriers("orders")
	require.Len(t, carriers, 1)
	assert.Equal(t, "shop.User", carriers[0].Owner.FQN())
	assert.Equal(t, "orders", carriers[0].Rel.Field)
}

func TestSchemaNewAndAssign(t *testing.T) {
	reg := shopRegistry(t)
	user, _ := reg.Lookup("users")

	e := user.New()
	assert.Equal(t, int64(0), e.Values["id"])
	assert.Equal(t, "", e.Values["name"])
	assert.Nil(t, e.Values["orders"])

	require.NoError(t, user.Assign(e, "id", coerce.LongLong, "7"))
	assert.Equal(t, int64(7), e.Values["id"])
	assert.Equal(t, "7", e.Key())

	require.NoError(t, user.Assign(e, "tier", coerce.String, "gold"))
	err := user.Assign(e, "tier", coerce.String, "platinum")
	assert.ErrorIs(t, err, coerce.ErrMismatch)
	assert.Equal(t, "gold", e.Values["tier"])

	require.NoError(t, user.Assign(e, "orders", coerce.String, int64(7)))
	assert.Equal(t, &entity.Deferred{Key: "7", Code: coerce.String}, e.Values["orders"])

	assert.ErrorIs(t, user.Assign(e, "nickname", coerce.String, "x"), ErrNoField)
}

func TestRegistryErrors(t *testing.T) {
	ents := entities(t, shopDSL)
	sinks := sink.Set{"memory": nopSink{}}

	cases := map[string]string{
		"unknown entity": "tables:\n  - {table: users, entity: shop.Customer}\n",
		"unknown sink":   "tables:\n  - {table: users, entity: shop.User, sink: kafka}\n",
		"bound twice":    "tables:\n  - {table: users, entity: shop.User}\n  - {table: people, entity: shop.User}\n",
	}
	for name, doc := range cases {
		_, err := New(ents, catalog(t, doc), sinks)
		assert.Error(t, err, name)
	}

	bad := map[string]string{
		"no table":    "module m\nentity A:\n  id: int pk\n  b: ref[B] nested fk=b_id\n",
		"no fk":       "module m\nentity A:\n  id: int pk\n  b: ref[B] nested table=b\n",
		"cardinality": "module m\nentity A:\n  id: int pk\n  b: ref[B] nested table=b fk=a_id cardinality=many_to_many\n",
		"owner pk":    "module m\nentity A:\n  id: int pk\n  bs: array[ref[B]] nested table=b fk=a_id pk=code\n",
		"no pk field": "module m\nentity A:\n  name: string\n",
	}
	for name, src := range bad {
		_, err := New(entities(t, src), catalog(t, "tables:\n  - {table: a, entity: m.A}\n"), sinks)
		assert.Error(t, err, name)
	}
}

func TestRegistryEmptyCatalog(t *testing.T) {
	reg, err := New(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, reg.Schemas())
	assert.False(t, reg.IsMapped("users"))
}
