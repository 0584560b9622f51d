package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicator/internal/entity"
)

type deadlineSink struct {
	saw []bool
}

func (d *deadlineSink) Save(ctx context.Context, _ *entity.Entity) error {
	_, ok := ctx.Deadline()
	d.saw = append(d.saw, ok)
	return nil
}

func (d *deadlineSink) Delete(ctx context.Context, e *entity.Entity) error {
	return d.Save(ctx, e)
}

func TestSetGet(t *testing.T) {
	s := Set{"memory": &deadlineSink{}, "sql": &deadlineSink{}}
	got, err := s.Get("memory")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = s.Get("kafka")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[memory sql]")
	assert.Equal(t, []string{"memory", "sql"}, s.Names())
}

func TestWithTimeout(t *testing.T) {
	inner := &deadlineSink{}
	assert.Same(t, inner, WithTimeout(inner, 0))

	s := WithTimeout(inner, time.Second)
	e := entity.New("shop.User", "id", 0)
	require.NoError(t, s.Save(context.Background(), e))
	require.NoError(t, s.Delete(context.Background(), e))
	assert.Equal(t, []bool{true, true}, inner.saw)
}
