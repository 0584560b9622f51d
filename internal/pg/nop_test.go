package pg

import (
	"context"

	"replicator/internal/entity"
)

type nopSink struct{}

func (nopSink) Save(context.Context, *entity.Entity) error   { return nil }
func (nopSink) Delete(context.Context, *entity.Entity) error { return nil }
