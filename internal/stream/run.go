package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"replicator/internal/event"
	"replicator/internal/materialize"
)

// Router: то, что принимает события (dispatch.Dispatcher).
type Router interface {
	Route(ctx context.Context, ev event.Event)
}

// Run начинает новое соединение с потоком: сбрасывает state и прогоняет события
// по порядку до io.EOF (nil) или отмены ctx.
func Run(ctx context.Context, src Source, r Router, state *materialize.State) error {
	state.Reset()
	n := 0
	for {
		ev, err := src.Next(ctx)
		var de *DecodeError
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			slog.Info("change stream finished", "events", n)
			return nil
		case errors.As(err, &de):
			slog.Warn("change event skipped", "line", de.Line, "err", de.Err)
			continue
		default:
			return err
		}
		r.Route(ctx, ev)
		n++
	}
}
