package stream

import (
	"context"
	"errors"
	"io"
)

// Pipe moves every item from r to w, then closes w.
//
// A source error aborts w and is returned. A write error cancels r and is
// returned. When ctx ends, r is canceled, w is aborted with the context
// cause and ctx.Err() is returned.
func Pipe[T any](ctx context.Context, r *Readable[T], w Writer[T]) error {
	abort := func() error {
		cause := context.Cause(ctx)
		_ = r.Cancel(cause)
		_ = w.Abort(cause)
		return ctx.Err()
	}

	for {
		if ctx.Err() != nil {
			return abort()
		}

		item, err := r.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return w.Close(ctx)
		case ctx.Err() != nil:
			return abort()
		case err != nil:
			_ = w.Abort(err)
			return err
		}

		if err := w.Write(ctx, item); err != nil {
			if ctx.Err() != nil {
				return abort()
			}
			_ = r.Cancel(err)
			return err
		}
	}
}
