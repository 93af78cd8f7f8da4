package format

import (
	"context"
	"io"
	"time"

	"github.com/jonesrussell/castflow/internal/aggregator"
	"github.com/jonesrussell/castflow/internal/logger"
)

// flusher is the subset of http.Flusher the writer cares about.
type flusher interface {
	Flush()
}

// StreamWriter renders aggregator items to a writer as they arrive, one flush
// per unit so consumers see output incrementally.
type StreamWriter struct {
	// Delay, when positive, paces post emission. Used to keep long exports
	// from saturating slow consumers.
	Delay  time.Duration
	Logger logger.Logger
}

// Write consumes items until the channel closes or ctx is cancelled,
// preserving arrival order. A fatal item error is rendered as the final text
// line and returned. Write errors (consumer gone) abort silently.
func (sw *StreamWriter) Write(ctx context.Context, w io.Writer, items <-chan aggregator.Item) error {
	f, _ := w.(flusher)
	index := 0

	emit := func(s string) bool {
		if _, err := io.WriteString(w, s); err != nil {
			sw.Logger.Debug("stream consumer went away", logger.Error(err))
			return false
		}
		if f != nil {
			f.Flush()
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}

			switch {
			case item.Err != nil:
				emit(ErrorLine(item.Err))
				return item.Err
			case item.Profile != nil:
				if !emit(ProfileBlock(item.Profile)) {
					return nil
				}
			case item.Post != nil:
				if sw.Delay > 0 && index > 0 {
					timer := time.NewTimer(sw.Delay)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						return ctx.Err()
					}
				}
				index++
				if !emit(PostBlock(index, item.Post)) {
					return nil
				}
			}
		}
	}
}
