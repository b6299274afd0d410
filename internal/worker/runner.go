package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// TaskRunner runs work that must outlive the request that scheduled it,
// such as applying a webhook event after the delivery was acknowledged.
// Tasks are never cancelled; Shutdown waits for them.
type TaskRunner struct {
	ctx context.Context
	wg  sync.WaitGroup
	log zerolog.Logger
}

func NewTaskRunner(ctx context.Context, log zerolog.Logger) *TaskRunner {
	return &TaskRunner{
		ctx: context.WithoutCancel(ctx),
		log: log.With().Str("component", "tasks").Logger(),
	}
}

func (r *TaskRunner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("task", name).Str("panic", fmt.Sprint(p)).Msg("task panicked")
			}
		}()
		fn(r.ctx)
	}()
}

// Shutdown blocks until every scheduled task has finished or ctx is done.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running: %w", ctx.Err())
	}
}
