package app

import (
	"context"
	"errors"
	"runtime"

	"github.com/dkeye/Conference/internal/media"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var ErrNoWorkers = errors.New("worker pool is empty")

// WorkerPool hands out a fixed set of engine workers round robin.
// Workers are never replaced; a dead worker goes to the Policy.
type WorkerPool struct {
	workers []media.Worker
	cursor  atomic.Uint64
}

// NewWorkerPool starts n workers in parallel, one per CPU when n <= 0.
// If any worker fails to start the ones already running are closed.
func NewWorkerPool(ctx context.Context, engine media.Engine, n int, opts media.WorkerOptions, policy Policy) (*WorkerPool, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	workers := make([]media.Worker, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := engine.CreateWorker(gctx, opts)
			if err != nil {
				return err
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				w.Close()
			}
		}
		return nil, err
	}

	for _, w := range workers {
		id := w.ID()
		w.OnDied(func(err error) {
			log.Error().Err(err).Str("module", "app.workers").Str("worker_id", string(id)).Msg("worker died")
			if policy != nil {
				policy.OnWorkerDied(id, err)
			}
		})
	}
	log.Info().Str("module", "app.workers").Int("count", n).Msg("worker pool started")
	return &WorkerPool{workers: workers}, nil
}

// Assign returns the next worker in round robin order.
func (p *WorkerPool) Assign() media.Worker {
	if len(p.workers) == 0 {
		panic(ErrNoWorkers)
	}
	i := (p.cursor.Inc() - 1) % uint64(len(p.workers))
	return p.workers[i]
}

func (p *WorkerPool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
	log.Info().Str("module", "app.workers").Msg("worker pool closed")
}
