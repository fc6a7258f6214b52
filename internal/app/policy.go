package app

import (
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// Policy decides what happens to the process when an engine worker dies.
type Policy interface {
	OnWorkerDied(id domain.WorkerID, err error)
}

// ExitPolicy treats worker death as fatal: meetings on that worker cannot
// move elsewhere, so the process exits after Grace.
type ExitPolicy struct {
	Grace time.Duration
	Exit  func()

	once sync.Once
}

func (p *ExitPolicy) OnWorkerDied(id domain.WorkerID, err error) {
	p.once.Do(func() {
		log.Error().Err(err).Str("module", "app.policy").
			Str("worker_id", string(id)).
			Dur("grace", p.Grace).
			Msg("worker died, scheduling exit")
		time.AfterFunc(p.Grace, p.Exit)
	})
}
