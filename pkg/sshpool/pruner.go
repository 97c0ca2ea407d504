package sshpool

import (
	"time"

	"github.com/eth-cscs/firecrest/pkg/log"
)

// PruneInterval is the cadence of the pool reaper.
const PruneInterval = 5 * time.Second

// Pruner periodically closes idle connections across all pools.
type Pruner struct {
	pools    []*Pool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPruner creates a pruner over the given pools.
func NewPruner(pools []*Pool) *Pruner {
	return &Pruner{
		pools:    pools,
		interval: PruneInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the pruning loop.
func (p *Pruner) Start() {
	go p.run()
	log.WithComponent("sshpool").Info().
		Dur("interval", p.interval).
		Int("pools", len(p.pools)).
		Msg("connection pruner started")
}

func (p *Pruner) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for _, pool := range p.pools {
				pool.PruneIdle()
			}
		}
	}
}

// Stop terminates the pruning loop and waits for it to exit.
func (p *Pruner) Stop() {
	close(p.stopCh)
	<-p.doneCh
}
