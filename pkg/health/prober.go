package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/metrics"
)

// Prober periodically runs a fixed set of checks against one target (a
// cluster, or the storage) and publishes the results as an atomically
// replaced snapshot. Readers never block the prober and always see a
// complete probe round.
type Prober struct {
	target   string
	interval time.Duration
	timeout  time.Duration
	checkers []Checker

	snapshot atomic.Pointer[[]CheckResult]
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewProber(target string, interval, timeout time.Duration, checkers []Checker) *Prober {
	return &Prober{
		target:   target,
		interval: interval,
		timeout:  timeout,
		checkers: checkers,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the probe loop. The first round runs immediately so the
// gate has data as soon as possible.
func (p *Prober) Start() {
	go p.run()
	log.WithComponent("health").Info().
		Str("target", p.target).
		Dur("interval", p.interval).
		Int("checks", len(p.checkers)).
		Msg("health prober started")
}

func (p *Prober) run() {
	defer close(p.doneCh)

	p.probe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probe()
		case <-p.stopCh:
			return
		}
	}
}

// Stop terminates the loop and waits for an in-flight round to finish.
func (p *Prober) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// probe runs every checker concurrently, each bounded by the probing
// timeout, and replaces the snapshot in one step.
func (p *Prober) probe() {
	results := make([]CheckResult, len(p.checkers))

	var group errgroup.Group
	for i, checker := range p.checkers {
		group.Go(func() error {
			results[i] = p.runCheck(checker)
			return nil
		})
	}
	_ = group.Wait()

	p.snapshot.Store(&results)
}

func (p *Prober) runCheck(checker Checker) (result CheckResult) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	started := time.Now()

	// a panicking checker flips the result instead of killing the loop
	defer func() {
		if r := recover(); r != nil {
			result = p.finishCheck(checker, started, fmt.Errorf("check panicked: %v", r))
		}
	}()

	return p.finishCheck(checker, started, checker.Check(ctx))
}

func (p *Prober) finishCheck(checker Checker, started time.Time, err error) CheckResult {
	elapsed := time.Since(started).Seconds()

	result := CheckResult{
		ServiceType: checker.ServiceType(),
		Healthy:     err == nil,
		Path:        checker.Path(),
		Latency:     elapsed,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		result.Message = err.Error()
		log.WithComponent("health").Warn().
			Str("target", p.target).
			Str("check", string(result.ServiceType)).
			Err(err).
			Msg("health check failed")
	}

	check := string(result.ServiceType)
	if result.Path != "" {
		check += ":" + result.Path
	}
	metrics.ObserveHealthCheck(p.target, check, result.Healthy, elapsed)
	return result
}

// Snapshot returns the latest probe round, or nil before the first one.
func (p *Prober) Snapshot() []CheckResult {
	if results := p.snapshot.Load(); results != nil {
		return *results
	}
	return nil
}

// Healthy is the availability gate: it reports whether every check of
// the given service type passed in the latest round, with the first
// failure message. Before the first round everything counts as healthy.
func (p *Prober) Healthy(service ServiceType) (bool, string) {
	for _, result := range p.Snapshot() {
		if result.ServiceType == service && !result.Healthy {
			return false, result.Message
		}
	}
	return true, ""
}
