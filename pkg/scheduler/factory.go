package scheduler

import (
	"fmt"

	"github.com/eth-cscs/firecrest/pkg/config"
)

// NewClient picks the backend for a cluster. SLURM clusters with an
// apiUrl talk to slurmrestd directly; everything else goes through the
// command line tools over SSH.
func NewClient(cluster string, cfg config.Scheduler, runner CommandRunner) (Client, error) {
	switch cfg.Type {
	case config.SchedulerSlurm:
		if cfg.APIURL != "" {
			return NewSlurmRestClient(cluster, cfg), nil
		}
		return NewSlurmCliClient(cluster, runner), nil
	case config.SchedulerPBS:
		return NewPbsCliClient(cluster, runner), nil
	}
	return nil, fmt.Errorf("unknown scheduler type %q", cfg.Type)
}
