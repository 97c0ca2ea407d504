package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/credentials"
	"github.com/eth-cscs/firecrest/pkg/health"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
	"github.com/eth-cscs/firecrest/pkg/transfer"
)

// Cluster bundles everything a request against one HPC system needs.
type Cluster struct {
	Config    *config.Cluster
	Pool      *sshpool.Pool
	Runner    scheduler.CommandRunner
	Scheduler scheduler.Client
	Transfer  *transfer.Orchestrator
	Prober    *health.Prober
}

// Gateway owns the per-cluster resources and the process-wide ones: the
// credential provider, the object storage, the pool pruner and the
// probers.
type Gateway struct {
	settings      *config.Settings
	clusters      map[string]*Cluster
	ordered       []*Cluster
	storage       transfer.ObjectStorage
	storageProber *health.Prober
	pruner        *sshpool.Pruner
}

// New assembles the gateway from validated settings.
func New(ctx context.Context, settings *config.Settings) (*Gateway, error) {
	var provider credentials.Provider
	if settings.SSHCredentials.URL != "" {
		provider = credentials.NewSigningProvider(
			settings.SSHCredentials.URL,
			settings.SSHCredentials.MaxConnections,
			10*time.Second,
		)
	} else {
		provider = credentials.NewStaticProvider(settings.SSHCredentials.Keys)
	}

	maxOpsFileSize := int64(config.DefaultMaxOpsFileSize)
	var storage transfer.ObjectStorage
	if settings.Storage != nil {
		maxOpsFileSize = settings.Storage.MaxOpsFileSize
		s3Storage, err := transfer.NewS3Storage(ctx, settings.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to set up object storage: %w", err)
		}
		storage = s3Storage
	}

	g := &Gateway{
		settings: settings,
		clusters: make(map[string]*Cluster, len(settings.Clusters)),
		storage:  storage,
	}

	pools := make([]*sshpool.Pool, 0, len(settings.Clusters))
	for i := range settings.Clusters {
		clusterCfg := &settings.Clusters[i]

		pool := sshpool.NewPool(clusterCfg.Name, clusterCfg.SSH, provider, maxOpsFileSize)
		runner := &scheduler.PoolRunner{Pool: pool}

		schedClient, err := scheduler.NewClient(clusterCfg.Name, clusterCfg.Scheduler, runner)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", clusterCfg.Name, err)
		}

		orchestrator := transfer.NewOrchestrator(clusterCfg, settings.Storage, schedClient, runner, storage)

		tokens := auth.NewClientCredentialsSource(
			settings.Auth.Authentication.TokenURL,
			clusterCfg.ServiceAccount.ClientID,
			clusterCfg.ServiceAccount.Secret.Value(),
		)
		prober := health.NewProber(
			clusterCfg.Name,
			time.Duration(clusterCfg.Probing.Interval)*time.Second,
			time.Duration(clusterCfg.Probing.Timeout)*time.Second,
			clusterCheckers(clusterCfg, schedClient, runner, pool, tokens),
		)

		cluster := &Cluster{
			Config:    clusterCfg,
			Pool:      pool,
			Runner:    runner,
			Scheduler: schedClient,
			Transfer:  orchestrator,
			Prober:    prober,
		}
		g.clusters[clusterCfg.Name] = cluster
		g.ordered = append(g.ordered, cluster)
		pools = append(pools, pool)
	}

	g.pruner = sshpool.NewPruner(pools)

	if storage != nil {
		probing := config.Probing{Interval: 60, Timeout: 10}
		if settings.Storage.Probing != nil {
			probing = *settings.Storage.Probing
		}
		g.storageProber = health.NewProber(
			settings.Storage.Name,
			time.Duration(probing.Interval)*time.Second,
			time.Duration(probing.Timeout)*time.Second,
			[]health.Checker{&health.S3Check{Store: storage}},
		)
	}

	return g, nil
}

func clusterCheckers(cfg *config.Cluster, sched scheduler.Client, runner scheduler.CommandRunner, pool *sshpool.Pool, tokens auth.TokenSource) []health.Checker {
	username := cfg.ServiceAccount.ClientID
	checkers := []health.Checker{
		&health.SchedulerCheck{Client: sched, Username: username, Tokens: tokens},
		&health.SSHCheck{Pool: pool, Username: username, Tokens: tokens},
	}
	for _, fs := range cfg.FileSystems {
		checkers = append(checkers, &health.FilesystemCheck{
			Runner:   runner,
			Mount:    fs.Path,
			Username: username,
			Tokens:   tokens,
		})
	}
	return checkers
}

// Start launches the background loops: probers and the pool pruner.
func (g *Gateway) Start() {
	for _, cluster := range g.ordered {
		cluster.Prober.Start()
	}
	if g.storageProber != nil {
		g.storageProber.Start()
	}
	g.pruner.Start()
	log.WithComponent("gateway").Info().
		Int("clusters", len(g.ordered)).
		Bool("storage", g.storage != nil).
		Msg("gateway started")
}

// Shutdown stops the loops and tears down every SSH connection.
func (g *Gateway) Shutdown() {
	g.pruner.Stop()
	for _, cluster := range g.ordered {
		cluster.Prober.Stop()
		cluster.Pool.Shutdown()
	}
	if g.storageProber != nil {
		g.storageProber.Stop()
	}
	log.WithComponent("gateway").Info().Msg("gateway stopped")
}

// Cluster resolves a system name from the request path.
func (g *Gateway) Cluster(name string) (*Cluster, bool) {
	cluster, ok := g.clusters[name]
	return cluster, ok
}

// Clusters returns every cluster in configuration order.
func (g *Gateway) Clusters() []*Cluster {
	return g.ordered
}

// Settings exposes the validated configuration.
func (g *Gateway) Settings() *config.Settings {
	return g.settings
}

// StorageProber returns the storage prober, or nil without storage.
func (g *Gateway) StorageProber() *health.Prober {
	return g.storageProber
}

// MaxOpsFileSize is the ceiling for payloads served through the gateway
// process itself.
func (g *Gateway) MaxOpsFileSize() int64 {
	if g.settings.Storage != nil {
		return g.settings.Storage.MaxOpsFileSize
	}
	return config.DefaultMaxOpsFileSize
}
