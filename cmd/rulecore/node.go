package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/cluster"
	"github.com/c360/rulecore/config"
	"github.com/c360/rulecore/debug"
	"github.com/c360/rulecore/health"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/natsclient"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/ratelimit"
	"github.com/c360/rulecore/ruleengine"
	"github.com/c360/rulecore/scheduler"
	"github.com/c360/rulecore/storage"
	"github.com/c360/rulecore/storage/eventstore"
)

const kvTimeout = 5 * time.Second

// node owns every long lived component of the process
type node struct {
	cfg    *config.Config
	logger *slog.Logger
	id     string

	registry   *metric.MetricsRegistry
	monitor    *health.Monitor
	metricsSrv *metric.Server
	store      storage.EventStore
	persister  *debug.AsyncPersister
	rateLimits *ratelimit.Service
	scheduler  *scheduler.Scheduler
	partitions *partition.HashPartitionService
	actors     *actor.System
	chains     *ruleengine.ChainRegistry
	engine     *ruleengine.Engine

	// set only when NATS is enabled
	nats      *natsclient.Client
	transport cluster.Transport
	consumer  *cluster.Consumer
	discovery *cluster.Discovery
	chainSync *config.Manager
}

// newNode wires the components. Nothing is started yet, except the NATS
// connection which is needed to create the buckets.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	identity, err := cluster.LoadIdentity(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return nil, fmt.Errorf("load node identity: %w", err)
	}
	n := &node{
		cfg:      cfg,
		id:       identity.ID(),
		logger:   logger.With("node_id", identity.ID()),
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	n.logger.Info("Node identity loaded", "data_dir", identity.DataDir())

	if cfg.Metrics.Enabled {
		n.metricsSrv = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, n.registry)
		n.metricsSrv.SetHealthHandler(n.monitor.Handler(appName))
	}

	n.store, err = eventstore.Open(cfg.Events, n.logger, n.registry)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	n.monitor.UpdateHealthy("event_store", cfg.Events.Store+" store open")
	n.persister = debug.NewAsyncPersister(n.store, cfg.Persister, n.logger, n.registry)
	n.rateLimits = ratelimit.NewService(ratelimit.WithLogger(n.logger), ratelimit.WithMetrics(n.registry))

	debugCfg := cfg.Debug
	debugCfg.ServiceID = n.id
	emitter := debug.NewEmitter(debugCfg, n.persister, n.rateLimits, n.logger, n.registry)

	n.scheduler = scheduler.New(n.logger, n.registry)
	n.partitions, err = partition.NewHashPartitionService(cfg.Partitioning, n.logger, n.registry)
	if err != nil {
		n.closeStore()
		return nil, fmt.Errorf("create partition service: %w", err)
	}
	// Own everything until discovery reports other nodes
	n.partitions.RecalculatePartitions(n.id, nil)

	n.chains = ruleengine.NewChainRegistry()
	if cfg.RuleChains != "" {
		if err := n.loadRuleChains(cfg.RuleChains); err != nil {
			n.closeStore()
			return nil, err
		}
	}

	if cfg.NATS.Enabled {
		if err := n.connectNATS(ctx); err != nil {
			n.closeStore()
			return nil, err
		}
	}
	clusterSvc := cluster.NewService(n.partitions, n.transport, n.logger)

	n.actors = actor.NewSystem(cfg.Actors, n.logger, n.registry)
	n.engine, err = ruleengine.New(&ruleengine.SystemContext{
		Settings:   cfg.RuleEngine,
		ServiceID:  n.id,
		Partitions: n.partitions,
		Cluster:    clusterSvc,
		Scheduler:  n.scheduler,
		Emitter:    emitter,
		Chains:     n.chains,
		Nodes:      ruleengine.NewNodeRegistry(),
		Logger:     n.logger,
		Metrics:    n.registry.CoreMetrics(),
	}, n.actors)
	if err != nil {
		n.closeAll()
		return nil, fmt.Errorf("create rule engine: %w", err)
	}

	if n.nats != nil {
		if err := n.setupCluster(ctx); err != nil {
			n.closeAll()
			return nil, err
		}
	}
	return n, nil
}

func (n *node) loadRuleChains(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rule chains: %w", err)
	}
	defer f.Close()

	count, err := n.chains.LoadDefinitions(f)
	if err != nil {
		return fmt.Errorf("load rule chains from %s: %w", path, err)
	}
	n.logger.Info("Rule chains loaded", "path", path, "chains", count)
	return nil
}

func (n *node) connectNATS(ctx context.Context) error {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + n.id),
		natsclient.WithLogger(n.logger),
		natsclient.WithMetrics(n.registry),
		natsclient.WithMaxReconnects(n.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(n.cfg.NATS.ReconnectWait),
		natsclient.WithAckWait(n.cfg.NATS.PackTimeout),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				n.monitor.UpdateHealthy("nats", "connected")
			} else {
				n.monitor.UpdateUnhealthy("nats", "disconnected")
			}
		}),
	}
	if n.cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.cfg.NATS.Username, n.cfg.NATS.Password))
	}
	if n.cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(n.cfg.NATS.Token))
	}
	if tls := n.cfg.NATS.TLS; tls.Enabled() {
		opts = append(opts, natsclient.WithTLS(tls.CertFile, tls.KeyFile, tls.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(n.cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	n.logger.Info("Connecting to NATS", "urls", n.cfg.NATS.URLs)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	n.nats = client
	n.transport = cluster.NewNATSTransport(client, n.cfg.NATS.Stream,
		cluster.StreamSubjects(n.cfg.Partitioning.Queues), n.cfg.NATS.MaxAge, n.logger)
	return nil
}

// setupCluster creates the consumer, membership and rule chain sync
func (n *node) setupCluster(ctx context.Context) error {
	n.consumer = cluster.NewConsumer(n.partitions, n.transport, n.engine, n.cfg.NATS.PackTimeout, n.logger, n.registry)

	members, err := n.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      n.cfg.NATS.MembersBucket,
		Description: "rulecore live nodes",
		TTL:         n.cfg.NATS.MembersTTL,
	})
	if err != nil {
		return fmt.Errorf("create members bucket: %w", err)
	}
	n.discovery = cluster.NewDiscovery(n.id, natsclient.NewKVStore(members, kvTimeout),
		n.partitions, n.cfg.NATS.HeartbeatInterval, n.logger)

	chainsBucket, err := n.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      n.cfg.NATS.ChainsBucket,
		Description: "rulecore rule chain definitions",
		History:     5,
	})
	if err != nil {
		return fmt.Errorf("create rule chains bucket: %w", err)
	}
	n.chainSync, err = config.NewManager(n.cfg.Version, n.chains, n.engine,
		natsclient.NewKVStore(chainsBucket, kvTimeout), n.logger)
	if err != nil {
		return fmt.Errorf("create rule chain sync: %w", err)
	}
	return nil
}

// run starts everything, blocks until ctx is done or a background task
// fails, then shuts down within the configured timeout
func (n *node) run(ctx context.Context) error {
	// Components outlive ctx so they can drain during shutdown
	lifeCtx, cancelLife := context.WithCancel(context.Background())
	defer cancelLife()

	if err := n.start(lifeCtx); err != nil {
		n.shutdown()
		return err
	}
	n.monitor.UpdateHealthy("rule_engine", "running")
	n.logger.Info("rulecore started", "nats", n.nats != nil, "tenants", len(n.chains.Tenants()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eventstore.RunRetention(gctx, n.store, n.cfg.Events.TTL, n.cfg.Events.CleanupInterval, n.logger)
		return nil
	})
	g.Go(func() error {
		n.cleanupRateLimits(gctx)
		return nil
	})
	if n.discovery != nil {
		n.monitor.UpdateHealthy("discovery", "heartbeating")
		g.Go(func() error {
			err := n.discovery.Run(gctx)
			if err != nil {
				n.monitor.Update("discovery", health.FromError("discovery", err, ""))
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if err != nil {
		n.logger.Error("Background task failed", "error", err)
	} else {
		n.logger.Info("Received shutdown signal")
	}

	n.shutdown()
	cancelLife()
	n.logger.Info("rulecore shutdown complete")
	return err
}

func (n *node) start(ctx context.Context) error {
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		n.logger.Info("Metrics server started", "address", n.metricsSrv.Address())
	}
	if err := n.persister.Start(ctx); err != nil {
		return fmt.Errorf("start debug event persister: %w", err)
	}
	n.scheduler.Start(ctx)

	if n.nats == nil {
		return nil
	}
	if err := n.transport.Start(ctx); err != nil {
		return fmt.Errorf("start cluster transport: %w", err)
	}
	if err := n.chainSync.Start(ctx); err != nil {
		return fmt.Errorf("start rule chain sync: %w", err)
	}
	if err := n.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start cluster consumer: %w", err)
	}
	return nil
}

// cleanupRateLimits drops idle token buckets until ctx is done
func (n *node) cleanupRateLimits(ctx context.Context) {
	idle := n.cfg.RateLimitIdle
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := n.rateLimits.Cleanup(idle); removed > 0 {
				n.logger.Debug("Removed idle rate limits", "removed", removed)
			}
		}
	}
}

// shutdown stops intake first, then the actors, then the sinks they feed
func (n *node) shutdown() {
	timeout := n.cfg.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n.monitor.UpdateUnhealthy("rule_engine", "shutting down")

	if n.consumer != nil {
		n.consumer.Stop()
	}
	if n.chainSync != nil {
		if err := n.chainSync.Stop(timeout); err != nil {
			n.logger.Warn("Rule chain sync stop failed", "error", err)
		}
	}
	n.engine.Stop()
	if err := n.actors.Stop(ctx); err != nil {
		n.logger.Warn("Actor system stop failed", "error", err)
	}
	n.scheduler.Stop()

	if err := n.persister.Stop(remaining(ctx)); err != nil {
		n.logger.Warn("Debug event persister stop failed", "error", err)
	}
	n.closeStore()

	if n.metricsSrv != nil {
		if err := n.metricsSrv.Stop(ctx); err != nil {
			n.logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if n.transport != nil {
		if err := n.transport.Close(ctx); err != nil {
			n.logger.Warn("Cluster transport close failed", "error", err)
		}
	}
	if n.nats != nil {
		if err := n.nats.Close(ctx); err != nil {
			n.logger.Warn("NATS close failed", "error", err)
		}
	}
}

// closeAll releases what newNode acquired when wiring fails half way
func (n *node) closeAll() {
	if n.actors != nil {
		_ = n.actors.Stop(context.Background())
	}
	if n.nats != nil {
		_ = n.nats.Close(context.Background())
	}
	n.closeStore()
}

func (n *node) closeStore() {
	if err := n.store.Close(); err != nil {
		n.logger.Warn("Event store close failed", "error", err)
	}
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Second
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}
