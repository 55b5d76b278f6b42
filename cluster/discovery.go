package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulecore/partition"
)

// Membership is the shared registry of live nodes. natsclient.KVStore on a
// bucket with a TTL implements it; entries of dead nodes expire.
type Membership interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// watchable memberships push changes between heartbeats
type watchable interface {
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

type memberInfo struct {
	NodeID    string    `json:"node_id"`
	Heartbeat time.Time `json:"heartbeat"`
}

// Discovery keeps this node registered and recalculates partition
// ownership whenever the set of live nodes changes
type Discovery struct {
	self       string
	members    Membership
	partitions *partition.HashPartitionService
	interval   time.Duration
	logger     *slog.Logger

	last []string
}

// NewDiscovery creates a discovery loop for node self. interval is the
// heartbeat period and should be well below the bucket TTL.
func NewDiscovery(self string, members Membership, partitions *partition.HashPartitionService, interval time.Duration, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Discovery{
		self:       self,
		members:    members,
		partitions: partitions,
		interval:   interval,
		logger:     logger.With("component", "discovery", "node_id", self),
	}
}

// Run registers the node and refreshes membership until ctx is done. The
// node is deregistered on return.
func (d *Discovery) Run(ctx context.Context) error {
	if err := d.heartbeat(ctx); err != nil {
		return err
	}
	d.refresh(ctx)

	var updates <-chan jetstream.KeyValueEntry
	if w, ok := d.members.(watchable); ok {
		watcher, err := w.Watch(ctx, ">")
		if err != nil {
			d.logger.Warn("Membership watch unavailable, relying on heartbeats", "error", err)
		} else {
			defer watcher.Stop()
			updates = watcher.Updates()
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	defer d.deregister()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.heartbeat(ctx); err != nil {
				d.logger.Warn("Heartbeat failed", "error", err)
				continue
			}
			d.refresh(ctx)
		case _, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			d.refresh(ctx)
		}
	}
}

func (d *Discovery) heartbeat(ctx context.Context) error {
	value, err := json.Marshal(memberInfo{NodeID: d.self, Heartbeat: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = d.members.Put(ctx, d.self, value)
	return err
}

// refresh recalculates ownership when the live node set changed
func (d *Discovery) refresh(ctx context.Context) {
	keys, err := d.members.Keys(ctx)
	if err != nil {
		d.logger.Warn("Failed to list cluster members", "error", err)
		return
	}
	others := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != d.self {
			others = append(others, k)
		}
	}
	slices.Sort(others)
	if d.last != nil && slices.Equal(d.last, others) {
		return
	}
	d.last = others
	d.logger.Info("Cluster membership changed", "peers", others)
	d.partitions.RecalculatePartitions(d.self, others)
}

func (d *Discovery) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.members.Delete(ctx, d.self); err != nil {
		d.logger.Warn("Failed to deregister node", "error", err)
	}
}
