package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	rcerrors "github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/natsclient"
	"github.com/c360/rulecore/ruleengine"
)

// KV key layout of the chains bucket
const (
	versionKey   = "version"
	chainsPrefix = "chains."
	chainsWatch  = "chains.*"
)

// KVStore is the bucket the manager syncs through. natsclient.KVStore
// implements it.
type KVStore interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	WatchUpdates(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

// ChainSink applies rule chain changes to the running engine.
// ruleengine.Engine implements it.
type ChainSink interface {
	UpdateRuleChain(chain ruleengine.RuleChain) error
	DeleteRuleChain(chainID uuid.UUID) error
}

// Update represents a rule chain change notification
type Update struct {
	Key     string
	ChainID uuid.UUID
	Deleted bool
}

// Manager keeps the rule chain definitions of every node in step through
// a KV bucket. On first boot, or when the local version is newer, the local
// chains are pushed; otherwise the bucket wins. Changes written by any node
// are then applied everywhere.
type Manager struct {
	version     string
	chains      *ruleengine.ChainRegistry
	sink        ChainSink
	kv          KVStore
	watcher     jetstream.KeyWatcher
	subscribers map[string][]chan Update
	mu          sync.RWMutex
	logger      *slog.Logger

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewManager creates a manager. version is the configuration version the
// local chains belong to.
func NewManager(version string, chains *ruleengine.ChainRegistry, sink ChainSink, kv KVStore, logger *slog.Logger) (*Manager, error) {
	if chains == nil || sink == nil || kv == nil {
		return nil, rcerrors.WrapInvalid(rcerrors.ErrMissingConfig, "Manager", "New", "check dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		version:     version,
		chains:      chains,
		sink:        sink,
		kv:          kv,
		subscribers: make(map[string][]chan Update),
		logger:      logger.With("component", "config-manager"),
		shutdownCh:  make(chan struct{}),
	}, nil
}

// OnChange subscribes to changes of keys matching the pattern.
// Pattern examples:
//   - "chains.<id>" - one chain
//   - "chains.*" - every chain
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 16)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	return ch
}

// Start syncs the bucket with the local chains and begins watching
func (cm *Manager) Start(ctx context.Context) error {
	keys, err := cm.kv.Keys(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		cm.logger.Info("First boot detected, pushing rule chains to KV")
		if err := cm.PushToKV(ctx); err != nil {
			return err
		}
	} else {
		kvVersion := cm.kvVersion(ctx)
		cmp, err := CompareVersions(cm.version, kvVersion)
		switch {
		case err != nil:
			cm.logger.Warn("Failed to compare versions, syncing from KV",
				"file_version", cm.version, "kv_version", kvVersion, "error", err)
			cm.syncFromKV(ctx, keys)
		case cmp > 0:
			cm.logger.Info("File version is newer than KV, updating KV",
				"file_version", cm.version, "kv_version", kvVersion)
			if err := cm.PushToKV(ctx); err != nil {
				return err
			}
		case cmp < 0:
			cm.logger.Warn("File version is older than KV, using KV rule chains",
				"file_version", cm.version, "kv_version", kvVersion,
				"hint", "bump file version to update KV")
			cm.syncFromKV(ctx, keys)
		default:
			cm.logger.Info("File and KV versions match, syncing from KV", "version", cm.version)
			cm.syncFromKV(ctx, keys)
		}
	}

	watcher, err := cm.kv.WatchUpdates(ctx, chainsWatch)
	if err != nil {
		return err
	}
	cm.watcher = watcher

	cm.wg.Add(1)
	go cm.processWatcher(ctx, watcher)
	return nil
}

// Stop stops watching and closes every subscriber channel
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(cm.shutdownCh)
	if cm.watcher != nil {
		_ = cm.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
	}

	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

// PutChain publishes a chain to every node, this one included
func (cm *Manager) PutChain(ctx context.Context, chain ruleengine.RuleChain) error {
	if err := chain.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(chain)
	if err != nil {
		return rcerrors.WrapInvalid(err, "Manager", "PutChain", "marshal rule chain")
	}
	_, err = cm.kv.Put(ctx, chainKey(chain.ID), data)
	return err
}

// DeleteChain removes a chain from every node
func (cm *Manager) DeleteChain(ctx context.Context, chainID uuid.UUID) error {
	return cm.kv.Delete(ctx, chainKey(chainID))
}

// PushToKV writes the version and every local chain
func (cm *Manager) PushToKV(ctx context.Context) error {
	if cm.version != "" {
		data, err := json.Marshal(cm.version)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		if _, err := cm.kv.Put(ctx, versionKey, data); err != nil {
			return fmt.Errorf("push version: %w", err)
		}
	} else {
		cm.logger.Warn("Config version is empty, not pushing it to KV")
	}

	pushed := 0
	for _, tenantID := range cm.chains.Tenants() {
		for _, chain := range cm.chains.ChainsOf(tenantID) {
			data, err := json.Marshal(chain)
			if err != nil {
				return fmt.Errorf("marshal rule chain %s: %w", chain.ID, err)
			}
			if _, err := cm.kv.Put(ctx, chainKey(chain.ID), data); err != nil {
				return fmt.Errorf("push rule chain %s: %w", chain.ID, err)
			}
			pushed++
		}
	}
	cm.logger.Info("Pushed rule chains to KV", "chains", pushed, "version", cm.version)
	return nil
}

// kvVersion returns the version stored in the bucket, "0.0.0" when absent
func (cm *Manager) kvVersion(ctx context.Context) string {
	entry, err := cm.kv.Get(ctx, versionKey)
	if err != nil {
		return "0.0.0"
	}
	var version string
	if err := json.Unmarshal(entry.Value, &version); err != nil {
		cm.logger.Warn("Failed to parse version from KV, treating as 0.0.0", "error", err)
		return "0.0.0"
	}
	return version
}

// syncFromKV makes the local chains match the bucket
func (cm *Manager) syncFromKV(ctx context.Context, keys []string) {
	remote := make(map[uuid.UUID]bool)
	for _, key := range keys {
		id, ok := parseChainKey(key)
		if !ok {
			continue
		}
		entry, err := cm.kv.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("Failed to get KV entry during sync", "key", key, "error", err)
			continue
		}
		remote[id] = true
		chain, err := decodeChain(id, entry.Value)
		if err != nil {
			cm.logger.Warn("Skipping invalid rule chain in KV", "key", key, "error", err)
			continue
		}
		if local, ok := cm.chains.Get(id); ok && sameChain(local, chain) {
			continue
		}
		if err := cm.sink.UpdateRuleChain(chain); err != nil {
			cm.logger.Warn("Failed to apply rule chain from KV", "key", key, "error", err)
		}
	}

	for _, tenantID := range cm.chains.Tenants() {
		for _, chain := range cm.chains.ChainsOf(tenantID) {
			if remote[chain.ID] {
				continue
			}
			if err := cm.sink.DeleteRuleChain(chain.ID); err != nil {
				cm.logger.Warn("Failed to remove rule chain missing from KV", "rule_chain_id", chain.ID, "error", err)
			}
		}
	}

	cm.logger.Info("Synced rule chains from KV", "chains", len(remote))
}

// processWatcher handles incoming KV updates
func (cm *Manager) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.shutdownCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry != nil {
				cm.handleUpdate(entry.Key(), entry.Value(), entry.Operation() != jetstream.KeyValuePut)
			}
		}
	}
}

// handleUpdate applies one change and notifies subscribers
func (cm *Manager) handleUpdate(key string, value []byte, deleted bool) {
	if cm.stopped.Load() {
		return
	}

	id, ok := parseChainKey(key)
	if !ok {
		cm.logger.Debug("Ignoring unknown key", "key", key)
		return
	}

	if deleted {
		if err := cm.sink.DeleteRuleChain(id); err != nil && !rcerrors.IsInvalid(err) {
			cm.logger.Error("Failed to delete rule chain", "key", key, "error", err)
			return
		}
	} else {
		if len(value) > maxConfigSize {
			cm.logger.Error("Rule chain too large", "key", key, "size", len(value))
			return
		}
		chain, err := decodeChain(id, value)
		if err != nil {
			cm.logger.Error("Invalid rule chain update", "key", key, "error", err)
			return
		}
		if err := cm.sink.UpdateRuleChain(chain); err != nil {
			cm.logger.Error("Failed to update rule chain", "key", key, "error", err)
			return
		}
	}

	update := Update{Key: key, ChainID: id, Deleted: deleted}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for pattern, channels := range cm.subscribers {
		if !matchesPattern(key, pattern) {
			continue
		}
		for _, ch := range channels {
			if cm.stopped.Load() {
				return
			}
			// Slow subscribers miss updates rather than stall the watcher
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// matchesPattern checks if a key matches a subscription pattern
func matchesPattern(key, pattern string) bool {
	if pattern == key {
		return true
	}

	// Wildcard suffix: "chains.*" matches "chains.<id>"
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}

	// Prefix wildcard: "chains.1f*" matches "chains.1f0c..."
	if prefix, _, found := strings.Cut(pattern, "*"); found {
		return strings.HasPrefix(key, prefix)
	}

	return false
}

func chainKey(id uuid.UUID) string {
	return chainsPrefix + id.String()
}

func parseChainKey(key string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(key, chainsPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// decodeChain parses and validates a chain stored under the key of id
func decodeChain(id uuid.UUID, value []byte) (ruleengine.RuleChain, error) {
	if err := checkJSONDepth(value); err != nil {
		return ruleengine.RuleChain{}, rcerrors.WrapInvalid(err, "Manager", "decodeChain", "check json depth")
	}
	var chain ruleengine.RuleChain
	if err := json.Unmarshal(value, &chain); err != nil {
		return ruleengine.RuleChain{}, rcerrors.WrapInvalid(fmt.Errorf("%w: %v", rcerrors.ErrParsingFailed, err),
			"Manager", "decodeChain", "decode rule chain")
	}
	if chain.ID != id {
		return ruleengine.RuleChain{}, rcerrors.WrapInvalid(
			fmt.Errorf("%w: key %s holds rule chain %s", rcerrors.ErrInvalidConfig, id, chain.ID),
			"Manager", "decodeChain", "check rule chain id")
	}
	if err := chain.Validate(); err != nil {
		return ruleengine.RuleChain{}, err
	}
	return chain, nil
}

func sameChain(a, b ruleengine.RuleChain) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
