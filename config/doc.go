// Package config provides configuration management for rulecore nodes.
//
// This package handles loading and validation of the process configuration
// from JSON or YAML files and environment variables, and keeps rule chain
// definitions in step across a cluster through a NATS KV bucket.
//
// # Core Components
//
// Config: Main configuration structure with one section per subsystem:
// node identity, NATS transport, actor mailboxes, rule engine limits,
// partitioning, debug events, event storage and metrics.
//
// SafeConfig: Thread-safe wrapper using RWMutex and cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: Loads configuration with layer merging (defaults, then each file,
// then RULECORE_* environment variables) and validates the result.
//
// Manager: Syncs rule chain definitions with a KV bucket on startup and
// applies changes written by any node to the running engine.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.json") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations may be written as Go duration strings or whole days ("7d").
//
// # Rule Chain Distribution
//
//	cm, err := config.NewManager(cfg.Version, chains, engine, kvStore, logger)
//	if err != nil {
//		return err
//	}
//	if err := cm.Start(ctx); err != nil {
//		return err
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange("chains.*") {
//		logger.Info("Rule chain changed", "rule_chain_id", update.ChainID)
//	}
//
// On startup the manager compares cfg.Version with the version stored in
// the bucket. A newer local version, or an empty bucket, pushes the local
// chains; otherwise the bucket replaces them.
package config
