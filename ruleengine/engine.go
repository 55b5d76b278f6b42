package ruleengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/partition"
)

// Engine is the entry point into the rule engine actors. It receives the
// messages of local partitions and the device transport events.
type Engine struct {
	sys     *SystemContext
	system  *actor.System
	app     actor.Ref
	logger  *slog.Logger
	stopped atomic.Bool
}

// New creates the dispatchers and the root actor on system and registers
// the engine as the local sink of sys.Cluster.
func New(sys *SystemContext, system *actor.System) (*Engine, error) {
	switch {
	case sys == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "check system context")
	case sys.Partitions == nil, sys.Cluster == nil, sys.Scheduler == nil, sys.Chains == nil:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: partitions, cluster, scheduler and chains are required",
			errors.ErrMissingConfig), "Engine", "New", "check system context")
	}
	if sys.Logger == nil {
		sys.Logger = slog.Default()
	}
	sys.Logger = sys.Logger.With("component", "ruleengine")
	if sys.Nodes == nil {
		sys.Nodes = NewNodeRegistry()
	}
	sys.Settings = sys.Settings.withDefaults()

	dispatchers := []struct {
		name    string
		workers int
	}{
		{DispatcherApp, 1},
		{DispatcherTenant, sys.Settings.TenantDispatcherSize},
		{DispatcherRuleChain, sys.Settings.RuleChainDispatcherSize},
		{DispatcherRuleNode, sys.Settings.RuleNodeDispatcherSize},
		{DispatcherDevice, sys.Settings.DeviceDispatcherSize},
	}
	for _, d := range dispatchers {
		if err := system.CreateDispatcher(d.name, d.workers); err != nil {
			return nil, err
		}
	}
	sys.publisher = newPublisher(sys.Cluster, sys.Settings.PushWorkers, sys.Settings.PushQueueSize, sys.Logger)
	if err := sys.publisher.start(); err != nil {
		return nil, err
	}
	app, err := system.CreateRootActor(DispatcherApp, appCreator(sys))
	if err != nil {
		sys.publisher.stop()
		return nil, err
	}

	e := &Engine{sys: sys, system: system, app: app, logger: sys.Logger}
	sys.Cluster.SetLocalSink(e)
	return e, nil
}

// DeliverToRuleEngine hands a message of a local partition to its tenant.
// relationTypes continue the message after its rule node instead of
// entering that node.
func (e *Engine) DeliverToRuleEngine(
	_ context.Context, tenantID uuid.UUID, msg *message.Msg, relationTypes []string, failureMessage string,
) error {
	if e.stopped.Load() {
		err := errors.WrapTransient(errors.ErrShuttingDown, "Engine", "DeliverToRuleEngine", "deliver message")
		msg.Callback().OnFailure(err)
		return err
	}
	if m := e.sys.Metrics; m != nil {
		queue := queueLabel(msg)
		m.RecordMessageReceived(queue, msg.Type())
		msg = msg.WithCallback(&trackedCallback{Callback: msg.Callback(), metrics: m, queue: queue})
	}
	e.app.Tell(QueueToRuleEngineMsg{
		TenantID:       tenantID,
		Msg:            msg,
		RelationTypes:  relationTypes,
		FailureMessage: failureMessage,
	})
	return nil
}

// OnDeviceSession reports a session change of a device
func (e *Engine) OnDeviceSession(tenantID, deviceID, sessionID uuid.UUID, event SessionEvent) {
	e.app.Tell(DeviceSessionMsg{TenantID: tenantID, DeviceID: deviceID, SessionID: sessionID, Event: event})
}

// OnDeviceTelemetry posts telemetry of a device session. cb may be nil.
func (e *Engine) OnDeviceTelemetry(tenantID, deviceID, sessionID uuid.UUID, data string, metadata map[string]string, cb message.Callback) {
	e.app.Tell(DeviceTelemetryMsg{
		TenantID:  tenantID,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Data:      data,
		Metadata:  metadata,
		Callback:  cb,
	})
}

// UpdateRuleChain stores chain and restarts its actors
func (e *Engine) UpdateRuleChain(chain RuleChain) error {
	if err := e.sys.Chains.Put(chain); err != nil {
		return err
	}
	e.app.Tell(ComponentLifecycleMsg{
		TenantID: chain.TenantID,
		Entity:   message.NewEntityID(message.EntityRuleChain, chain.ID),
		Event:    LifecycleUpdated,
	})
	return nil
}

// DeleteRuleChain removes a chain and stops its actors
func (e *Engine) DeleteRuleChain(chainID uuid.UUID) error {
	chain, ok := e.sys.Chains.Get(chainID)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrRuleChainNotFound, chainID),
			"Engine", "DeleteRuleChain", "find rule chain")
	}
	e.sys.Chains.Delete(chainID)
	e.app.Tell(ComponentLifecycleMsg{
		TenantID: chain.TenantID,
		Entity:   message.NewEntityID(message.EntityRuleChain, chainID),
		Event:    LifecycleDeleted,
	})
	return nil
}

// UpdateTenant resets the per-tenant debug limits
func (e *Engine) UpdateTenant(tenantID uuid.UUID) {
	e.app.Tell(ComponentLifecycleMsg{
		TenantID: tenantID,
		Entity:   message.NewEntityID(message.EntityTenant, tenantID),
		Event:    LifecycleUpdated,
	})
}

// DeleteTenant removes every chain of a tenant and stops its actors
func (e *Engine) DeleteTenant(tenantID uuid.UUID) {
	e.sys.Chains.DeleteTenant(tenantID)
	e.app.Tell(ComponentLifecycleMsg{
		TenantID: tenantID,
		Entity:   message.NewEntityID(message.EntityTenant, tenantID),
		Event:    LifecycleDeleted,
	})
}

// Stop rejects new messages and stops the actor hierarchy. Messages still
// queued in mailboxes fail with a transient error. Pushes to remote
// partitions get a few seconds to drain.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	e.sys.Cluster.SetLocalSink(nil)
	e.system.StopActor(AppActorID)
	e.sys.publisher.stop()
	e.logger.Info("Rule engine stopped")
}

func queueLabel(msg *message.Msg) string {
	if q := msg.QueueName(); q != "" {
		return q
	}
	return partition.MainQueueName
}

// trackedCallback records the outcome of a delivered message
type trackedCallback struct {
	message.Callback
	metrics *metric.Metrics
	queue   string
}

func (c *trackedCallback) OnSuccess() {
	c.metrics.RecordMessageProcessed(c.queue, "success")
	c.Callback.OnSuccess()
}

func (c *trackedCallback) OnFailure(err error) {
	c.metrics.RecordMessageProcessed(c.queue, "failure")
	c.Callback.OnFailure(err)
}
