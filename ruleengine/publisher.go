package ruleengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/cluster"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/pkg/worker"
)

// publisherStopTimeout bounds how long Engine.Stop waits for queued pushes
const publisherStopTimeout = 5 * time.Second

// pushTask is a push to a partition owned by another node
type pushTask struct {
	tpi           partition.TopicPartitionInfo
	tenantID      uuid.UUID
	msg           *message.Msg
	relationTypes []string
	done          func(error)
}

// publisher runs pushes to remote partitions on its own workers. A remote
// push waits for the transport ack and must not hold an actor mailbox.
type publisher struct {
	cluster *cluster.Service
	pool    *worker.Pool[*pushTask]
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func newPublisher(svc *cluster.Service, workers, queueSize int, logger *slog.Logger) *publisher {
	p := &publisher{cluster: svc, logger: logger}
	p.pool = worker.NewPool("rule_engine_push", workers, queueSize, p.run)
	return p
}

func (p *publisher) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.pool.Start(ctx); err != nil {
		cancel()
		return err
	}
	p.cancel = cancel
	return nil
}

// stop drains queued pushes, then aborts the ones still waiting for an ack
func (p *publisher) stop() {
	if err := p.pool.Stop(publisherStopTimeout); err != nil {
		p.logger.Warn("Pending pushes did not drain", "error", err)
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// push delivers msg to tpi without blocking. Local partitions are handed to
// the engine inline. done, when set, runs once the partition accepted or
// refused msg, on a publisher worker for remote partitions.
func (p *publisher) push(tpi partition.TopicPartitionInfo, tenantID uuid.UUID, msg *message.Msg,
	relationTypes []string, done func(error),
) {
	if tpi.MyPartition {
		finish(done, p.cluster.PushMsgToRuleEngine(context.Background(), tpi, tenantID, msg, relationTypes, ""))
		return
	}
	task := &pushTask{tpi: tpi, tenantID: tenantID, msg: msg, relationTypes: relationTypes, done: done}
	if err := p.pool.Submit(task); err != nil {
		err = errors.WrapTransient(err, "publisher", "push", "queue push to "+tpi.FullTopicName())
		p.logger.Warn("Push rejected", "topic", tpi.FullTopicName(), "msg_id", msg.ID().String(), "error", err)
		msg.Callback().OnFailure(err)
		finish(done, err)
	}
}

func (p *publisher) run(ctx context.Context, t *pushTask) error {
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	// the message callback reports the outcome
	err := p.cluster.PushMsgToRuleEngine(ctx, t.tpi, t.tenantID, t.msg, t.relationTypes, "")
	finish(t.done, err)
	return nil
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
