package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/queue"
	"nervix-hub/pkg/logging"
)

// Worker 撮合队列消费者
//
// 持续消费撮合队列中的任务并调用引擎撮合。撮合失败（无候选）的
// 任务仍然确认消息：任务留在数据库队列中，由巡检周期性重试，
// 避免同一消息反复阻塞消费组。
type Worker struct {
	engine     *Engine
	queue      queue.Queue
	consumerID string
	log        *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker 创建撮合消费者
func NewWorker(engine *Engine, q queue.Queue, consumerID string) *Worker {
	return &Worker{
		engine:     engine,
		queue:      q,
		consumerID: consumerID,
		log:        logging.Default("match-worker"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start 启动消费循环（阻塞，适合放在独立 goroutine 中）
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneCh)

	if err := w.queue.CreateMatchConsumerGroup(ctx); err != nil {
		w.log.Warn("Failed to create match consumer group", "error", err.Error())
	}

	w.log.Info("Match worker started", "consumer_id", w.consumerID)
	for {
		select {
		case <-w.stopCh:
			w.log.Info("Match worker stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.queue.ConsumeMatchTasks(ctx, w.consumerID, 10, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("Failed to consume match queue", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			w.process(ctx, msg)
		}
	}
}

// Stop 停止消费循环并等待退出
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Worker) process(ctx context.Context, msg *queue.MatchMessage) {
	_, err := w.engine.MatchTask(ctx, msg.TaskID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoMatch):
		w.log.Debug("No match for task, leaving queued", "task_id", msg.TaskID)
	case errdefs.IsInvalidState(err), errdefs.IsNotFound(err):
		// 任务已被并发撮合或删除
		w.log.Debug("Skipping stale match message", "task_id", msg.TaskID, "error", err.Error())
	default:
		w.log.Warn("Match attempt failed", "task_id", msg.TaskID, "error", err.Error())
	}

	if err := w.queue.AckMatchTask(ctx, msg.ID); err != nil {
		w.log.Warn("Failed to ack match message", "message_id", msg.ID, "error", err.Error())
	}
}
