package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// TaskProcessor handles a single enhancement task. Implemented by the enhance
// package; defined here so the worker loop has no dependency on it.
type TaskProcessor interface {
	ProcessEnhanceTask(ctx context.Context, payload EnhanceTaskPayload) error
}

type Worker struct {
	receiver    Receiver
	processor   TaskProcessor
	concurrency int
}

func NewWorker(receiver Receiver, processor TaskProcessor, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{receiver: receiver, processor: processor, concurrency: concurrency}
}

// Run consumes tasks until the receiver's channel closes or ctx is cancelled.
// Each worker goroutine processes one task at a time.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		go func(id int) {
			defer wg.Done()
			slog.Info("worker started", "worker", id)
			for {
				select {
				case task, ok := <-w.receiver.Tasks():
					if !ok {
						slog.Info("task channel closed, worker exiting", "worker", id)
						return
					}
					w.processTask(ctx, id, task)
				case <-ctx.Done():
					slog.Info("context cancelled, worker exiting", "worker", id)
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func (w *Worker) processTask(ctx context.Context, id int, task Task) {
	if task.Type() != EnhanceQueue {
		slog.Warn("received task from unknown queue, discarding", "worker", id, "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "worker", id, "error", err)
		}
		return
	}

	var payload EnhanceTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling enhance task, discarding", "worker", id, "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "worker", id, "error", err)
		}
		return
	}

	slog.Info("processing enhance task", "worker", id, "job_id", payload.JobId)

	if err := w.processor.ProcessEnhanceTask(ctx, payload); err != nil {
		slog.Error("error processing enhance task", "worker", id, "job_id", payload.JobId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking task", "worker", id, "error", err)
		}
		return
	}

	slog.Info("enhance task processed", "worker", id, "job_id", payload.JobId)
	if err := task.Ack(); err != nil {
		slog.Error("error acking task", "worker", id, "error", err)
	}
}
