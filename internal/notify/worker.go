package notify

import (
	"context"
	"encoding/json"

	"github.com/careline/telehealth-platform/pkg/logging"
)

// Worker drains the notification queue and delivers each message. A
// message that fails to send is left on the queue for redelivery (SQS) or
// dropped with a log line (memory queue, where Delete is a no-op anyway).
type Worker struct {
	queue  Queue
	sender EmailSender
	logger *logging.Logger
}

// NewWorker creates a delivery worker.
func NewWorker(queue Queue, sender EmailSender, logger *logging.Logger) *Worker {
	if queue == nil || sender == nil {
		panic("notify: worker requires queue and sender")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{queue: queue, sender: sender, logger: logger}
}

// Run receives until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("notification worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("notification worker stopped")
			return
		}
		messages, err := w.queue.Receive(ctx, 10, 10)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("notification worker stopped")
				return
			}
			w.logger.Error("notify: receive failed", "error", err)
			continue
		}
		for _, m := range messages {
			w.deliver(ctx, m)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, m QueueMessage) {
	var msg EmailMessage
	if err := json.Unmarshal([]byte(m.Body), &msg); err != nil {
		w.logger.Error("notify: malformed queued message, dropping", "message_id", m.ID, "error", err)
		_ = w.queue.Delete(ctx, m.ReceiptHandle)
		return
	}
	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.Error("notify: delivery failed", "to", msg.To, "error", err)
		return
	}
	_ = w.queue.Delete(ctx, m.ReceiptHandle)
}
