package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

// Writer persists execution results asynchronously so a slow database never
// blocks the coordinator's logging state. Writes are queued on a bounded
// channel; overflow is dropped with a warning rather than applying
// backpressure to the directive loop.
type Writer struct {
	client *Client
	queue  chan DirectiveRecord
	done   chan struct{}
	logger *zap.Logger
}

// NewWriter creates and starts the async writer.
func NewWriter(client *Client, buffer int, logger *zap.Logger) *Writer {
	if buffer <= 0 {
		buffer = 256
	}
	w := &Writer{
		client: client,
		queue:  make(chan DirectiveRecord, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// Record queues a completed directive for persistence. Non-blocking.
func (w *Writer) Record(d *models.Directive, res *models.ExecutionResult) {
	rec := DirectiveRecord{
		ID:             res.DirectiveID,
		Success:        res.Success,
		Error:          res.Error,
		DurationMs:     res.Duration.Milliseconds(),
		AlignmentScore: res.AlignmentScore,
		CompletedAt:    res.CompletedAt,
	}
	if d != nil {
		rec.Content = d.Content
		rec.Source = d.Source
		rec.Priority = d.Priority
		rec.SessionID = d.SessionID
		rec.SubmittedAt = d.SubmittedAt
	}
	select {
	case w.queue <- rec:
	default:
		w.logger.Warn("Result write queue full, dropping record",
			zap.String("directive_id", rec.ID))
	}
}

// Close drains the queue and stops the writer.
func (w *Writer) Close() {
	close(w.queue)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.client.InsertDirectiveResult(ctx, rec); err != nil {
			w.logger.Warn("Result persistence failed",
				zap.String("directive_id", rec.ID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
