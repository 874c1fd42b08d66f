package persistence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

// ProgressWriter is what the queue writes snapshots through
type ProgressWriter interface {
	SaveProgress(ctx context.Context, snapshot models.Snapshot) error
}

// SaveQueue serializes snapshot writes. Submissions made while a write is
// in flight coalesce to the latest one, so an older snapshot can never land
// after a newer one.
type SaveQueue struct {
	writer ProgressWriter
	logger *zap.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending *models.Snapshot
	writing bool
	closed  bool

	kick    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// NewSaveQueue starts the writer goroutine. Call Close to stop it.
func NewSaveQueue(writer ProgressWriter, logger *zap.Logger) *SaveQueue {
	q := &SaveQueue{
		writer:  writer,
		logger:  logger.Named("savequeue"),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit queues snapshot for writing and returns immediately
func (q *SaveQueue) Submit(snapshot models.Snapshot) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("Snapshot submitted after close, dropped")
		return
	}
	q.pending = &snapshot
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Flush blocks until nothing is pending or being written
func (q *SaveQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending != nil || q.writing {
		q.idle.Wait()
	}
}

// DiscardPending drops the queued snapshot and waits for an in-flight write
func (q *SaveQueue) DiscardPending() {
	q.dropPending()
	q.Flush()
}

func (q *SaveQueue) dropPending() {
	q.mu.Lock()
	q.pending = nil
	q.idle.Broadcast()
	q.mu.Unlock()
}

// Close writes whatever is pending and stops the writer goroutine
func (q *SaveQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	<-q.stopped
}

func (q *SaveQueue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.kick:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

func (q *SaveQueue) drain() {
	for {
		q.mu.Lock()
		snapshot := q.pending
		q.pending = nil
		if snapshot == nil {
			q.writing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		q.writing = true
		q.mu.Unlock()

		if err := q.writer.SaveProgress(context.Background(), *snapshot); err != nil {
			q.logger.Error("Failed to save progress", zap.Error(err))
		} else {
			q.logger.Debug("Progress saved", zap.Int("currentSlideIndex", snapshot.CurrentSlideIndex))
		}
	}
}
