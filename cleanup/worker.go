package cleanup

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/storage"
)

// Queue yields image cleanup messages.
type Queue interface {
	Dequeue(ctx context.Context) (*storage.CleanupMessage, error)
	Delete(ctx context.Context, id, popReceipt string) error
}

// ImageDeleter removes stored images.
type ImageDeleter interface {
	Delete(ctx context.Context, ownerID, fileID string) error
}

// Worker drains the image cleanup queue.
type Worker struct {
	queue  Queue
	images ImageDeleter
	log    *log.Logger
	idle   time.Duration
}

// NewWorker creates a Worker that polls every second while the queue is
// empty.
func NewWorker(queue Queue, images ImageDeleter, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Worker{queue: queue, images: images, log: logger, idle: time.Second}
}

// Run processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.WithError(err).Warn("image cleanup failed")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.idle):
		}
	}
}

// ProcessOne handles at most one message. It reports whether a message was
// dequeued. Messages whose image could not be deleted stay on the queue and
// reappear after their visibility timeout.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	req, err := storage.DecodeImageCleanup(msg.Text)
	if err != nil || req.UserID == "" || req.FileID == "" {
		w.log.WithField("message", msg.ID).Error("dropping malformed image cleanup message")
		return true, w.queue.Delete(ctx, msg.ID, msg.PopReceipt)
	}
	if err := w.images.Delete(ctx, req.UserID, req.FileID); err != nil && !errors.Is(err, storage.ErrImageNotFound) {
		return true, err
	}
	w.log.WithFields(log.Fields{"user": req.UserID, "file": req.FileID}).Debug("image removed")
	return true, w.queue.Delete(ctx, msg.ID, msg.PopReceipt)
}

// RunPool runs n workers sharing w and blocks until ctx is cancelled and all
// of them returned.
func RunPool(ctx context.Context, w *Worker, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
