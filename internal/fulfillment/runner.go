package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"go.uber.org/zap"
)

// Runner крутит N циклов выборки заданий из очереди
type Runner struct {
	worker       *Worker
	queue        queue.Queue
	workers      int
	pollInterval time.Duration
	logger       *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRunner(w *Worker, q queue.Queue, workers int, pollInterval time.Duration, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		worker:       w,
		queue:        q,
		workers:      workers,
		pollInterval: pollInterval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start запускает циклы воркеров
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting fulfillment workers", zap.Int("workers", r.workers))
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
}

// Stop дожидается завершения текущих заданий
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping fulfillment workers")
		close(r.stopChan)
	})
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, n int) {
	defer r.wg.Done()
	log := r.logger.With(zap.Int("worker", n))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		// Выбираем всё готовое, потом ждём тика
		for r.drainOne(ctx, log) {
			select {
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			default:
			}
		}

		select {
		case <-ticker.C:
		case <-r.stopChan:
			log.Info("Fulfillment worker stopped")
			return
		case <-ctx.Done():
			log.Info("Fulfillment worker cancelled")
			return
		}
	}
}

// drainOne обрабатывает одно задание; false, если очередь пуста или ошибка
func (r *Runner) drainOne(ctx context.Context, log *zap.Logger) bool {
	job, err := r.queue.Dequeue(ctx)
	if err != nil {
		log.Error("Failed to dequeue fulfillment job", zap.Error(err))
		return false
	}
	if job == nil {
		return false
	}

	if _, err := r.worker.ProcessJob(ctx, job); err != nil {
		log.Error("Fulfillment job processing error",
			zap.String("job_id", job.ID),
			zap.String("booking_id", job.BookingID),
			zap.Error(err))
	}
	return true
}
