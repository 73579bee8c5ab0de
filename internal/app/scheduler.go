package app

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/fulfillment"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"go.uber.org/zap"
)

const (
	reconcileBatch      = 200
	queueDepthInterval  = 15 * time.Second
	defaultReconcileInt = 5 * time.Minute
)

// Scheduler управляет фоновыми задачами: воркеры фулфилмента,
// добор потерянных заданий, метрика глубины очереди
type Scheduler struct {
	bookingService    *service.BookingService
	runner            *fulfillment.Runner
	queue             queue.Queue
	metrics           *fulfillment.Metrics
	reconcileInterval time.Duration
	logger            *zap.Logger
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewScheduler создаёт новый планировщик
func NewScheduler(
	bookingService *service.BookingService,
	runner *fulfillment.Runner,
	q queue.Queue,
	metrics *fulfillment.Metrics,
	reconcileInterval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if reconcileInterval <= 0 {
		reconcileInterval = defaultReconcileInt
	}
	return &Scheduler{
		bookingService:    bookingService,
		runner:            runner,
		queue:             q,
		metrics:           metrics,
		reconcileInterval: reconcileInterval,
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	if s.runner != nil {
		s.runner.Start(ctx)
	}
	go s.every(ctx, "reconcile", s.reconcileInterval, s.reconcile)
	if s.metrics != nil {
		go s.every(ctx, "queue depth", queueDepthInterval, s.observeQueueDepth)
	}
}

// Stop останавливает фоновые задачи и дожидается воркеров.
// Повторный вызов ничего не делает.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	if s.runner != nil {
		s.runner.Stop()
	}
}

// every запускает fn сразу и затем по тикеру
func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-s.stopChan:
			s.logger.Info("Background task stopped", zap.String("task", name))
			return
		case <-ctx.Done():
			s.logger.Info("Background task cancelled", zap.String("task", name))
			return
		}
	}
}

// reconcile ставит в очередь подтверждённые бронирования без задания
func (s *Scheduler) reconcile(ctx context.Context) {
	n, err := s.bookingService.ReconcileFulfillment(ctx, reconcileBatch)
	if err != nil {
		s.logger.Error("Failed to reconcile fulfillment jobs", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("Re-enqueued lost fulfillment jobs", zap.Int("count", n))
	}
}

func (s *Scheduler) observeQueueDepth(ctx context.Context) {
	n, err := s.queue.Pending(ctx)
	if err != nil {
		s.logger.Warn("Failed to read queue depth", zap.Error(err))
		return
	}
	s.metrics.QueueDepth.Set(float64(n))
}
