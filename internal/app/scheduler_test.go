package app

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/availability"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/fulfillment"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerReconcileAndDepth(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFixed(now)
	st := repository.NewMemoryStore(c)
	st.PutService(&model.Service{ID: "mobile", Name: "Mobile Notary", DurationMinutes: 60, IsActive: true})

	// подтверждено, но задание потерялось
	require.NoError(t, st.CreateBooking(context.Background(), &model.Booking{
		ID:          "lost",
		ServiceID:   "mobile",
		Status:      model.BookingStatusConfirmed,
		ScheduledAt: now.Add(48 * time.Hour),
		Resource:    model.ResourceDefaultAgent,
	}))

	q := queue.NewMemoryQueue(c, time.Minute)
	svc := service.NewBookingService(st, availability.NewEngine(c), nil, q, service.NopSlotCache{}, c, zap.NewNop())
	metrics := fulfillment.NewMetrics("test", prometheus.NewRegistry())

	s := NewScheduler(svc, nil, q, metrics, time.Minute, zap.NewNop())

	s.reconcile(context.Background())
	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// повторный проход ничего не дублирует
	s.reconcile(context.Background())
	pending, _ = q.Pending(context.Background())
	assert.Equal(t, 1, pending)

	s.observeQueueDepth(context.Background())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueueDepth))
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	c := clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	st := repository.NewMemoryStore(c)
	q := queue.NewMemoryQueue(c, time.Minute)
	svc := service.NewBookingService(st, availability.NewEngine(c), nil, q, service.NopSlotCache{}, c, zap.NewNop())

	s := NewScheduler(svc, nil, q, nil, time.Minute, zap.NewNop())
	s.Start(context.Background())

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestNewLoggerLevels(t *testing.T) {
	l := NewLogger("production", "warn")
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	l = NewLogger("development", "")
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
