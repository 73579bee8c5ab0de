package fulfillment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	ids   map[string]bool
}

func (e *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.ids == nil {
		e.ids = map[string]bool{}
	}
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if e.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			e.ids[id] = true
		}
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func payloadOf(t *testing.T, task *asynq.Task) ReminderPayload {
	t.Helper()
	var p ReminderPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	return p
}

func TestScheduleReminders(t *testing.T) {
	c := clock.NewFixed(now0)
	enq := &fakeEnqueuer{}
	r := NewAsynqReminders(enq, c, zap.NewNop())

	b := &model.Booking{ID: "b1", ScheduledAt: now0.Add(72 * time.Hour)}
	require.NoError(t, r.Schedule(context.Background(), b))
	require.Len(t, enq.tasks, 2)
	assert.Equal(t, notify.TemplateReminder24h, payloadOf(t, enq.tasks[0]).Template)
	assert.Equal(t, notify.TemplateReminder2h, payloadOf(t, enq.tasks[1]).Template)

	assert.True(t, b.ScheduledAt.Equal(payloadOf(t, enq.tasks[0]).ScheduledAt))

	// Повторная постановка не дублирует задачи
	require.NoError(t, r.Schedule(context.Background(), b))
	assert.Len(t, enq.tasks, 2)

	// После переноса ставятся новые задачи
	moved := &model.Booking{ID: "b1", ScheduledAt: now0.Add(96 * time.Hour)}
	require.NoError(t, r.Schedule(context.Background(), moved))
	assert.Len(t, enq.tasks, 4)
}

func TestScheduleSkipsPastReminders(t *testing.T) {
	c := clock.NewFixed(now0)
	enq := &fakeEnqueuer{}
	r := NewAsynqReminders(enq, c, zap.NewNop())

	require.NoError(t, r.Schedule(context.Background(), &model.Booking{ID: "b1", ScheduledAt: now0.Add(3 * time.Hour)}))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, notify.TemplateReminder2h, payloadOf(t, enq.tasks[0]).Template)

	require.NoError(t, r.Schedule(context.Background(), &model.Booking{ID: "b2", ScheduledAt: now0.Add(time.Hour)}))
	assert.Len(t, enq.tasks, 1)
}

func TestReminderHandler(t *testing.T) {
	c := clock.NewFixed(now0)
	st := repository.NewMemoryStore(c)
	st.PutService(&model.Service{ID: "mobile", Name: "Mobile Notary", DurationMinutes: 60, IsActive: true})
	for id, status := range map[string]model.BookingStatus{
		"ready":     model.BookingStatusReadyForService,
		"cancelled": model.BookingStatusCancelledByStaff,
	} {
		require.NoError(t, st.CreateBooking(context.Background(), &model.Booking{
			ID: id, ServiceID: "mobile", Status: status,
			ScheduledAt: now0.Add(24 * time.Hour),
			Signer:      model.Signer{Name: "Jane", Email: "jane@example.com"},
		}))
	}

	n := &fakeNotifier{}
	m := NewMetrics("test", prometheus.NewRegistry())
	h := NewReminderHandler(st, n, m, zap.NewNop())

	for _, id := range []string{"ready", "cancelled", "missing"} {
		task, _, err := NewReminderTask(ReminderPayload{BookingID: id, Template: notify.TemplateReminder24h}, now0)
		require.NoError(t, err)
		require.NoError(t, h.ProcessTask(context.Background(), task))
	}

	assert.Equal(t, []notify.Template{notify.TemplateReminder24h}, n.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemindersSent.WithLabelValues(string(notify.TemplateReminder24h), "sent")))

	// задача от прежнего времени визита
	stale, _, err := NewReminderTask(ReminderPayload{
		BookingID:   "ready",
		Template:    notify.TemplateReminder2h,
		ScheduledAt: now0.Add(5 * time.Hour),
	}, now0)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), stale))
	assert.Len(t, n.sent, 1)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeReminderSend, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
