package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeReminderSend = "booking:reminder"

// ReminderPayload полезная нагрузка задачи напоминания
// ScheduledAt время визита на момент постановки: после переноса старые
// задачи видят расхождение и ничего не отправляют.
type ReminderPayload struct {
	BookingID   string          `json:"booking_id"`
	Template    notify.Template `json:"template"`
	ScheduledAt time.Time       `json:"scheduled_at"`
}

// reminderOffsets за сколько до визита отправлять напоминания
var reminderOffsets = []struct {
	before   time.Duration
	template notify.Template
}{
	{24 * time.Hour, notify.TemplateReminder24h},
	{2 * time.Hour, notify.TemplateReminder2h},
}

// TaskEnqueuer то, что нужно от asynq.Client
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewReminderTask задача напоминания с отложенным запуском
func NewReminderTask(p ReminderPayload, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeReminderSend, b)
	opts := []asynq.Option{
		asynq.ProcessAt(fireAt),
		asynq.TaskID(fmt.Sprintf("%s:%s:%d", p.Template, p.BookingID, p.ScheduledAt.Unix())),
		asynq.MaxRetry(3),
	}
	return task, opts, nil
}

// AsynqReminders планирует напоминания через asynq (Redis)
type AsynqReminders struct {
	client TaskEnqueuer
	clock  clock.Clock
	logger *zap.Logger
}

func NewAsynqReminders(client TaskEnqueuer, clk clock.Clock, logger *zap.Logger) *AsynqReminders {
	if clk == nil {
		clk = clock.Real{}
	}
	return &AsynqReminders{client: client, clock: clk, logger: logger}
}

// Schedule ставит напоминания за 24ч и 2ч до визита. Прошедшие пропускаются,
// повторная постановка той же задачи не считается ошибкой.
func (r *AsynqReminders) Schedule(ctx context.Context, b *model.Booking) error {
	now := r.clock.Now()
	for _, o := range reminderOffsets {
		fireAt := b.ScheduledAt.Add(-o.before)
		if !fireAt.After(now) {
			continue
		}

		task, opts, err := NewReminderTask(ReminderPayload{BookingID: b.ID, Template: o.template, ScheduledAt: b.ScheduledAt}, fireAt)
		if err != nil {
			return fmt.Errorf("build reminder task: %w", err)
		}
		if _, err := r.client.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			return fmt.Errorf("enqueue %s reminder: %w", o.template, err)
		}

		r.logger.Debug("Reminder scheduled",
			zap.String("booking_id", b.ID),
			zap.String("template", string(o.template)),
			zap.Time("fire_at", fireAt))
	}
	return nil
}

// ReminderHandler обработчик задач напоминаний
type ReminderHandler struct {
	store    BookingStore
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
}

func NewReminderHandler(store BookingStore, notifier Notifier, metrics *Metrics, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{store: store, notifier: notifier, metrics: metrics, logger: logger}
}

// Register регистрирует обработчик в mux
func (h *ReminderHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeReminderSend, h.ProcessTask)
}

func (h *ReminderHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p ReminderPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		h.logger.Error("Invalid reminder payload", zap.Error(err))
		return fmt.Errorf("decode reminder payload: %v: %w", err, asynq.SkipRetry)
	}

	b, err := h.store.LoadBooking(ctx, p.BookingID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load booking: %w", err)
	}

	// Напоминаем только о визитах, которые ещё впереди
	if b.Status != model.BookingStatusReadyForService && b.Status != model.BookingStatusConfirmed {
		h.logger.Info("Skipping reminder for inactive booking",
			zap.String("booking_id", b.ID),
			zap.String("status", string(b.Status)))
		return nil
	}

	if !p.ScheduledAt.IsZero() && !p.ScheduledAt.Equal(b.ScheduledAt) {
		h.logger.Info("Skipping reminder for rescheduled booking",
			zap.String("booking_id", b.ID),
			zap.Time("reminder_for", p.ScheduledAt),
			zap.Time("scheduled_at", b.ScheduledAt))
		return nil
	}

	svc, err := h.store.LoadService(ctx, b.ServiceID)
	if err != nil {
		return fmt.Errorf("load service: %w", err)
	}

	_, err = h.notifier.Send(ctx, b.Signer.Email, p.Template, NotificationData(b, svc))
	h.observe(p.Template, err)
	if err != nil {
		h.logger.Warn("Failed to send reminder",
			zap.String("booking_id", b.ID),
			zap.String("template", string(p.Template)),
			zap.Error(err))
		return err
	}

	h.logger.Info("⏰ Reminder sent",
		zap.String("booking_id", b.ID),
		zap.String("template", string(p.Template)))
	return nil
}

func (h *ReminderHandler) observe(tmpl notify.Template, err error) {
	if h.metrics == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "error"
	}
	h.metrics.RemindersSent.WithLabelValues(string(tmpl), result).Inc()
}

// NopReminders когда Redis не настроен
type NopReminders struct{}

func (NopReminders) Schedule(context.Context, *model.Booking) error { return nil }
