package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/booking"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ron"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Имена внешних систем в ошибках
const (
	SystemCRM      = "ghl"
	SystemRON      = "ron"
	SystemNotifier = "email"
)

// BookingStore то, что воркеру нужно от хранилища
type BookingStore interface {
	LoadBooking(ctx context.Context, id string) (*model.Booking, error)
	SaveBooking(ctx context.Context, b *model.Booking) error
	LoadService(ctx context.Context, id string) (*model.Service, error)
}

// CRM контакт и запись в календаре
type CRM interface {
	FindOrCreateContact(ctx context.Context, email, name, phone string) (string, error)
	CreateAppointment(ctx context.Context, calendarID, contactID string, start, end time.Time, title string) (string, error)
	UpdateAppointment(ctx context.Context, calendarID, appointmentID string, start, end time.Time, title string) error
}

// RemoteSessions провайдер удалённой нотаризации
type RemoteSessions interface {
	CreateSession(ctx context.Context, bookingID string, signer ron.Signer, docs []ron.Document, scheduledAt time.Time) (*ron.Session, error)
}

// Notifier отправка уведомлений клиенту
type Notifier interface {
	Send(ctx context.Context, recipient string, tmpl notify.Template, data notify.Data) (notify.Delivery, error)
}

// Alerter алерты операторам
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// ReminderScheduler планирование напоминаний после фулфилмента
type ReminderScheduler interface {
	Schedule(ctx context.Context, b *model.Booking) error
}

// Outcome исход обработки задания
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoop      Outcome = "noop"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
)

// errBookingChanged бронирование ушло из Confirmed, пока шло задание
var errBookingChanged = errors.New("booking is no longer confirmed")

// Config параметры воркера
type Config struct {
	CalendarID  string
	StepTimeout time.Duration
	Backoff     queue.Backoff
}

// Worker выполняет задания фулфилмента: контакт, запись в календаре,
// удалённая сессия (для remote), уведомление.
//
// Каждый шаг пропускается, если уже отмечен выполненным, поэтому повторная
// доставка задания не делает повторных внешних вызовов.
type Worker struct {
	store     BookingStore
	queue     queue.Queue
	crm       CRM
	sessions  RemoteSessions
	notifier  Notifier
	alerter   Alerter
	reminders ReminderScheduler
	metrics   *Metrics
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

func NewWorker(
	store BookingStore,
	q queue.Queue,
	crm CRM,
	sessions RemoteSessions,
	notifier Notifier,
	alerter Alerter,
	reminders ReminderScheduler,
	metrics *Metrics,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15 * time.Second
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = queue.DefaultBackoff
	}
	return &Worker{
		store:     store,
		queue:     q,
		crm:       crm,
		sessions:  sessions,
		notifier:  notifier,
		alerter:   alerter,
		reminders: reminders,
		metrics:   metrics,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessJob обрабатывает одно задание и сообщает исход очереди
// (Ack / Retry / Fail). Ошибка возвращается только если не удалось
// поговорить с очередью или хранилищем.
func (w *Worker) ProcessJob(ctx context.Context, job *model.FulfillmentJob) (Outcome, error) {
	started := w.clock.Now()
	outcome, err := w.process(ctx, job)
	if w.metrics != nil {
		w.metrics.ProcessingTime.Observe(w.clock.Now().Sub(started).Seconds())
		w.metrics.JobsProcessed.WithLabelValues(string(outcome)).Inc()
	}
	return outcome, err
}

func (w *Worker) process(ctx context.Context, job *model.FulfillmentJob) (Outcome, error) {
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("booking_id", job.BookingID),
		zap.Int("attempt", job.Attempt),
	)

	b, err := w.store.LoadBooking(ctx, job.BookingID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Warn("Booking for fulfillment job not found, dropping job")
			return OutcomeNoop, w.queue.Ack(ctx, job)
		}
		return w.retryJob(ctx, job, nil, nil, fmt.Sprintf("load booking: %v", err), log)
	}

	// Отменённое или уже продвинутое бронирование: выполнять нечего
	if b.Status != model.BookingStatusConfirmed || b.FulfillmentFailed {
		log.Info("Booking is not awaiting fulfillment, skipping job", zap.String("status", string(b.Status)))
		return OutcomeNoop, w.queue.Ack(ctx, job)
	}

	svc, err := w.store.LoadService(ctx, b.ServiceID)
	if err != nil {
		return w.retryJob(ctx, job, b, nil, fmt.Sprintf("load service: %v", err), log)
	}

	now := w.clock.Now()
	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.FulfillmentAttempts++
		b.LastAttemptAt = &now
		return nil
	})
	if err != nil {
		return w.afterPersistError(ctx, job, err, log)
	}

	var results []StepResult
	for _, step := range []func(context.Context, *model.Booking, *model.Service) (*model.Booking, StepResult, error){
		w.stepContact,
		w.stepAppointment,
		w.stepRemoteSession,
	} {
		var res StepResult
		b, res, err = step(ctx, b, svc)
		if err != nil {
			return w.afterPersistError(ctx, job, err, log)
		}
		results = append(results, res)
		w.observeStep(res)
		if _, failed := res.(Failed); failed {
			break
		}
	}

	sum := Summarize(results)
	if sum.Succeeded() {
		var res StepResult
		b, res, err = w.stepNotification(ctx, b, svc)
		if err != nil {
			return w.afterPersistError(ctx, job, err, log)
		}
		results = append(results, res)
		w.observeStep(res)
		sum = Summarize(results)
	}

	if sum.NotificationErr != nil {
		log.Warn("Confirmation notification failed", zap.Error(sum.NotificationErr))
	}

	if !sum.Succeeded() {
		return w.handleFailure(ctx, job, b, svc, sum.FirstFailure, log)
	}

	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.FulfillmentError = nil
		return booking.Transition(b, model.BookingStatusReadyForService, w.clock.Now())
	})
	if err != nil {
		return w.afterPersistError(ctx, job, err, log)
	}

	if err := w.queue.Ack(ctx, job); err != nil {
		return OutcomeCompleted, fmt.Errorf("ack job: %w", err)
	}

	if w.reminders != nil {
		b.Service = svc
		if err := w.reminders.Schedule(ctx, b); err != nil {
			log.Warn("Failed to schedule reminders", zap.Error(err))
		}
	}

	log.Info("✅ Fulfillment completed", zap.String("status", string(b.Status)))
	return OutcomeCompleted, nil
}

func (w *Worker) stepContact(ctx context.Context, b *model.Booking, _ *model.Service) (*model.Booking, StepResult, error) {
	step := model.StepCalendarContact
	if b.StepDone(step) || b.CalendarContactID != "" {
		return b, Skipped{Step: step, Reason: "already done"}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	id, err := w.crm.FindOrCreateContact(sctx, b.Signer.Email, b.Signer.Name, b.Signer.Phone)
	cancel()
	if err != nil {
		return b, Failed{Step: step, Err: &model.ExternalSystemError{System: SystemCRM, Step: step, Err: err}}, nil
	}

	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.CalendarContactID = id
		b.MarkStepDone(step)
		return nil
	})
	return b, Done{Step: step}, err
}

// stepAppointment создаёт запись в календаре. Если запись уже есть, а шаг
// сброшен переносом визита, запись двигается на новое время.
func (w *Worker) stepAppointment(ctx context.Context, b *model.Booking, svc *model.Service) (*model.Booking, StepResult, error) {
	step := model.StepCalendarAppointment
	if b.StepDone(step) {
		return b, Skipped{Step: step, Reason: "already done"}, nil
	}

	title := fmt.Sprintf("%s - %s", svc.Name, b.Signer.Name)
	start, end := b.ScheduledAt, b.EndsAt(svc.Duration())
	sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	id := b.CalendarAppointmentID
	var err error
	if id != "" {
		err = w.crm.UpdateAppointment(sctx, w.cfg.CalendarID, id, start, end, title)
	} else {
		id, err = w.crm.CreateAppointment(sctx, w.cfg.CalendarID, b.CalendarContactID, start, end, title)
	}
	cancel()
	if err != nil {
		return b, Failed{Step: step, Err: &model.ExternalSystemError{System: SystemCRM, Step: step, Err: err}}, nil
	}

	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.CalendarAppointmentID = id
		b.MarkStepDone(step)
		return nil
	})
	return b, Done{Step: step}, err
}

func (w *Worker) stepRemoteSession(ctx context.Context, b *model.Booking, svc *model.Service) (*model.Booking, StepResult, error) {
	step := model.StepRemoteSession
	if !b.IsRemote() {
		return b, Skipped{Step: step, Reason: "in-person service"}, nil
	}
	if b.StepDone(step) || b.RemoteSessionID != "" {
		return b, Skipped{Step: step, Reason: "already done"}, nil
	}

	signer := ron.Signer{Name: b.Signer.Name, Email: b.Signer.Email, Phone: b.Signer.Phone}
	docs := []ron.Document{{Title: svc.Name, Type: "general"}}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	session, err := w.sessions.CreateSession(sctx, b.ID, signer, docs, b.ScheduledAt)
	cancel()
	if err != nil {
		return b, Failed{Step: step, Err: &model.ExternalSystemError{System: SystemRON, Step: step, Err: err}}, nil
	}

	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.RemoteSessionID = session.ID
		b.RemoteSessionURL = session.URL
		b.RemoteSessionStatus = session.Status
		b.MarkStepDone(step)
		return nil
	})
	return b, Done{Step: step}, err
}

func (w *Worker) stepNotification(ctx context.Context, b *model.Booking, svc *model.Service) (*model.Booking, StepResult, error) {
	step := model.StepNotification
	if b.StepDone(step) {
		return b, Skipped{Step: step, Reason: "already done"}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	_, err := w.notifier.Send(sctx, b.Signer.Email, notify.TemplateBookingConfirmed, NotificationData(b, svc))
	cancel()
	if err != nil {
		return b, Failed{Step: step, Err: &model.ExternalSystemError{System: SystemNotifier, Step: step, Err: err}}, nil
	}

	b, err = w.persist(ctx, b, func(b *model.Booking) error {
		b.MarkStepDone(step)
		return nil
	})
	return b, Done{Step: step}, err
}

// handleFailure повтор с задержкой или окончательный отказ
func (w *Worker) handleFailure(ctx context.Context, job *model.FulfillmentJob, b *model.Booking, svc *model.Service, cause *model.ExternalSystemError, log *zap.Logger) (Outcome, error) {
	reason := cause.Error()

	if w.cfg.Backoff.ShouldRetry(job.Attempt) {
		if _, err := w.persist(ctx, b, func(b *model.Booking) error {
			b.FulfillmentError = &reason
			return nil
		}); err != nil {
			return w.afterPersistError(ctx, job, err, log)
		}
		delay := w.cfg.Backoff.Delay(job.Attempt)
		log.Warn("Fulfillment attempt failed, will retry",
			zap.String("system", cause.System),
			zap.String("step", string(cause.Step)),
			zap.Duration("delay", delay),
			zap.Error(cause))
		if err := w.queue.Retry(ctx, job, delay, reason); err != nil {
			return OutcomeRetry, fmt.Errorf("retry job: %w", err)
		}
		return OutcomeRetry, nil
	}

	return w.giveUp(ctx, job, b, svc, reason, log.With(
		zap.String("system", cause.System),
		zap.String("step", string(cause.Step))))
}

// giveUp попытки исчерпаны: статус не трогаем, отмечаем отказ, закрываем
// задание и зовём оператора. Клиент получает письмо, что детали уточняются.
func (w *Worker) giveUp(ctx context.Context, job *model.FulfillmentJob, b *model.Booking, svc *model.Service, reason string, log *zap.Logger) (Outcome, error) {
	if b == nil {
		loaded, err := w.store.LoadBooking(ctx, job.BookingID)
		if err != nil {
			log.Warn("Failed to load booking before giving up", zap.Error(err))
		} else {
			b = loaded
		}
	}
	if b != nil && b.Status != model.BookingStatusConfirmed {
		log.Info("Booking is not awaiting fulfillment, skipping job", zap.String("status", string(b.Status)))
		return OutcomeNoop, w.queue.Ack(ctx, job)
	}
	if b != nil && svc == nil {
		if loaded, err := w.store.LoadService(ctx, b.ServiceID); err == nil {
			svc = loaded
		}
	}

	recorded := false
	if b != nil {
		updated, err := w.persist(ctx, b, func(b *model.Booking) error {
			b.FulfillmentFailed = true
			b.FulfillmentError = &reason
			return nil
		})
		switch {
		case errors.Is(err, errBookingChanged):
			log.Info("Booking changed during fulfillment", zap.Error(err))
			return OutcomeNoop, w.queue.Ack(ctx, job)
		case err != nil:
			log.Error("Failed to record fulfillment failure", zap.Error(err))
		default:
			b, recorded = updated, true
		}
	}

	if err := w.queue.Fail(ctx, job, reason); err != nil {
		return OutcomeFailed, fmt.Errorf("fail job: %w", err)
	}

	log.Error("❌ Fulfillment failed permanently", zap.String("reason", reason))

	w.alertFailure(ctx, job, b, svc, reason, log)
	if recorded {
		w.sendFinalizingNotice(ctx, b, svc, log)
	}

	return OutcomeFailed, nil
}

func (w *Worker) alertFailure(ctx context.Context, job *model.FulfillmentJob, b *model.Booking, svc *model.Service, reason string, log *zap.Logger) {
	if w.alerter == nil {
		return
	}

	data := notify.Data{BookingID: job.BookingID}
	if b != nil {
		data = NotificationData(b, svc)
	}
	data.Error = reason
	data.Attempts = job.Attempt

	subject, body, err := notify.Render(notify.TemplateFulfillmentFailed, data)
	if err != nil {
		log.Error("Failed to render operator alert", zap.Error(err))
		return
	}
	if err := w.alerter.Alert(ctx, "⚠️ "+subject+"\n\n"+body); err != nil {
		log.Error("Failed to alert operators", zap.Error(err))
	}
}

// sendFinalizingNotice бронирование остаётся в силе, поэтому клиент не
// должен остаться без письма
func (w *Worker) sendFinalizingNotice(ctx context.Context, b *model.Booking, svc *model.Service, log *zap.Logger) {
	if b.StepDone(model.StepNotification) || b.Signer.Email == "" {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()
	if _, err := w.notifier.Send(sctx, b.Signer.Email, notify.TemplateFinalizingDetails, NotificationData(b, svc)); err != nil {
		log.Warn("Failed to send finalizing notice", zap.Error(err))
	}
}

// persist применяет mutate и сохраняет. При гонке версий перечитывает
// бронирование и применяет mutate заново, так что уже записанные
// идентификаторы не теряются.
func (w *Worker) persist(ctx context.Context, b *model.Booking, mutate func(*model.Booking) error) (*model.Booking, error) {
	current := b.Clone()
	backoff := retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		// отмену или перенос, сделанные параллельно, не перетираем
		if current.Status != model.BookingStatusConfirmed {
			return errBookingChanged
		}
		next := current.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		err := w.store.SaveBooking(ctx, next)
		if errors.Is(err, model.ErrConcurrentUpdate) {
			fresh, lerr := w.store.LoadBooking(ctx, b.ID)
			if lerr != nil {
				return lerr
			}
			current = fresh
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		current = next
		return nil
	})
	if err != nil {
		return b, err
	}
	return current, nil
}

// afterPersistError не смогли записать результат: задание вернётся после
// истечения аренды или через повтор
func (w *Worker) afterPersistError(ctx context.Context, job *model.FulfillmentJob, err error, log *zap.Logger) (Outcome, error) {
	var te *model.InvalidTransitionError
	if errors.Is(err, errBookingChanged) || errors.As(err, &te) {
		// бронирование успели перевести в другой статус
		log.Info("Booking changed during fulfillment", zap.Error(err))
		return OutcomeNoop, w.queue.Ack(ctx, job)
	}
	log.Error("Failed to persist fulfillment progress", zap.Error(err))
	return w.retryJob(ctx, job, nil, nil, err.Error(), log)
}

// retryJob повтор, когда шаги не дошли до результата (хранилище, справочник).
// На последней попытке отказ оформляется так же, как при упавшем шаге.
func (w *Worker) retryJob(ctx context.Context, job *model.FulfillmentJob, b *model.Booking, svc *model.Service, reason string, log *zap.Logger) (Outcome, error) {
	if !w.cfg.Backoff.ShouldRetry(job.Attempt) {
		return w.giveUp(ctx, job, b, svc, reason, log)
	}
	if err := w.queue.Retry(ctx, job, w.cfg.Backoff.Delay(job.Attempt), reason); err != nil {
		return OutcomeRetry, fmt.Errorf("retry job: %w", err)
	}
	return OutcomeRetry, nil
}

func (w *Worker) observeStep(r StepResult) {
	if w.metrics == nil {
		return
	}
	w.metrics.StepResults.WithLabelValues(string(r.StepName()), r.result()).Inc()
}

// NotificationData данные шаблона по бронированию
func NotificationData(b *model.Booking, svc *model.Service) notify.Data {
	d := notify.Data{
		BookingID:   b.ID,
		SignerName:  b.Signer.Name,
		ScheduledAt: b.ScheduledAt,
		Location:    b.Location,
		SessionURL:  b.RemoteSessionURL,
	}
	if svc != nil {
		d.ServiceName = svc.Name
	}
	if b.FulfillmentError != nil {
		d.Error = *b.FulfillmentError
	}
	return d
}
