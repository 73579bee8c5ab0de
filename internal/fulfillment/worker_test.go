package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ron"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now0 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type fakeCRM struct {
	mu                sync.Mutex
	contactCalls      int
	apptCalls         int
	updateCalls       int
	contactErr        error
	apptFailures      int // сколько первых вызовов упадут
	lastCalendarID    string
	lastAppointmentID string
	lastAppointment   [2]time.Time
	onContact         func()
}

func (c *fakeCRM) FindOrCreateContact(ctx context.Context, email, name, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contactCalls++
	if c.onContact != nil {
		c.onContact()
	}
	if c.contactErr != nil {
		return "", c.contactErr
	}
	return "contact-1", nil
}

func (c *fakeCRM) CreateAppointment(ctx context.Context, calendarID, contactID string, start, end time.Time, title string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apptCalls++
	c.lastCalendarID = calendarID
	c.lastAppointment = [2]time.Time{start, end}
	if c.apptCalls <= c.apptFailures {
		return "", errors.New("ghl: 503 service unavailable")
	}
	return "appt-1", nil
}

func (c *fakeCRM) UpdateAppointment(ctx context.Context, calendarID, appointmentID string, start, end time.Time, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCalls++
	c.lastCalendarID = calendarID
	c.lastAppointmentID = appointmentID
	c.lastAppointment = [2]time.Time{start, end}
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	calls    int
	failures int // сколько первых вызовов упадут
}

func (s *fakeSessions) CreateSession(ctx context.Context, bookingID string, signer ron.Signer, docs []ron.Document, scheduledAt time.Time) (*ron.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("ron: 502 bad gateway")
	}
	return &ron.Session{ID: "sess-1", URL: "https://ron.example.com/s/sess-1", Status: ron.StatusScheduled}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []notify.Template
	err    error
	onSend func()
}

func (n *fakeNotifier) Send(ctx context.Context, recipient string, tmpl notify.Template, data notify.Data) (notify.Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return notify.Delivery{}, n.err
	}
	n.sent = append(n.sent, tmpl)
	if n.onSend != nil {
		n.onSend()
	}
	return notify.Delivery{MessageID: "msg", Recipient: recipient, Template: tmpl}, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Alert(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
	return nil
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled []string
}

func (r *fakeReminders) Schedule(ctx context.Context, b *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, b.ID)
	return nil
}

type workerFixture struct {
	worker    *Worker
	store     *repository.MemoryStore
	queue     *queue.MemoryQueue
	clock     *clock.Fixed
	crm       *fakeCRM
	sessions  *fakeSessions
	notifier  *fakeNotifier
	alerter   *fakeAlerter
	reminders *fakeReminders
	metrics   *Metrics
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	c := clock.NewFixed(now0)
	st := repository.NewMemoryStore(c)
	st.PutService(&model.Service{ID: "mobile", Name: "Mobile Notary", DurationMinutes: 60, IsActive: true})
	st.PutService(&model.Service{ID: "ron", Name: "RON", DurationMinutes: 30, Remote: true, IsActive: true})

	f := &workerFixture{
		store:     st,
		queue:     queue.NewMemoryQueue(c, time.Minute),
		clock:     c,
		crm:       &fakeCRM{},
		sessions:  &fakeSessions{},
		notifier:  &fakeNotifier{},
		alerter:   &fakeAlerter{},
		reminders: &fakeReminders{},
		metrics:   NewMetrics("test", prometheus.NewRegistry()),
	}
	f.worker = NewWorker(st, f.queue, f.crm, f.sessions, f.notifier, f.alerter, f.reminders, f.metrics, c,
		Config{
			CalendarID:  "cal-1",
			StepTimeout: time.Second,
			Backoff:     queue.Backoff{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3},
		},
		zap.NewNop())
	return f
}

func (f *workerFixture) confirmed(t *testing.T, id, serviceID string) *model.Booking {
	t.Helper()
	b := &model.Booking{
		ID:          id,
		ServiceID:   serviceID,
		Status:      model.BookingStatusConfirmed,
		ScheduledAt: now0.Add(72 * time.Hour),
		Signer:      model.Signer{Name: "Jane Doe", Email: "jane@example.com", Phone: "+15550100"},
		Location:    "1 Main St, Houston",
		Resource:    model.ResourceDefaultAgent,
	}
	if serviceID == "ron" {
		b.Location = model.LocationRemote
		b.Resource = model.ResourceVirtual
	}
	require.NoError(t, f.store.CreateBooking(context.Background(), b))
	created, err := f.queue.Enqueue(context.Background(), id)
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func (f *workerFixture) runOnce(t *testing.T) Outcome {
	t.Helper()
	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job, "expected a ready job")
	outcome, err := f.worker.ProcessJob(context.Background(), job)
	require.NoError(t, err)
	return outcome
}

func (f *workerFixture) load(t *testing.T, id string) *model.Booking {
	t.Helper()
	b, err := f.store.LoadBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestRemoteBookingFulfillment(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "ron")

	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Equal(t, "contact-1", b.CalendarContactID)
	assert.Equal(t, "appt-1", b.CalendarAppointmentID)
	assert.Equal(t, "sess-1", b.RemoteSessionID)
	assert.Equal(t, "https://ron.example.com/s/sess-1", b.RemoteSessionURL)
	assert.Nil(t, b.FulfillmentError)
	assert.Equal(t, 1, b.FulfillmentAttempts)
	for _, step := range []model.Step{model.StepCalendarContact, model.StepCalendarAppointment, model.StepRemoteSession, model.StepNotification} {
		assert.True(t, b.StepDone(step), step)
	}

	assert.Equal(t, 1, f.crm.contactCalls)
	assert.Equal(t, 1, f.crm.apptCalls)
	assert.Equal(t, 1, f.sessions.calls)
	assert.Equal(t, []notify.Template{notify.TemplateBookingConfirmed}, f.notifier.sent)
	assert.Equal(t, []string{"b1"}, f.reminders.scheduled)
	assert.Equal(t, "cal-1", f.crm.lastCalendarID)
	assert.Equal(t, 30*time.Minute, f.crm.lastAppointment[1].Sub(f.crm.lastAppointment[0]))

	pending, _ := f.queue.Pending(context.Background())
	assert.Zero(t, pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsProcessed.WithLabelValues(string(OutcomeCompleted))))
}

func TestInPersonBookingSkipsRemoteSession(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "mobile")

	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Empty(t, b.RemoteSessionID)
	assert.False(t, b.StepDone(model.StepRemoteSession))
	assert.Zero(t, f.sessions.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StepResults.WithLabelValues(string(model.StepRemoteSession), "skipped")))
}

func TestReplayMakesNoExternalCalls(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "ron")

	// Предыдущая попытка выполнила все шаги, но не успела сменить статус
	b := f.load(t, "b1")
	b.CalendarContactID = "contact-1"
	b.CalendarAppointmentID = "appt-1"
	b.RemoteSessionID = "sess-1"
	for _, step := range []model.Step{model.StepCalendarContact, model.StepCalendarAppointment, model.StepRemoteSession, model.StepNotification} {
		b.MarkStepDone(step)
	}
	require.NoError(t, f.store.SaveBooking(context.Background(), b))

	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	assert.Zero(t, f.crm.contactCalls)
	assert.Zero(t, f.crm.apptCalls)
	assert.Zero(t, f.sessions.calls)
	assert.Empty(t, f.notifier.sent)

	b = f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Equal(t, "contact-1", b.CalendarContactID)
}

func TestRetryResumesFromFailedStep(t *testing.T) {
	f := newWorkerFixture(t)
	f.crm.apptFailures = 1
	f.confirmed(t, "b1", "mobile")

	assert.Equal(t, OutcomeRetry, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.True(t, b.StepDone(model.StepCalendarContact))
	assert.False(t, b.StepDone(model.StepCalendarAppointment))
	require.NotNil(t, b.FulfillmentError)
	assert.Contains(t, *b.FulfillmentError, "503")
	assert.False(t, b.FulfillmentFailed)

	// До истечения задержки задание не выдаётся
	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)

	f.clock.Advance(time.Second)
	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	assert.Equal(t, 1, f.crm.contactCalls)
	assert.Equal(t, 2, f.crm.apptCalls)

	b = f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Nil(t, b.FulfillmentError)
	assert.Equal(t, 2, b.FulfillmentAttempts)
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	f := newWorkerFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.confirmed(t, "b1", "mobile")

	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.False(t, b.StepDone(model.StepNotification))
	assert.False(t, b.FulfillmentFailed)
	assert.Empty(t, f.alerter.alerts)
}

func TestTerminalFailureKeepsStatus(t *testing.T) {
	f := newWorkerFixture(t)
	f.crm.contactErr = errors.New("ghl: 401 unauthorized")
	f.confirmed(t, "b1", "mobile")

	assert.Equal(t, OutcomeRetry, f.runOnce(t))
	f.clock.Advance(time.Second)
	assert.Equal(t, OutcomeRetry, f.runOnce(t))
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, OutcomeFailed, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.True(t, b.FulfillmentFailed)
	require.NotNil(t, b.FulfillmentError)
	assert.Contains(t, *b.FulfillmentError, "401")
	assert.Equal(t, 3, b.FulfillmentAttempts)

	dead, ok := f.queue.Dead("b1")
	require.True(t, ok)
	assert.Equal(t, 3, dead.Attempt)

	require.Len(t, f.alerter.alerts, 1)
	assert.Contains(t, f.alerter.alerts[0], "Fulfillment failed for booking b1")
	assert.Contains(t, f.alerter.alerts[0], "after 3 attempts")
	assert.Contains(t, f.alerter.alerts[0], "401")
	// клиенту уходит письмо, что детали уточняются
	assert.Equal(t, []notify.Template{notify.TemplateFinalizingDetails}, f.notifier.sent)
	assert.Empty(t, f.reminders.scheduled)

	// Больше попыток нет
	f.clock.Advance(time.Hour)
	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRemoteSessionRetryKeepsEarlierSteps(t *testing.T) {
	f := newWorkerFixture(t)
	f.sessions.failures = 1
	f.confirmed(t, "b1", "ron")

	assert.Equal(t, OutcomeRetry, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.True(t, b.StepDone(model.StepCalendarContact))
	assert.True(t, b.StepDone(model.StepCalendarAppointment))
	assert.False(t, b.StepDone(model.StepRemoteSession))
	assert.Empty(t, b.RemoteSessionID)
	require.NotNil(t, b.FulfillmentError)
	assert.Contains(t, *b.FulfillmentError, "502")
	assert.Empty(t, f.notifier.sent)

	f.clock.Advance(time.Second)
	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	assert.Equal(t, 1, f.crm.contactCalls)
	assert.Equal(t, 1, f.crm.apptCalls)
	assert.Equal(t, 2, f.sessions.calls)

	b = f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Equal(t, "sess-1", b.RemoteSessionID)
	assert.Equal(t, 2, b.FulfillmentAttempts)
	assert.Equal(t, []notify.Template{notify.TemplateBookingConfirmed}, f.notifier.sent)
}

func TestRescheduledBookingMovesAppointment(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "ron")

	// первый визит подготовлен полностью, потом перенесён
	b := f.load(t, "b1")
	b.CalendarContactID = "contact-1"
	b.CalendarAppointmentID = "appt-1"
	b.RemoteSessionID = "sess-old"
	b.RemoteSessionURL = "https://ron.example.com/s/sess-old"
	for _, step := range []model.Step{model.StepCalendarContact, model.StepCalendarAppointment, model.StepRemoteSession, model.StepNotification} {
		b.MarkStepDone(step)
	}
	b.ResetForReschedule()
	b.ScheduledAt = now0.Add(96 * time.Hour)
	require.NoError(t, f.store.SaveBooking(context.Background(), b))

	assert.Equal(t, OutcomeCompleted, f.runOnce(t))

	assert.Zero(t, f.crm.contactCalls)
	assert.Zero(t, f.crm.apptCalls, "existing appointment is moved, not duplicated")
	assert.Equal(t, 1, f.crm.updateCalls)
	assert.Equal(t, "appt-1", f.crm.lastAppointmentID)
	assert.Equal(t, now0.Add(96*time.Hour), f.crm.lastAppointment[0])
	assert.Equal(t, 1, f.sessions.calls)
	assert.Equal(t, []notify.Template{notify.TemplateBookingConfirmed}, f.notifier.sent)
	assert.Equal(t, []string{"b1"}, f.reminders.scheduled)

	b = f.load(t, "b1")
	assert.Equal(t, model.BookingStatusReadyForService, b.Status)
	assert.Equal(t, "appt-1", b.CalendarAppointmentID)
	assert.Equal(t, "sess-1", b.RemoteSessionID)
	assert.True(t, b.StepDone(model.StepCalendarAppointment))
}

func TestCancelDuringFulfillmentStopsWork(t *testing.T) {
	cancel := func(f *workerFixture) func() {
		return func() {
			b, err := f.store.LoadBooking(context.Background(), "b1")
			if err != nil {
				return
			}
			b.Status = model.BookingStatusCancelledByStaff
			_ = f.store.SaveBooking(context.Background(), b)
		}
	}

	t.Run("during contact step", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.confirmed(t, "b1", "ron")
		f.crm.onContact = cancel(f)

		assert.Equal(t, OutcomeNoop, f.runOnce(t))

		assert.Equal(t, 1, f.crm.contactCalls)
		assert.Zero(t, f.crm.apptCalls)
		assert.Zero(t, f.sessions.calls)
		assert.Empty(t, f.notifier.sent)
		assert.Empty(t, f.reminders.scheduled)
		assert.Empty(t, f.alerter.alerts)

		b := f.load(t, "b1")
		assert.Equal(t, model.BookingStatusCancelledByStaff, b.Status)
		assert.Empty(t, b.CalendarContactID)

		pending, _ := f.queue.Pending(context.Background())
		assert.Zero(t, pending)
	})

	t.Run("during notification", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.confirmed(t, "b1", "mobile")
		f.notifier.onSend = cancel(f)

		assert.Equal(t, OutcomeNoop, f.runOnce(t))

		assert.Empty(t, f.reminders.scheduled)
		b := f.load(t, "b1")
		assert.Equal(t, model.BookingStatusCancelledByStaff, b.Status, "cancellation is not overwritten by ready_for_service")

		pending, _ := f.queue.Pending(context.Background())
		assert.Zero(t, pending)
	})
}

// brokenCatalog хранилище, в котором недоступен справочник услуг
type brokenCatalog struct {
	*repository.MemoryStore
}

func (brokenCatalog) LoadService(ctx context.Context, id string) (*model.Service, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureOnLastAttemptMarksFailed(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker = NewWorker(brokenCatalog{f.store}, f.queue, f.crm, f.sessions, f.notifier, f.alerter, f.reminders, f.metrics, f.clock,
		Config{
			CalendarID:  "cal-1",
			StepTimeout: time.Second,
			Backoff:     queue.Backoff{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3},
		},
		zap.NewNop())
	f.confirmed(t, "b1", "mobile")

	assert.Equal(t, OutcomeRetry, f.runOnce(t))
	f.clock.Advance(time.Second)
	assert.Equal(t, OutcomeRetry, f.runOnce(t))
	assert.Empty(t, f.alerter.alerts)
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, OutcomeFailed, f.runOnce(t))

	b := f.load(t, "b1")
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.True(t, b.FulfillmentFailed)
	require.NotNil(t, b.FulfillmentError)
	assert.Contains(t, *b.FulfillmentError, "load service")

	_, ok := f.queue.Dead("b1")
	assert.True(t, ok)
	require.Len(t, f.alerter.alerts, 1)
	assert.Contains(t, f.alerter.alerts[0], "b1")
	assert.Equal(t, []notify.Template{notify.TemplateFinalizingDetails}, f.notifier.sent)
	assert.Zero(t, f.crm.contactCalls)
}

func TestCancelledBookingIsNoop(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "mobile")

	b := f.load(t, "b1")
	b.Status = model.BookingStatusCancelledByClient
	require.NoError(t, f.store.SaveBooking(context.Background(), b))

	assert.Equal(t, OutcomeNoop, f.runOnce(t))
	assert.Zero(t, f.crm.contactCalls)

	pending, _ := f.queue.Pending(context.Background())
	assert.Zero(t, pending)
	assert.Equal(t, 0, f.load(t, "b1").FulfillmentAttempts)
}

func TestMissingBookingIsAcked(t *testing.T) {
	f := newWorkerFixture(t)
	_, err := f.queue.Enqueue(context.Background(), "ghost")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoop, f.runOnce(t))
	pending, _ := f.queue.Pending(context.Background())
	assert.Zero(t, pending)
}

type bogusResult struct{}

func (bogusResult) StepName() model.Step { return "bogus" }
func (bogusResult) result() string       { return "bogus" }

func TestSummarize(t *testing.T) {
	crmErr := &model.ExternalSystemError{System: SystemCRM, Step: model.StepCalendarAppointment, Err: errors.New("boom")}
	mailErr := &model.ExternalSystemError{System: SystemNotifier, Step: model.StepNotification, Err: errors.New("smtp")}

	sum := Summarize([]StepResult{
		Done{Step: model.StepCalendarContact},
		Skipped{Step: model.StepRemoteSession, Reason: "in-person service"},
		Failed{Step: model.StepNotification, Err: mailErr},
	})
	assert.True(t, sum.Succeeded())
	assert.Equal(t, mailErr, sum.NotificationErr)

	sum = Summarize([]StepResult{
		Done{Step: model.StepCalendarContact},
		Failed{Step: model.StepCalendarAppointment, Err: crmErr},
	})
	assert.False(t, sum.Succeeded())
	assert.Equal(t, crmErr, sum.FirstFailure)

	assert.Panics(t, func() { Summarize([]StepResult{bogusResult{}}) })
}

func TestRunnerProcessesQueuedJobs(t *testing.T) {
	f := newWorkerFixture(t)
	f.confirmed(t, "b1", "mobile")
	f.confirmed(t, "b2", "ron")

	r := NewRunner(f.worker, f.queue, 2, 10*time.Millisecond, zap.NewNop())
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		for _, id := range []string{"b1", "b2"} {
			b, err := f.store.LoadBooking(context.Background(), id)
			if err != nil || b.Status != model.BookingStatusReadyForService {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Equal(t, 2, f.crm.contactCalls)
}
