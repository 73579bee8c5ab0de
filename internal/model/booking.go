package model

import "time"

type BookingStatus string

const (
	BookingStatusRequested          BookingStatus = "requested"
	BookingStatusPaymentPending     BookingStatus = "payment_pending"
	BookingStatusConfirmed          BookingStatus = "confirmed"
	BookingStatusReadyForService    BookingStatus = "ready_for_service"
	BookingStatusInProgress         BookingStatus = "in_progress"
	BookingStatusCompleted          BookingStatus = "completed"
	BookingStatusRequiresReschedule BookingStatus = "requires_reschedule"
	BookingStatusNoShow             BookingStatus = "no_show"
	BookingStatusCancelledByClient  BookingStatus = "cancelled_by_client"
	BookingStatusCancelledByStaff   BookingStatus = "cancelled_by_staff"
	BookingStatusArchived           BookingStatus = "archived"
)

// AllBookingStatuses все статусы в порядке жизненного цикла
var AllBookingStatuses = []BookingStatus{
	BookingStatusRequested,
	BookingStatusPaymentPending,
	BookingStatusConfirmed,
	BookingStatusReadyForService,
	BookingStatusInProgress,
	BookingStatusCompleted,
	BookingStatusRequiresReschedule,
	BookingStatusNoShow,
	BookingStatusCancelledByClient,
	BookingStatusCancelledByStaff,
	BookingStatusArchived,
}

// ParseBookingStatus проверяет строку на известный статус
func ParseBookingStatus(s string) (BookingStatus, bool) {
	for _, st := range AllBookingStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsCancelled отменено клиентом или персоналом
func (s BookingStatus) IsCancelled() bool {
	return s == BookingStatusCancelledByClient || s == BookingStatusCancelledByStaff
}

// OccupiesResource статусы, которые реально занимают время ресурса
func (s BookingStatus) OccupiesResource() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusReadyForService, BookingStatusInProgress:
		return true
	}
	return false
}

// Step шаг фулфилмента
type Step string

const (
	StepCalendarContact     Step = "calendar_contact"
	StepCalendarAppointment Step = "calendar_appointment"
	StepRemoteSession       Step = "remote_session"
	StepNotification        Step = "notification"
)

// StepStatus явный статус шага вместо проверки "поле пустое или нет"
type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepDone       StepStatus = "done"
)

// Signer контакт подписанта
type Signer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// LocationRemote значение Location для удалённых услуг
const LocationRemote = "remote"

// Booking центральная сущность. Никогда не удаляется физически.
type Booking struct {
	ID          string        `json:"id"`
	ServiceID   string        `json:"service_id"`
	Status      BookingStatus `json:"status"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Signer      Signer        `json:"signer"`
	Location    string        `json:"location"` // адрес или "remote"
	Resource    Resource      `json:"resource"`

	// Идентификаторы во внешних системах, заполняются по мере выполнения шагов
	CalendarContactID     string `json:"calendar_contact_id,omitempty"`
	CalendarAppointmentID string `json:"calendar_appointment_id,omitempty"`
	RemoteSessionID       string `json:"remote_session_id,omitempty"`
	RemoteSessionURL      string `json:"remote_session_url,omitempty"`
	RemoteSessionStatus   string `json:"remote_session_status,omitempty"`

	Steps map[Step]StepStatus `json:"steps"`

	FulfillmentAttempts int        `json:"fulfillment_attempts"`
	LastAttemptAt       *time.Time `json:"last_attempt_at"`
	FulfillmentError    *string    `json:"fulfillment_error"`
	FulfillmentFailed   bool       `json:"fulfillment_failed"`

	ActualStart     *time.Time `json:"actual_start"`
	ActualEnd       *time.Time `json:"actual_end"`
	NoShowCheckedAt *time.Time `json:"no_show_checked_at"`
	CancelledAt     *time.Time `json:"cancelled_at"`

	Version   int64     `json:"version"` // оптимистическая блокировка
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Не из БД
	Service *Service `json:"service,omitempty"`
}

// StepStatus возвращает статус шага; отсутствие записи = not_started
func (b *Booking) StepStatus(step Step) StepStatus {
	if st, ok := b.Steps[step]; ok {
		return st
	}
	return StepNotStarted
}

// StepDone проверяет, выполнен ли шаг
func (b *Booking) StepDone(step Step) bool {
	return b.StepStatus(step) == StepDone
}

// MarkStepDone отмечает шаг выполненным
func (b *Booking) MarkStepDone(step Step) {
	if b.Steps == nil {
		b.Steps = make(map[Step]StepStatus)
	}
	b.Steps[step] = StepDone
}

// ResetForReschedule готовит фулфилмент к новому времени визита. Контакт
// остаётся, запись в календаре переносится по сохранённому ID, удалённая
// сессия и письмо-подтверждение создаются заново.
func (b *Booking) ResetForReschedule() {
	for _, step := range []Step{StepCalendarAppointment, StepRemoteSession, StepNotification} {
		delete(b.Steps, step)
	}
	b.RemoteSessionID = ""
	b.RemoteSessionURL = ""
	b.RemoteSessionStatus = ""
	b.FulfillmentAttempts = 0
	b.FulfillmentError = nil
	b.FulfillmentFailed = false
}

// IsRemote удалённая ли услуга у бронирования
func (b *Booking) IsRemote() bool {
	return b.Resource.IsRemote() || b.Location == LocationRemote
}

// EndsAt конец визита
func (b *Booking) EndsAt(duration time.Duration) time.Time {
	return b.ScheduledAt.Add(duration)
}

// Clone глубокая копия, чтобы хранилище в памяти не делило указатели с вызывающим
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.Steps != nil {
		c.Steps = make(map[Step]StepStatus, len(b.Steps))
		for k, v := range b.Steps {
			c.Steps[k] = v
		}
	}
	c.LastAttemptAt = cloneTime(b.LastAttemptAt)
	c.ActualStart = cloneTime(b.ActualStart)
	c.ActualEnd = cloneTime(b.ActualEnd)
	c.NoShowCheckedAt = cloneTime(b.NoShowCheckedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	if b.FulfillmentError != nil {
		e := *b.FulfillmentError
		c.FulfillmentError = &e
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
