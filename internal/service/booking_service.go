package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/availability"
	"github.com/Freeeeeet/notary_scheduler/internal/booking"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// JobEnqueuer часть очереди, нужная сервису
type JobEnqueuer interface {
	Enqueue(ctx context.Context, bookingID string) (bool, error)
}

// BookingService ядро: доступность, подтверждение и смена статусов
type BookingService struct {
	store    repository.Store
	engine   *availability.Engine
	calendar *model.BusinessCalendar
	queue    JobEnqueuer
	cache    SlotCache
	clock    clock.Clock
	logger   *zap.Logger
}

func NewBookingService(
	store repository.Store,
	engine *availability.Engine,
	calendar *model.BusinessCalendar,
	queue JobEnqueuer,
	cache SlotCache,
	clk clock.Clock,
	logger *zap.Logger,
) *BookingService {
	if cache == nil {
		cache = NopSlotCache{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &BookingService{
		store:    store,
		engine:   engine,
		calendar: calendar,
		queue:    queue,
		cache:    cache,
		clock:    clk,
		logger:   logger,
	}
}

// Calendar текущий бизнес-календарь
func (s *BookingService) Calendar() *model.BusinessCalendar {
	return s.calendar
}

// GetAvailableSlots свободные слоты услуги на дату
func (s *BookingService) GetAvailableSlots(ctx context.Context, serviceID string, date time.Time) ([]model.Slot, error) {
	if s.calendar == nil {
		return nil, model.ErrUnconfiguredCalendar
	}
	if serviceID == "" {
		return nil, model.NewValidationError("service_id", "is required")
	}
	if date.IsZero() {
		return nil, model.NewValidationError("date", "is required")
	}

	svc, err := s.store.LoadService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	dateKey := clock.DateKey(date, s.calendar.Location)
	if slots, ok := s.cache.Get(ctx, serviceID, dateKey); ok {
		return slots, nil
	}

	commitments, err := s.commitmentsFor(ctx, s.store, svc.Resource(), date)
	if err != nil {
		return nil, err
	}

	slots, err := s.engine.GetSlots(svc, date, commitments, s.calendar)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, serviceID, dateKey, slots)
	return slots, nil
}

// BookingRequest данные новой заявки
type BookingRequest struct {
	ServiceID   string
	Signer      model.Signer
	Location    string
	ScheduledAt time.Time // желаемое время, окончательно задаётся при подтверждении
}

// CreateBooking создаёт заявку в статусе Requested (или PaymentPending,
// если услуга требует депозит). Время не резервируется до ConfirmBooking.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	svc, err := s.store.LoadService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.IsActive {
		return nil, model.NewValidationError("service_id", "service is not active")
	}

	status := model.BookingStatusRequested
	if svc.DepositRequired {
		status = model.BookingStatusPaymentPending
	}

	location := strings.TrimSpace(req.Location)
	if svc.Remote {
		location = model.LocationRemote
	} else if location == "" {
		return nil, model.NewValidationError("location", "is required for in-person services")
	}

	b := &model.Booking{
		ID:          uuid.NewString(),
		ServiceID:   svc.ID,
		Status:      status,
		ScheduledAt: req.ScheduledAt,
		Signer:      req.Signer,
		Location:    location,
		Resource:    svc.Resource(),
		Steps:       map[model.Step]model.StepStatus{},
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info("Booking requested",
		zap.String("booking_id", b.ID),
		zap.String("service_id", svc.ID),
		zap.String("status", string(b.Status)),
	)

	b.Service = svc
	return b, nil
}

// ConfirmBooking занимает слот slotStart и переводит бронирование в Confirmed.
//
// Проверка доступности и запись выполняются под блокировкой пула ресурса,
// поэтому из двух одновременных подтверждений одного слота проходит ровно
// одно, второе получает model.ErrUnavailableSlot. После фиксации ставится
// задание фулфилмента.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID string, slotStart time.Time) (*model.Booking, error) {
	if s.calendar == nil {
		return nil, model.ErrUnconfiguredCalendar
	}
	if slotStart.IsZero() {
		return nil, model.NewValidationError("slot_start", "is required")
	}

	current, err := s.store.LoadBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	svc, err := s.store.LoadService(ctx, current.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	resource := current.Resource
	if resource == "" {
		resource = svc.Resource()
	}

	var confirmed *model.Booking
	err = s.store.WithResourceLock(ctx, resource, func(ctx context.Context, tx repository.Store) error {
		b, err := tx.LoadBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if err := booking.Validate(b.Status, model.BookingStatusConfirmed); err != nil {
			return err
		}

		commitments, err := s.commitmentsFor(ctx, tx, resource, slotStart)
		if err != nil {
			return err
		}
		commitments = withoutBooking(commitments, b.ID)

		ok, err := s.engine.IsAvailable(svc, slotStart, commitments, s.calendar)
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrUnavailableSlot
		}

		rescheduled := b.Status == model.BookingStatusRequiresReschedule
		b.ScheduledAt = slotStart
		b.Resource = resource
		if err := booking.Transition(b, model.BookingStatusConfirmed, s.clock.Now()); err != nil {
			return err
		}
		if rescheduled {
			b.ResetForReschedule()
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}

		confirmed = b
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrUnavailableSlot) {
			s.logger.Info("Slot taken while confirming",
				zap.String("booking_id", bookingID),
				zap.Time("slot_start", slotStart))
		}
		return nil, err
	}

	s.cache.InvalidateDate(ctx, clock.DateKey(slotStart, s.calendar.Location))
	s.enqueueFulfillment(ctx, confirmed.ID)

	s.logger.Info("✅ Booking confirmed",
		zap.String("booking_id", confirmed.ID),
		zap.String("service_id", svc.ID),
		zap.Time("scheduled_at", confirmed.ScheduledAt),
		zap.String("resource", string(confirmed.Resource)),
	)

	confirmed.Service = svc
	return confirmed, nil
}

// TransitionBooking меняет статус по таблице переходов от имени actor.
// Переход в Confirmed идёт через ConfirmBooking с текущим временем записи,
// чтобы заново проверить доступность.
func (s *BookingService) TransitionBooking(ctx context.Context, bookingID string, to model.BookingStatus, actor model.Actor) (*model.Booking, error) {
	if err := checkActor(to, actor); err != nil {
		return nil, err
	}

	if to == model.BookingStatusConfirmed {
		b, err := s.store.LoadBooking(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("load booking: %w", err)
		}
		if err := booking.Validate(b.Status, to); err != nil {
			return nil, err
		}
		return s.ConfirmBooking(ctx, bookingID, b.ScheduledAt)
	}

	var (
		updated *model.Booking
		from    model.BookingStatus
	)
	err := s.saveWithRetry(ctx, func(ctx context.Context) error {
		b, err := s.store.LoadBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		from = b.Status
		if err := booking.Transition(b, to, s.clock.Now()); err != nil {
			return err
		}
		if err := s.store.SaveBooking(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	// отмена освобождает время
	if from.OccupiesResource() && !to.OccupiesResource() && s.calendar != nil {
		s.cache.InvalidateDate(ctx, clock.DateKey(updated.ScheduledAt, s.calendar.Location))
	}

	s.logger.Info("Booking status changed",
		zap.String("booking_id", bookingID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor.String()),
	)

	return updated, nil
}

// RequeueFulfillment повторно запускает фулфилмент после окончательного отказа
func (s *BookingService) RequeueFulfillment(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	var updated *model.Booking
	err := s.saveWithRetry(ctx, func(ctx context.Context) error {
		b, err := s.store.LoadBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if !b.FulfillmentFailed {
			return model.NewValidationError("booking", "fulfillment has not failed")
		}
		if b.Status != model.BookingStatusConfirmed {
			return model.NewValidationError("booking", fmt.Sprintf("cannot fulfill booking in status %s", b.Status))
		}
		b.FulfillmentFailed = false
		b.FulfillmentError = nil
		b.FulfillmentAttempts = 0
		if err := s.store.SaveBooking(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.Enqueue(ctx, bookingID); err != nil {
		return nil, fmt.Errorf("enqueue fulfillment: %w", err)
	}

	s.logger.Info("Fulfillment requeued",
		zap.String("booking_id", bookingID),
		zap.String("actor", actor.String()))

	return updated, nil
}

// ReconcileFulfillment ставит в очередь подтверждённые бронирования, для
// которых задание могло потеряться (процесс упал между фиксацией и Enqueue).
// Enqueue идемпотентен, поэтому повторный вызов безопасен.
func (s *BookingService) ReconcileFulfillment(ctx context.Context, limit int) (int, error) {
	bookings, err := s.store.ListAwaitingFulfillment(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list bookings awaiting fulfillment: %w", err)
	}

	enqueued := 0
	for _, b := range bookings {
		created, err := s.queue.Enqueue(ctx, b.ID)
		if err != nil {
			return enqueued, fmt.Errorf("enqueue fulfillment: %w", err)
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

// GetBooking бронирование вместе с услугой
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := s.store.LoadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if svc, err := s.store.LoadService(ctx, b.ServiceID); err == nil {
		b.Service = svc
	}
	return b, nil
}

// ListServices активные услуги
func (s *BookingService) ListServices(ctx context.Context) ([]*model.Service, error) {
	return s.store.ListServices(ctx)
}

// ListBookings бронирования в статусе
func (s *BookingService) ListBookings(ctx context.Context, status model.BookingStatus, limit int) ([]*model.Booking, error) {
	return s.store.ListBookingsByStatus(ctx, status, limit)
}

// ListFailedFulfillments бронирования с окончательно упавшим фулфилментом
func (s *BookingService) ListFailedFulfillments(ctx context.Context, limit int) ([]*model.Booking, error) {
	return s.store.ListFailedFulfillments(ctx, limit)
}

func (s *BookingService) commitmentsFor(ctx context.Context, st repository.Store, resource model.Resource, date time.Time) ([]model.Commitment, error) {
	window := clock.DayInterval(date, s.calendar.Location).Widen(s.calendar.Buffer())
	commitments, err := st.ListCommitments(ctx, resource, window)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	return commitments, nil
}

func (s *BookingService) enqueueFulfillment(ctx context.Context, bookingID string) {
	// Потерянное задание подберёт ReconcileFulfillment
	if _, err := s.queue.Enqueue(ctx, bookingID); err != nil {
		s.logger.Error("Failed to enqueue fulfillment",
			zap.String("booking_id", bookingID),
			zap.Error(err))
	}
}

// saveWithRetry повторяет fn при ErrConcurrentUpdate (гонка с воркером)
func (s *BookingService) saveWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewConstant(20*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, model.ErrConcurrentUpdate) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func withoutBooking(commitments []model.Commitment, bookingID string) []model.Commitment {
	out := commitments[:0:0]
	for _, c := range commitments {
		if c.BookingID != bookingID {
			out = append(out, c)
		}
	}
	return out
}

func validateRequest(req BookingRequest) error {
	if req.ServiceID == "" {
		return model.NewValidationError("service_id", "is required")
	}
	if strings.TrimSpace(req.Signer.Name) == "" {
		return model.NewValidationError("signer.name", "is required")
	}
	if req.Signer.Email == "" {
		return model.NewValidationError("signer.email", "is required")
	}
	if _, err := mail.ParseAddress(req.Signer.Email); err != nil {
		return model.NewValidationError("signer.email", "is not a valid address")
	}
	return nil
}

// checkActor кто может выставлять статус
func checkActor(to model.BookingStatus, actor model.Actor) error {
	switch to {
	case model.BookingStatusReadyForService:
		if actor.Kind != model.ActorSystem {
			return model.NewValidationError("actor", "ready_for_service is set by fulfillment only")
		}
	case model.BookingStatusCancelledByStaff, model.BookingStatusInProgress, model.BookingStatusCompleted,
		model.BookingStatusNoShow, model.BookingStatusRequiresReschedule, model.BookingStatusArchived:
		if actor.Kind == model.ActorClient {
			return model.NewValidationError("actor", fmt.Sprintf("clients cannot set %s", to))
		}
	}
	return nil
}
