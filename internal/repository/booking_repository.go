package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/repository/base"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db base.Querier) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(db)}
}

const bookingColumns = `
	id, service_id, status, scheduled_at,
	signer_name, signer_email, signer_phone, location, resource,
	COALESCE(calendar_contact_id, ''), COALESCE(calendar_appointment_id, ''),
	COALESCE(remote_session_id, ''), COALESCE(remote_session_url, ''), COALESCE(remote_session_status, ''),
	steps, fulfillment_attempts, last_attempt_at, fulfillment_error, fulfillment_failed,
	actual_start, actual_end, no_show_checked_at, cancelled_at,
	version, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var (
		b     model.Booking
		steps []byte
	)
	err := row.Scan(
		&b.ID,
		&b.ServiceID,
		&b.Status,
		&b.ScheduledAt,
		&b.Signer.Name,
		&b.Signer.Email,
		&b.Signer.Phone,
		&b.Location,
		&b.Resource,
		&b.CalendarContactID,
		&b.CalendarAppointmentID,
		&b.RemoteSessionID,
		&b.RemoteSessionURL,
		&b.RemoteSessionStatus,
		&steps,
		&b.FulfillmentAttempts,
		&b.LastAttemptAt,
		&b.FulfillmentError,
		&b.FulfillmentFailed,
		&b.ActualStart,
		&b.ActualEnd,
		&b.NoShowCheckedAt,
		&b.CancelledAt,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &b.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &b, nil
}

func encodeSteps(steps map[model.Step]model.StepStatus) ([]byte, error) {
	if steps == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(steps)
}

// Create создаёт новое бронирование
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	steps, err := encodeSteps(b.Steps)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	query := `
		INSERT INTO bookings (
			id, service_id, status, scheduled_at,
			signer_name, signer_email, signer_phone, location, resource,
			steps, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING version, created_at, updated_at
	`

	err = r.QueryRow(
		ctx, query,
		b.ID,
		b.ServiceID,
		b.Status,
		b.ScheduledAt,
		b.Signer.Name,
		b.Signer.Email,
		b.Signer.Phone,
		b.Location,
		b.Resource,
		steps,
	).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return b, nil
}

// Update сохраняет бронирование с проверкой версии. Если строку успели
// изменить, возвращает model.ErrConcurrentUpdate.
func (r *BookingRepository) Update(ctx context.Context, b *model.Booking) error {
	steps, err := encodeSteps(b.Steps)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}

	query := `
		UPDATE bookings
		SET status = $3,
		    scheduled_at = $4,
		    location = $5,
		    resource = $6,
		    calendar_contact_id = NULLIF($7, ''),
		    calendar_appointment_id = NULLIF($8, ''),
		    remote_session_id = NULLIF($9, ''),
		    remote_session_url = NULLIF($10, ''),
		    remote_session_status = NULLIF($11, ''),
		    steps = $12,
		    fulfillment_attempts = $13,
		    last_attempt_at = $14,
		    fulfillment_error = $15,
		    fulfillment_failed = $16,
		    actual_start = $17,
		    actual_end = $18,
		    no_show_checked_at = $19,
		    cancelled_at = $20,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err = r.QueryRow(
		ctx, query,
		b.ID,
		b.Version,
		b.Status,
		b.ScheduledAt,
		b.Location,
		b.Resource,
		b.CalendarContactID,
		b.CalendarAppointmentID,
		b.RemoteSessionID,
		b.RemoteSessionURL,
		b.RemoteSessionStatus,
		steps,
		b.FulfillmentAttempts,
		b.LastAttemptAt,
		b.FulfillmentError,
		b.FulfillmentFailed,
		b.ActualStart,
		b.ActualEnd,
		b.NoShowCheckedAt,
		b.CancelledAt,
	).Scan(&b.Version, &b.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("booking %s version %d: %w", b.ID, b.Version, model.ErrConcurrentUpdate)
		}
		return fmt.Errorf("update booking: %w", err)
	}

	return nil
}

// ListCommitments получает занятость пула ресурса, пересекающую интервал.
// Учитываются только статусы, которые реально занимают время.
func (r *BookingRepository) ListCommitments(ctx context.Context, resource model.Resource, within clock.Interval) ([]model.Commitment, error) {
	query := `
		SELECT b.id, b.resource, b.scheduled_at,
		       b.scheduled_at + make_interval(mins => s.duration_minutes) AS ends_at
		FROM bookings b
		JOIN services s ON s.id = b.service_id
		WHERE b.status = ANY($1)
		  AND b.scheduled_at < $3
		  AND b.scheduled_at + make_interval(mins => s.duration_minutes) > $2
		  AND (
		    ($4 AND b.resource = 'virtual')
		    OR (NOT $4 AND b.resource <> 'virtual' AND lower(b.resource) = lower($5))
		  )
		ORDER BY b.scheduled_at
	`

	rows, err := r.Query(ctx, query, blockingStatuses(), within.Start, within.End, resource.IsRemote(), string(resource))
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var commitments []model.Commitment
	for rows.Next() {
		var (
			c          model.Commitment
			start, end time.Time
		)
		if err := rows.Scan(&c.BookingID, &c.Resource, &start, &end); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		c.Interval = clock.Interval{Start: start, End: end}
		commitments = append(commitments, c)
	}

	return commitments, rows.Err()
}

// ListFailedFulfillments бронирования с окончательно упавшим фулфилментом
func (r *BookingRepository) ListFailedFulfillments(ctx context.Context, limit int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE fulfillment_failed = TRUE
		ORDER BY updated_at DESC
		LIMIT $1
	`
	return r.list(ctx, "list failed fulfillments", query, limit)
}

// ListAwaitingFulfillment подтверждённые бронирования, фулфилмент которых
// ещё не отклонён окончательно
func (r *BookingRepository) ListAwaitingFulfillment(ctx context.Context, limit int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND fulfillment_failed = FALSE
		ORDER BY scheduled_at
		LIMIT $2
	`
	return r.list(ctx, "list bookings awaiting fulfillment", query, model.BookingStatusConfirmed, limit)
}

// ListByStatus бронирования в статусе, ближайшие первыми
func (r *BookingRepository) ListByStatus(ctx context.Context, status model.BookingStatus, limit int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1
		ORDER BY scheduled_at
		LIMIT $2
	`
	return r.list(ctx, "list bookings by status", query, status, limit)
}

func (r *BookingRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func blockingStatuses() []string {
	var out []string
	for _, s := range model.AllBookingStatuses {
		if s.OccupiesResource() {
			out = append(out, string(s))
		}
	}
	return out
}
