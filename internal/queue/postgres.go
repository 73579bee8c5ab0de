package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	jobStatusPending = "pending"
	jobStatusDead    = "dead"
)

// PostgresQueue очередь поверх таблицы fulfillment_jobs.
// Задания берутся через FOR UPDATE SKIP LOCKED, так что несколько воркеров
// (в том числе в разных процессах) не получат одно задание одновременно.
// Ack/Retry/Fail сверяют attempt: выдача с истёкшей арендой устарела.
type PostgresQueue struct {
	pool  *pgxpool.Pool
	clock clock.Clock
	lease time.Duration
}

// NewPostgresQueue создаёт очередь в Postgres
func NewPostgresQueue(pool *pgxpool.Pool, c clock.Clock, lease time.Duration) *PostgresQueue {
	if c == nil {
		c = clock.Real{}
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &PostgresQueue{pool: pool, clock: c, lease: lease}
}

// Enqueue вставляет задание. Активное задание не трогается, отклонённое
// (dead) оживает с обнулённым счётчиком попыток.
func (q *PostgresQueue) Enqueue(ctx context.Context, bookingID string) (bool, error) {
	if bookingID == "" {
		return false, model.NewValidationError("booking_id", "is required")
	}

	query := `
		INSERT INTO fulfillment_jobs (id, booking_id, status, attempt, next_run_at, created_at, updated_at)
		VALUES ($1, $2, 'pending', 0, $3, $3, $3)
		ON CONFLICT (booking_id) DO UPDATE
		SET status = 'pending',
		    attempt = 0,
		    next_run_at = EXCLUDED.next_run_at,
		    last_error = NULL,
		    lease_expires_at = NULL,
		    updated_at = EXCLUDED.updated_at
		WHERE fulfillment_jobs.status = 'dead'
		RETURNING id
	`

	var id string
	err := q.pool.QueryRow(ctx, query, uuid.NewString(), bookingID, q.clock.Now()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue fulfillment job: %w", err)
	}

	return true, nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*model.FulfillmentJob, error) {
	now := q.clock.Now()

	query := `
		UPDATE fulfillment_jobs
		SET attempt = attempt + 1,
		    lease_expires_at = $2,
		    updated_at = $1
		WHERE id = (
			SELECT id FROM fulfillment_jobs
			WHERE status = 'pending'
			  AND next_run_at <= $1
			  AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
			ORDER BY next_run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, booking_id, attempt, next_run_at, last_error, lease_expires_at, created_at
	`

	var job model.FulfillmentJob
	err := q.pool.QueryRow(ctx, query, now, now.Add(q.lease)).Scan(
		&job.ID,
		&job.BookingID,
		&job.Attempt,
		&job.NextRunAt,
		&job.LastError,
		&job.LeaseExpiresAt,
		&job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue fulfillment job: %w", err)
	}

	return &job, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, job *model.FulfillmentJob) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM fulfillment_jobs WHERE id = $1 AND attempt = $2 AND status = 'pending'`, job.ID, job.Attempt)
	if err != nil {
		return fmt.Errorf("ack fulfillment job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Retry(ctx context.Context, job *model.FulfillmentJob, delay time.Duration, reason string) error {
	now := q.clock.Now()

	tag, err := q.pool.Exec(ctx, `
		UPDATE fulfillment_jobs
		SET next_run_at = $2, lease_expires_at = NULL, last_error = $3, updated_at = $4
		WHERE id = $1 AND attempt = $5 AND status = 'pending'
	`, job.ID, now.Add(delay), reason, now, job.Attempt)
	if err != nil {
		return fmt.Errorf("retry fulfillment job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Fail(ctx context.Context, job *model.FulfillmentJob, reason string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE fulfillment_jobs
		SET status = $2, lease_expires_at = NULL, last_error = $3, updated_at = $4
		WHERE id = $1 AND attempt = $5 AND status = 'pending'
	`, job.ID, jobStatusDead, reason, q.clock.Now(), job.Attempt)
	if err != nil {
		return fmt.Errorf("fail fulfillment job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM fulfillment_jobs WHERE status = $1`, jobStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}
