package queue

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/google/uuid"
)

// MemoryQueue очередь в памяти процесса. Для тестов и локального запуска,
// между перезапусками ничего не сохраняет.
type MemoryQueue struct {
	mu    sync.Mutex
	clock clock.Clock
	lease time.Duration
	jobs  map[string]*model.FulfillmentJob // booking_id -> задание
	dead  map[string]*model.FulfillmentJob
}

// NewMemoryQueue создаёт очередь в памяти
func NewMemoryQueue(c clock.Clock, lease time.Duration) *MemoryQueue {
	if c == nil {
		c = clock.Real{}
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryQueue{
		clock: c,
		lease: lease,
		jobs:  make(map[string]*model.FulfillmentJob),
		dead:  make(map[string]*model.FulfillmentJob),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, bookingID string) (bool, error) {
	if bookingID == "" {
		return false, model.NewValidationError("booking_id", "is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[bookingID]; ok {
		return false, nil
	}

	now := q.clock.Now()
	q.jobs[bookingID] = &model.FulfillmentJob{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		NextRunAt: now,
		CreatedAt: now,
	}
	delete(q.dead, bookingID)
	return true, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.FulfillmentJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()

	var picked *model.FulfillmentJob
	for _, j := range q.jobs {
		if j.NextRunAt.After(now) {
			continue
		}
		if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now) {
			continue
		}
		if picked == nil || j.NextRunAt.Before(picked.NextRunAt) {
			picked = j
		}
	}
	if picked == nil {
		return nil, nil
	}

	leaseUntil := now.Add(q.lease)
	picked.LeaseExpiresAt = &leaseUntil
	picked.Attempt++

	out := *picked
	return &out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job *model.FulfillmentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.owned(job); err != nil {
		return err
	}
	delete(q.jobs, job.BookingID)
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, job *model.FulfillmentJob, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(job)
	if err != nil {
		return err
	}
	j.NextRunAt = q.clock.Now().Add(delay)
	j.LeaseExpiresAt = nil
	j.LastError = &reason
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job *model.FulfillmentJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(job)
	if err != nil {
		return err
	}
	j.LeaseExpiresAt = nil
	j.LastError = &reason
	delete(q.jobs, job.BookingID)
	q.dead[job.BookingID] = j
	return nil
}

func (q *MemoryQueue) Pending(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

// Dead задание, окончательно отклонённое через Fail
func (q *MemoryQueue) Dead(bookingID string) (*model.FulfillmentJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.dead[bookingID]
	if !ok {
		return nil, false
	}
	out := *j
	return &out, true
}

// owned находит задание и проверяет, что это та же выдача.
// ID между выдачами не меняется, поэтому сверяем ещё и номер попытки:
// воркер с истёкшей арендой не может завершить чужую выдачу.
func (q *MemoryQueue) owned(job *model.FulfillmentJob) (*model.FulfillmentJob, error) {
	if job == nil {
		return nil, model.NewValidationError("job", "is required")
	}
	j, ok := q.jobs[job.BookingID]
	if !ok || j.ID != job.ID || j.Attempt != job.Attempt {
		return nil, model.ErrNotFound
	}
	return j, nil
}
