package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newQueue() (*MemoryQueue, *clock.Fixed) {
	c := clock.NewFixed(start)
	return NewMemoryQueue(c, time.Minute), c
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, MaxAttempts: 3}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(0))

	capped := Backoff{Base: 10 * time.Second, Max: 30 * time.Second, MaxAttempts: 10}
	assert.Equal(t, 20*time.Second, capped.Delay(2))
	assert.Equal(t, 30*time.Second, capped.Delay(3))
	assert.Equal(t, 30*time.Second, capped.Delay(9))
}

func TestBackoffNonDecreasingAndBounded(t *testing.T) {
	for _, b := range []Backoff{DefaultBackoff, {Base: time.Second, MaxAttempts: 5}} {
		retries := 0
		prev := time.Duration(0)
		for attempt := 1; b.ShouldRetry(attempt); attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev)
			prev = d
			retries++
		}
		assert.Equal(t, b.MaxAttempts-1, retries)
	}
	assert.False(t, Backoff{}.ShouldRetry(1))
}

func TestEnqueueIsIdempotentPerBooking(t *testing.T) {
	q, _ := newQueue()
	ctx := context.Background()

	created, err := q.Enqueue(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.Enqueue(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, created)

	n, _ := q.Pending(ctx)
	assert.Equal(t, 1, n)

	_, err = q.Enqueue(ctx, "")
	assert.True(t, model.IsValidation(err))
}

func TestDequeueLeaseHidesJob(t *testing.T) {
	q, c := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempt)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "leased job must be invisible")

	// воркер "упал": аренда истекла, задание выдаётся снова
	c.Advance(2 * time.Minute)
	again, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestRetryDelaysRedelivery(t *testing.T) {
	q, c := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")

	job, _ := q.Dequeue(ctx)
	require.NoError(t, q.Retry(ctx, job, 10*time.Second, "ghl down"))

	none, _ := q.Dequeue(ctx)
	assert.Nil(t, none)

	c.Advance(10 * time.Second)
	job, _ = q.Dequeue(ctx)
	require.NotNil(t, job)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "ghl down", *job.LastError)
}

func TestAckAndFail(t *testing.T) {
	q, _ := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")
	_, _ = q.Enqueue(ctx, "b2")

	j1, _ := q.Dequeue(ctx)
	j2, _ := q.Dequeue(ctx)
	require.NotNil(t, j1)
	require.NotNil(t, j2)

	require.NoError(t, q.Ack(ctx, j1))
	require.NoError(t, q.Fail(ctx, j2, "exhausted"))

	n, _ := q.Pending(ctx)
	assert.Zero(t, n)

	dead, ok := q.Dead(j2.BookingID)
	require.True(t, ok)
	assert.Equal(t, "exhausted", *dead.LastError)

	assert.True(t, errors.Is(q.Ack(ctx, j1), model.ErrNotFound))

	// после Fail бронирование можно поставить в очередь заново
	created, err := q.Enqueue(ctx, j2.BookingID)
	require.NoError(t, err)
	assert.True(t, created)
	_, ok = q.Dead(j2.BookingID)
	assert.False(t, ok)
}

func TestStaleDeliveryCannotAck(t *testing.T) {
	q, c := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")

	first, _ := q.Dequeue(ctx)
	require.NoError(t, q.Ack(ctx, first))
	_, _ = q.Enqueue(ctx, "b1")
	c.Advance(time.Second)

	assert.True(t, errors.Is(q.Ack(ctx, first), model.ErrNotFound))
}

func TestExpiredLeaseHolderCannotSettleRedelivery(t *testing.T) {
	q, c := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")

	stale, err := q.Dequeue(ctx)
	require.NoError(t, err)
	c.Advance(10 * time.Minute)

	current, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, stale.ID, current.ID)
	assert.Equal(t, 2, current.Attempt)

	assert.True(t, errors.Is(q.Ack(ctx, stale), model.ErrNotFound))
	assert.True(t, errors.Is(q.Retry(ctx, stale, time.Second, "late"), model.ErrNotFound))
	assert.True(t, errors.Is(q.Fail(ctx, stale, "late"), model.ErrNotFound))

	require.NoError(t, q.Retry(ctx, current, time.Second, "boom"))
	pending, _ := q.Pending(ctx)
	assert.Equal(t, 1, pending)

	c.Advance(time.Second)
	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 3, next.Attempt)
}

func TestConcurrentDequeueDeliversOnce(t *testing.T) {
	q, _ := newQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b1")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.Dequeue(ctx)
			if err == nil && job != nil {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, got)
}
