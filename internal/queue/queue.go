package queue

import (
	"context"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// Queue очередь заданий фулфилмента.
//
// Доставка at-least-once: задание, взятое воркером, скрыто на время аренды
// (lease). Если воркер упал и не вызвал Ack/Retry/Fail, задание снова
// становится видимым после истечения аренды. Порядок между заданиями
// не гарантируется.
//
// На одно бронирование существует не больше одного активного задания:
// повторный Enqueue, пока задание не завершено, ничего не делает.
type Queue interface {
	// Enqueue ставит задание для бронирования. created == false, если
	// задание уже было в очереди.
	Enqueue(ctx context.Context, bookingID string) (created bool, err error)
	// Dequeue берёт готовое задание в аренду. nil, nil если готовых нет.
	Dequeue(ctx context.Context) (*model.FulfillmentJob, error)
	// Ack успешное завершение, задание удаляется
	Ack(ctx context.Context, job *model.FulfillmentJob) error
	// Retry возвращает задание в очередь через delay
	Retry(ctx context.Context, job *model.FulfillmentJob, delay time.Duration, reason string) error
	// Fail окончательный отказ, задание больше не выдаётся
	Fail(ctx context.Context, job *model.FulfillmentJob, reason string) error
	// Pending количество заданий, ожидающих выполнения (включая арендованные)
	Pending(ctx context.Context) (int, error)
}

// DefaultLease время аренды задания воркером
const DefaultLease = 2 * time.Minute

// Backoff экспоненциальная задержка между попытками.
// Delay(n) = Base * 2^(n-1), но не больше Max (если Max > 0).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff 3 попытки, 2s, 4s, с потолком 30s
var DefaultBackoff = Backoff{
	Base:        2 * time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 3,
}

// Delay задержка перед повтором после попытки attempt (с 1)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ShouldRetry можно ли повторить после неудачной попытки attempt.
// Всего попыток не больше MaxAttempts, т.е. повторов не больше MaxAttempts-1.
func (b Backoff) ShouldRetry(attempt int) bool {
	limit := b.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	return attempt < limit
}
