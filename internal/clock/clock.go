package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время. Доступность и ретраи берут "сейчас"
// отсюда, а не из time.Now напрямую.
type Clock interface {
	Now() time.Time
}

// Real системные часы
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Fixed часы для тестов, время двигается только вручную
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed создаёт часы, остановленные на t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает часы вперёд на d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set переставляет часы на t
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
