package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// MemoryStore Store в памяти процесса. Для тестов и локального запуска
// без базы. Все значения копируются на входе и выходе.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	services map[string]*model.Service
	bookings map[string]*model.Booking

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:    c,
		services: make(map[string]*model.Service),
		bookings: make(map[string]*model.Booking),
		locks:    make(map[string]*sync.Mutex),
	}
}

// PutService добавляет или заменяет услугу
func (s *MemoryStore) PutService(svc *model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *svc
	s.services[svc.ID] = &c
}

func (s *MemoryStore) LoadService(ctx context.Context, id string) (*model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
	}
	c := *svc
	return &c, nil
}

func (s *MemoryStore) ListServices(ctx context.Context) ([]*model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Service, 0, len(s.services))
	for _, svc := range s.services {
		if !svc.IsActive {
			continue
		}
		c := *svc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return fmt.Errorf("create booking: %s already exists", b.ID)
	}

	now := s.clock.Now()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bookings[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) LoadBooking(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) SaveBooking(ctx context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrNotFound)
	}
	if current.Version != b.Version {
		return fmt.Errorf("booking %s version %d: %w", b.ID, b.Version, model.ErrConcurrentUpdate)
	}

	b.Version++
	b.UpdatedAt = s.clock.Now()
	s.bookings[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) ListBookingsByStatus(ctx context.Context, status model.BookingStatus, limit int) ([]*model.Booking, error) {
	out := s.filter(func(b *model.Booking) bool { return b.Status == status })
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListFailedFulfillments(ctx context.Context, limit int) ([]*model.Booking, error) {
	out := s.filter(func(b *model.Booking) bool { return b.FulfillmentFailed })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListAwaitingFulfillment(ctx context.Context, limit int) ([]*model.Booking, error) {
	out := s.filter(func(b *model.Booking) bool {
		return b.Status == model.BookingStatusConfirmed && !b.FulfillmentFailed
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListCommitments(ctx context.Context, resource model.Resource, within clock.Interval) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Commitment
	for _, b := range s.bookings {
		if !b.Status.OccupiesResource() || !b.Resource.SamePool(resource) {
			continue
		}
		svc, ok := s.services[b.ServiceID]
		if !ok {
			continue
		}
		iv := clock.NewInterval(b.ScheduledAt, time.Duration(svc.DurationMinutes)*time.Minute)
		if !iv.Overlaps(within) {
			continue
		}
		out = append(out, model.Commitment{BookingID: b.ID, Resource: b.Resource, Interval: iv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

// WithResourceLock держит мьютекс пула ресурса на время fn
func (s *MemoryStore) WithResourceLock(ctx context.Context, resource model.Resource, fn func(ctx context.Context, st Store) error) error {
	l := s.lockFor(PoolKey(resource))
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

func (s *MemoryStore) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) filter(keep func(*model.Booking) bool) []*model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

func truncate(bookings []*model.Booking, limit int) []*model.Booking {
	if limit > 0 && len(bookings) > limit {
		return bookings[:limit]
	}
	return bookings
}
