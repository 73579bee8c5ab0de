package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store хранилище бронирований и справочника услуг
type Store interface {
	LoadService(ctx context.Context, id string) (*model.Service, error)
	ListServices(ctx context.Context) ([]*model.Service, error)

	CreateBooking(ctx context.Context, b *model.Booking) error
	LoadBooking(ctx context.Context, id string) (*model.Booking, error)
	// SaveBooking сохраняет с проверкой Version, при гонке ErrConcurrentUpdate
	SaveBooking(ctx context.Context, b *model.Booking) error
	ListBookingsByStatus(ctx context.Context, status model.BookingStatus, limit int) ([]*model.Booking, error)
	ListFailedFulfillments(ctx context.Context, limit int) ([]*model.Booking, error)
	// ListAwaitingFulfillment Confirmed без окончательного отказа фулфилмента
	ListAwaitingFulfillment(ctx context.Context, limit int) ([]*model.Booking, error)

	// ListCommitments занятость пула ресурса, пересекающая интервал
	ListCommitments(ctx context.Context, resource model.Resource, within clock.Interval) ([]model.Commitment, error)

	// WithResourceLock выполняет fn под эксклюзивной блокировкой пула ресурса.
	// Store внутри fn видит те же данные, что и блокировка (для Postgres это
	// одна транзакция).
	WithResourceLock(ctx context.Context, resource model.Resource, fn func(ctx context.Context, s Store) error) error
}

// PostgresStore Store поверх pgx
type PostgresStore struct {
	pool     *pgxpool.Pool // nil внутри транзакции
	tx       pgx.Tx
	services *ServiceRepository
	bookings *BookingRepository
}

// NewPostgresStore создаёт хранилище на пуле соединений
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		services: NewServiceRepository(pool),
		bookings: NewBookingRepository(pool),
	}
}

func newTxStore(tx pgx.Tx) *PostgresStore {
	return &PostgresStore{
		tx:       tx,
		services: NewServiceRepository(tx),
		bookings: NewBookingRepository(tx),
	}
}

func (s *PostgresStore) LoadService(ctx context.Context, id string) (*model.Service, error) {
	return s.services.GetByID(ctx, id)
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]*model.Service, error) {
	return s.services.ListActive(ctx)
}

// UpsertService сид справочника услуг
func (s *PostgresStore) UpsertService(ctx context.Context, svc *model.Service) error {
	return s.services.Upsert(ctx, svc)
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	return s.bookings.Create(ctx, b)
}

func (s *PostgresStore) LoadBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *PostgresStore) SaveBooking(ctx context.Context, b *model.Booking) error {
	return s.bookings.Update(ctx, b)
}

func (s *PostgresStore) ListBookingsByStatus(ctx context.Context, status model.BookingStatus, limit int) ([]*model.Booking, error) {
	return s.bookings.ListByStatus(ctx, status, limit)
}

func (s *PostgresStore) ListFailedFulfillments(ctx context.Context, limit int) ([]*model.Booking, error) {
	return s.bookings.ListFailedFulfillments(ctx, limit)
}

func (s *PostgresStore) ListAwaitingFulfillment(ctx context.Context, limit int) ([]*model.Booking, error) {
	return s.bookings.ListAwaitingFulfillment(ctx, limit)
}

func (s *PostgresStore) ListCommitments(ctx context.Context, resource model.Resource, within clock.Interval) ([]model.Commitment, error) {
	return s.bookings.ListCommitments(ctx, resource, within)
}

// WithResourceLock берёт pg_advisory_xact_lock на ключ пула; блокировка
// держится до конца транзакции
func (s *PostgresStore) WithResourceLock(ctx context.Context, resource model.Resource, fn func(ctx context.Context, s Store) error) error {
	if s.tx != nil {
		if err := acquireResourceLock(ctx, s.tx, resource); err != nil {
			return err
		}
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireResourceLock(ctx, tx, resource); err != nil {
		return err
	}

	if err := fn(ctx, newTxStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func acquireResourceLock(ctx context.Context, db base.Querier, resource model.Resource) error {
	if _, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, PoolKey(resource)); err != nil {
		return fmt.Errorf("lock resource %s: %w", resource, err)
	}
	return nil
}

// PoolKey ключ блокировки: весь удалённый пул один, выездные агенты
// без учёта регистра
func PoolKey(resource model.Resource) string {
	if resource.IsRemote() {
		return "resource:" + string(model.ResourceVirtual)
	}
	return "resource:" + strings.ToLower(string(resource))
}
