package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/repository/base"
)

type ServiceRepository struct {
	*base.Repository
}

func NewServiceRepository(db base.Querier) *ServiceRepository {
	return &ServiceRepository{Repository: base.NewRepository(db)}
}

const serviceColumns = `id, name, duration_minutes, remote, max_signers, max_documents, deposit_required, deposit_cents, is_active, created_at`

func scanService(row interface{ Scan(...any) error }) (*model.Service, error) {
	var s model.Service
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.DurationMinutes,
		&s.Remote,
		&s.MaxSigners,
		&s.MaxDocuments,
		&s.DepositRequired,
		&s.DepositCents,
		&s.IsActive,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID получает услугу по ID
func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*model.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`

	s, err := scanService(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get service by id: %w", err)
	}

	return s, nil
}

// ListActive получает все активные услуги
func (r *ServiceRepository) ListActive(ctx context.Context) ([]*model.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE is_active = TRUE ORDER BY name`

	rows, err := r.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []*model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}

	return services, rows.Err()
}

// Upsert создаёт или обновляет услугу (используется сидом справочника)
func (r *ServiceRepository) Upsert(ctx context.Context, s *model.Service) error {
	query := `
		INSERT INTO services (id, name, duration_minutes, remote, max_signers, max_documents, deposit_required, deposit_cents, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    duration_minutes = EXCLUDED.duration_minutes,
		    remote = EXCLUDED.remote,
		    max_signers = EXCLUDED.max_signers,
		    max_documents = EXCLUDED.max_documents,
		    deposit_required = EXCLUDED.deposit_required,
		    deposit_cents = EXCLUDED.deposit_cents,
		    is_active = EXCLUDED.is_active
		RETURNING created_at
	`

	err := r.QueryRow(
		ctx, query,
		s.ID,
		s.Name,
		s.DurationMinutes,
		s.Remote,
		s.MaxSigners,
		s.MaxDocuments,
		s.DepositRequired,
		s.DepositCents,
		s.IsActive,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}

	return nil
}
