package model

import "time"

// Service справочная услуга (выездная или удалённая). Для ядра только чтение.
type Service struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	Remote          bool      `json:"remote"`      // RON: выполняется удалённо
	MaxSigners      int       `json:"max_signers"` // 0 = без ограничения
	MaxDocuments    int       `json:"max_documents"`
	DepositRequired bool      `json:"deposit_required"`
	DepositCents    int       `json:"deposit_cents"` // в центах
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Duration длительность услуги
func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Resource пул ресурсов, который занимает услуга
func (s *Service) Resource() Resource {
	if s.Remote {
		return ResourceVirtual
	}
	return ResourceDefaultAgent
}
