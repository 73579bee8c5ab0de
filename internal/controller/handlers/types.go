package handlers

import (
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"go.uber.org/zap"
)

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	bookingService *service.BookingService
	staffIDs       map[int64]bool
	logger         *zap.Logger
}

// NewHandlers создаёт новый обработчик команд.
// staffIDs Telegram ID сотрудников, остальным бот отвечает отказом.
func NewHandlers(bookingService *service.BookingService, staffIDs []int64, logger *zap.Logger) *Handlers {
	ids := make(map[int64]bool, len(staffIDs))
	for _, id := range staffIDs {
		ids[id] = true
	}
	return &Handlers{
		bookingService: bookingService,
		staffIDs:       ids,
		logger:         logger,
	}
}
