package model

import (
	"strings"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
)

// Resource то, что занимает бронирование: выездной агент или удалённый пул
type Resource string

const (
	ResourceVirtual      Resource = "virtual"
	ResourceDefaultAgent Resource = "agent:default"
)

// IsRemote проверяет, относится ли ресурс к удалённому пулу
func (r Resource) IsRemote() bool {
	return r == ResourceVirtual
}

// SamePool проверяет, что два ресурса из одного пула.
// Удалённые услуги не конфликтуют с выездными и наоборот.
func (r Resource) SamePool(o Resource) bool {
	if r.IsRemote() || o.IsRemote() {
		return r.IsRemote() && o.IsRemote()
	}
	return strings.EqualFold(string(r), string(o))
}

// Commitment занятый интервал существующего бронирования на ресурсе
type Commitment struct {
	BookingID string         `json:"booking_id"`
	Resource  Resource       `json:"resource"`
	Interval  clock.Interval `json:"interval"`
}
