package booking

import (
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// transitions таблица допустимых переходов. Любой переход вне таблицы
// отклоняется целиком, частично ничего не применяется.
//
// Асимметрия (например, нет пути NoShow -> Confirmed) сохранена намеренно,
// бизнес-правила из неё не выводятся.
var transitions = map[model.BookingStatus][]model.BookingStatus{
	model.BookingStatusRequested: {
		model.BookingStatusConfirmed,
		model.BookingStatusCancelledByStaff,
		model.BookingStatusCancelledByClient,
	},
	model.BookingStatusPaymentPending: {
		model.BookingStatusConfirmed,
		model.BookingStatusCancelledByStaff,
		model.BookingStatusCancelledByClient,
	},
	model.BookingStatusConfirmed: {
		model.BookingStatusReadyForService,
		model.BookingStatusInProgress,
		model.BookingStatusNoShow,
		model.BookingStatusCancelledByStaff,
		model.BookingStatusCancelledByClient,
	},
	model.BookingStatusReadyForService: {
		model.BookingStatusInProgress,
		model.BookingStatusNoShow,
		model.BookingStatusCancelledByStaff,
		model.BookingStatusCancelledByClient,
	},
	model.BookingStatusInProgress: {
		model.BookingStatusCompleted,
		model.BookingStatusRequiresReschedule,
	},
	model.BookingStatusRequiresReschedule: {
		model.BookingStatusConfirmed,
		model.BookingStatusCancelledByStaff,
	},
	model.BookingStatusNoShow: {
		model.BookingStatusRequiresReschedule,
		model.BookingStatusArchived,
	},
	// Терминальные
	model.BookingStatusCompleted:         {},
	model.BookingStatusCancelledByClient: {},
	model.BookingStatusCancelledByStaff:  {},
	model.BookingStatusArchived:          {},
}

// Allowed возвращает копию списка допустимых целевых статусов
func Allowed(from model.BookingStatus) []model.BookingStatus {
	allowed := transitions[from]
	out := make([]model.BookingStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition проверяет переход по таблице
func CanTransition(from, to model.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal статус без исходящих переходов
func IsTerminal(status model.BookingStatus) bool {
	allowed, known := transitions[status]
	return known && len(allowed) == 0
}

// Validate возвращает *model.InvalidTransitionError, если переход запрещён
func Validate(from, to model.BookingStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &model.InvalidTransitionError{From: from, To: to, Allowed: Allowed(from)}
}

// Transition проверяет переход и атомарно применяет статус вместе с
// сопутствующими отметками времени. При ошибке бронирование не меняется.
func Transition(b *model.Booking, to model.BookingStatus, now time.Time) error {
	if err := Validate(b.Status, to); err != nil {
		return err
	}

	ts := now
	switch to {
	case model.BookingStatusInProgress:
		b.ActualStart = &ts
	case model.BookingStatusCompleted:
		b.ActualEnd = &ts
	case model.BookingStatusNoShow:
		b.NoShowCheckedAt = &ts
	case model.BookingStatusCancelledByClient, model.BookingStatusCancelledByStaff:
		b.CancelledAt = &ts
	}

	b.Status = to
	b.UpdatedAt = now
	return nil
}
