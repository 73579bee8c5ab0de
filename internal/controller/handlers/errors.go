package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// ErrUsage неверные аргументы команды
var ErrUsage = errors.New("invalid command usage")

// ErrorMessage возвращает пользовательское сообщение для ошибки
func ErrorMessage(err error) string {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return "❌ " + ve.Error()
	case errors.Is(err, model.ErrNotFound):
		return "❌ Not found"
	case errors.Is(err, model.ErrUnavailableSlot):
		return "❌ That slot is no longer available"
	case errors.Is(err, model.ErrConcurrentUpdate):
		return "❌ Booking was changed by someone else, try again"
	case errors.Is(err, model.ErrUnconfiguredCalendar):
		return "❌ Business calendar is not configured"
	}

	if te, ok := model.AsInvalidTransition(err); ok {
		if len(te.Allowed) == 0 {
			return fmt.Sprintf("❌ %s is a final status", te.From)
		}
		allowed := make([]string, 0, len(te.Allowed))
		for _, s := range te.Allowed {
			allowed = append(allowed, string(s))
		}
		return fmt.Sprintf("❌ Cannot move %s → %s\nAllowed: %s", te.From, te.To, strings.Join(allowed, ", "))
	}

	return "❌ Something went wrong"
}
