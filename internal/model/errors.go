package model

import (
	"errors"
	"fmt"
	"strings"
)

// Общие ошибки ядра
var (
	ErrNotFound             = errors.New("not found")
	ErrUnavailableSlot      = errors.New("slot is no longer available")
	ErrUnconfiguredCalendar = errors.New("business calendar is not configured")
	ErrConcurrentUpdate     = errors.New("booking was modified concurrently")
)

// ValidationError некорректный ввод. Не ретраится, сразу возвращается вызывающему.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError создаёт ошибку валидации
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError отказ машины состояний, с допустимыми статусами для UI
type InvalidTransitionError struct {
	From    BookingStatus
	To      BookingStatus
	Allowed []BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %s)", e.From, e.To, strings.Join(allowed, ", "))
}

// ExternalSystemError ошибка вызова внешней системы на конкретном шаге
type ExternalSystemError struct {
	System string
	Step   Step
	Err    error
}

func (e *ExternalSystemError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.System, e.Step, e.Err)
}

func (e *ExternalSystemError) Unwrap() error {
	return e.Err
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsInvalidTransition достаёт InvalidTransitionError из цепочки
func AsInvalidTransition(err error) (*InvalidTransitionError, bool) {
	var te *InvalidTransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
