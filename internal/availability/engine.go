package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// Engine считает свободные слоты. Состояния нет, безопасен для
// параллельных вызовов.
type Engine struct {
	clock clock.Clock
}

// NewEngine создаёт движок доступности
func NewEngine(c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real{}
	}
	return &Engine{clock: c}
}

// GetSlots возвращает упорядоченные по началу слоты для услуги на дату.
//
// Пустой результат без ошибки означает "в этот день мест нет" (выходной,
// закрытая дата, всё занято). Отсутствие календаря - ErrUnconfiguredCalendar,
// это отдельная ситуация, обычно ошибка настройки.
func (e *Engine) GetSlots(service *model.Service, date time.Time, commitments []model.Commitment, cal *model.BusinessCalendar) ([]model.Slot, error) {
	if service == nil {
		return nil, model.NewValidationError("service", "is required")
	}
	if service.DurationMinutes <= 0 {
		return nil, model.NewValidationError("duration", fmt.Sprintf("must be positive, got %d", service.DurationMinutes))
	}
	if date.IsZero() {
		return nil, model.NewValidationError("date", "is required")
	}
	if cal == nil {
		return nil, model.ErrUnconfiguredCalendar
	}
	if cal.Granularity <= 0 {
		return nil, fmt.Errorf("%w: granularity must be positive", model.ErrUnconfiguredCalendar)
	}

	loc := cal.Location
	if loc == nil {
		loc = time.UTC
	}

	now := e.clock.Now()
	earliest := now.Add(cal.MinLeadTime)
	day := clock.DayInterval(date, loc)

	// Закрытые даты и дни, целиком ушедшие в прошлое с учётом lead time
	if cal.IsBlackout(day.Start) || !day.End.After(earliest) {
		return []model.Slot{}, nil
	}
	if cal.MaxHorizonDays > 0 && clock.DaysBetween(now, day.Start, loc) > cal.MaxHorizonDays {
		return []model.Slot{}, nil
	}

	window, ok := cal.WindowFor(service.ID, day.Start)
	if !ok {
		return []model.Slot{}, nil
	}

	candidates := window.Steps(cal.Granularity, service.Duration())
	if len(candidates) == 0 {
		return []model.Slot{}, nil
	}

	busy := blockingIntervals(service.Resource(), commitments, cal.Buffer())

	committed := 0
	free := make([]clock.Interval, 0, len(candidates))
	for _, c := range candidates {
		if overlapsAny(c, busy) {
			committed++
			continue
		}
		if c.Start.Before(earliest) || c.End.After(window.End) {
			continue
		}
		free = append(free, c)
	}

	level := DemandLevelFor(len(candidates), committed)

	slots := make([]model.Slot, 0, len(free))
	for _, c := range free {
		slots = append(slots, model.Slot{
			Start:       c.Start,
			End:         c.End,
			DemandLevel: level,
		})
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})

	return slots, nil
}

// IsAvailable проверяет, что интервал можно занять прямо сейчас:
// он совпадает с одним из вычисленных слотов.
func (e *Engine) IsAvailable(service *model.Service, start time.Time, commitments []model.Commitment, cal *model.BusinessCalendar) (bool, error) {
	slots, err := e.GetSlots(service, start, commitments, cal)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

// blockingIntervals оставляет занятость только своего пула ресурсов,
// расширенную на буфер между визитами
func blockingIntervals(resource model.Resource, commitments []model.Commitment, buffer time.Duration) []clock.Interval {
	out := make([]clock.Interval, 0, len(commitments))
	for _, c := range commitments {
		if !c.Resource.SamePool(resource) || !c.Interval.Valid() {
			continue
		}
		out = append(out, c.Interval.Widen(buffer))
	}
	return out
}

func overlapsAny(candidate clock.Interval, busy []clock.Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
