package model

import (
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
)

// DayHours окно работы на день недели
type DayHours struct {
	Open  clock.TimeOfDay `json:"open"`
	Close clock.TimeOfDay `json:"close"`
}

// BusinessCalendar конфигурация рабочего времени. Владелец - конфигурация,
// движок доступности её только читает.
type BusinessCalendar struct {
	Location       *time.Location
	Hours          map[time.Weekday]DayHours
	Granularity    time.Duration
	MinLeadTime    time.Duration
	MaxHorizonDays int                 // 0 = без ограничения
	BufferMinutes  int                 // зазор между визитами
	Blackouts      map[string]struct{} // даты YYYY-MM-DD
	// ServiceOverrides переопределяет окно для конкретной услуги
	// (например, RON круглосуточно)
	ServiceOverrides map[string]DayHours
}

// IsBlackout проверяет, закрыт ли день
func (c *BusinessCalendar) IsBlackout(date time.Time) bool {
	if len(c.Blackouts) == 0 {
		return false
	}
	_, ok := c.Blackouts[clock.DateKey(date, c.Location)]
	return ok
}

// WindowFor возвращает окно работы для услуги в день date.
// ok == false, если в этот день приёма нет.
func (c *BusinessCalendar) WindowFor(serviceID string, date time.Time) (clock.Interval, bool) {
	day := clock.StartOfDay(date, c.Location)

	hours, ok := c.ServiceOverrides[serviceID]
	if !ok {
		hours, ok = c.Hours[day.Weekday()]
	}
	if !ok || hours.Close <= hours.Open {
		return clock.Interval{}, false
	}

	return clock.Interval{
		Start: hours.Open.On(day, c.Location),
		End:   hours.Close.On(day, c.Location),
	}, true
}

// Buffer зазор между визитами
func (c *BusinessCalendar) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}
