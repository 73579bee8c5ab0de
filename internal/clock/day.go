package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout формат календарной даты
const DateLayout = "2006-01-02"

// TimeOfDay время суток в минутах от полуночи
type TimeOfDay int

// ParseTimeOfDay разбирает строку вида "09:00" или "23:59"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	return TimeOfDay(hour*60 + minute), nil
}

// MustTimeOfDay как ParseTimeOfDay, но паникует. Только для констант и тестов.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On возвращает момент времени t в день date в локации loc.
// Через time.Date, поэтому переходы на летнее время считаются корректно.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// ParseDate разбирает дату YYYY-MM-DD в локации loc (полночь)
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// StartOfDay возвращает полночь дня t в локации loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayInterval возвращает сутки, содержащие t, в локации loc
func DayInterval(t time.Time, loc *time.Location) Interval {
	start := StartOfDay(t, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// DateKey возвращает ключ даты YYYY-MM-DD в локации loc
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// DaysBetween считает целые календарные дни от from до to в локации loc
func DaysBetween(from, to time.Time, loc *time.Location) int {
	a := StartOfDay(from, loc)
	b := StartOfDay(to, loc)
	// Делим по 24ч с округлением: день перехода на летнее время короче/длиннее
	hours := b.Sub(a).Hours()
	if hours >= 0 {
		return int((hours + 12) / 24)
	}
	return -int((-hours + 12) / 24)
}
