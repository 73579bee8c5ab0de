package clock

import (
	"fmt"
	"time"
)

// Interval полуоткрытый интервал [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval создаёт интервал длиной d, начиная со start
func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Duration возвращает длину интервала
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Valid проверяет, что конец строго после начала
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Overlaps проверяет пересечение полуоткрытых интервалов.
// Соседние интервалы ([9:00,10:00) и [10:00,11:00)) не пересекаются.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains проверяет, что o целиком лежит внутри i
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Widen расширяет интервал на d с обеих сторон (буфер между визитами)
func (i Interval) Widen(d time.Duration) Interval {
	if d <= 0 {
		return i
	}
	return Interval{Start: i.Start.Add(-d), End: i.End.Add(d)}
}

// In переводит обе границы в локацию loc
func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Steps режет окно на кандидатов длиной length с шагом step.
// Неполные хвосты отбрасываются: каждый кандидат целиком внутри окна.
func (i Interval) Steps(step, length time.Duration) []Interval {
	if step <= 0 || length <= 0 || !i.Valid() {
		return nil
	}

	var out []Interval
	for start := i.Start; !start.Add(length).After(i.End); start = start.Add(step) {
		out = append(out, NewInterval(start, length))
	}
	return out
}
