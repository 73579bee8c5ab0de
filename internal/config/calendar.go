package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/spf13/viper"
)

// hoursFile окно дня в YAML: {open: "09:00", close: "17:00"}.
// closed: true убирает день целиком (значения по умолчанию сливаются по ключам).
type hoursFile struct {
	Open   string `mapstructure:"open"`
	Close  string `mapstructure:"close"`
	Closed bool   `mapstructure:"closed"`
}

type calendarFile struct {
	Timezone           string               `mapstructure:"timezone"`
	GranularityMinutes int                  `mapstructure:"granularity_minutes"`
	MinLeadTime        time.Duration        `mapstructure:"min_lead_time"`
	MaxHorizonDays     int                  `mapstructure:"max_horizon_days"`
	BufferMinutes      int                  `mapstructure:"buffer_minutes"`
	Hours              map[string]hoursFile `mapstructure:"hours"`
	Blackouts          []string             `mapstructure:"blackouts"` // даты в кавычках: "2025-12-25"
	ServiceOverrides   map[string]hoursFile `mapstructure:"service_overrides"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func setCalendarDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "America/Chicago")
	v.SetDefault("granularity_minutes", 30)
	v.SetDefault("min_lead_time", "2h")
	v.SetDefault("max_horizon_days", 60)
	v.SetDefault("buffer_minutes", 15)

	weekday := map[string]any{"open": "09:00", "close": "17:00"}
	weekend := map[string]any{"open": "10:00", "close": "15:00"}
	v.SetDefault("hours", map[string]any{
		"monday":    weekday,
		"tuesday":   weekday,
		"wednesday": weekday,
		"thursday":  weekday,
		"friday":    weekday,
		"saturday":  weekend,
		"sunday":    weekend,
	})
	v.SetDefault("service_overrides", map[string]any{
		"ron":            map[string]any{"open": "00:00", "close": "24:00"},
		"extended-hours": map[string]any{"open": "07:00", "close": "21:00"},
	})
}

// LoadCalendar читает бизнес-календарь из YAML. Пустой path = значения по умолчанию.
func LoadCalendar(path string) (*model.BusinessCalendar, error) {
	v := viper.New()
	setCalendarDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read calendar file: %w", err)
		}
	}

	var f calendarFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	return f.build()
}

func (f calendarFile) build() (*model.BusinessCalendar, error) {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", f.Timezone, err)
	}
	if f.GranularityMinutes <= 0 {
		return nil, fmt.Errorf("granularity_minutes must be positive, got %d", f.GranularityMinutes)
	}
	if f.BufferMinutes < 0 {
		return nil, fmt.Errorf("buffer_minutes must not be negative, got %d", f.BufferMinutes)
	}

	cal := &model.BusinessCalendar{
		Location:         loc,
		Hours:            make(map[time.Weekday]model.DayHours, len(f.Hours)),
		Granularity:      time.Duration(f.GranularityMinutes) * time.Minute,
		MinLeadTime:      f.MinLeadTime,
		MaxHorizonDays:   f.MaxHorizonDays,
		BufferMinutes:    f.BufferMinutes,
		Blackouts:        make(map[string]struct{}, len(f.Blackouts)),
		ServiceOverrides: make(map[string]model.DayHours, len(f.ServiceOverrides)),
	}

	for name, h := range f.Hours {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if h.Closed {
			continue
		}
		hours, err := h.parse()
		if err != nil {
			return nil, fmt.Errorf("hours %s: %w", name, err)
		}
		cal.Hours[day] = hours
	}

	for serviceID, h := range f.ServiceOverrides {
		if h.Closed {
			continue
		}
		hours, err := h.parse()
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", serviceID, err)
		}
		cal.ServiceOverrides[serviceID] = hours
	}

	for _, d := range f.Blackouts {
		date, err := clock.ParseDate(d, loc)
		if err != nil {
			return nil, fmt.Errorf("blackout %q: %w", d, err)
		}
		cal.Blackouts[clock.DateKey(date, loc)] = struct{}{}
	}

	return cal, nil
}

func (h hoursFile) parse() (model.DayHours, error) {
	open, err := clock.ParseTimeOfDay(h.Open)
	if err != nil {
		return model.DayHours{}, err
	}
	closeAt, err := clock.ParseTimeOfDay(h.Close)
	if err != nil {
		return model.DayHours{}, err
	}
	if closeAt <= open {
		return model.DayHours{}, fmt.Errorf("close %s must be after open %s", h.Close, h.Open)
	}
	return model.DayHours{Open: open, Close: closeAt}, nil
}
