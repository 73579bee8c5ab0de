package model

import "time"

// DemandLevel подсказка о загрузке дня. Только метаданные, на корректность не влияет.
type DemandLevel string

const (
	DemandLow      DemandLevel = "low"
	DemandModerate DemandLevel = "moderate"
	DemandHigh     DemandLevel = "high"
)

// Slot вычисляемый кандидат на запись. Не хранится, идентичности кроме времени нет.
type Slot struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	DemandLevel DemandLevel `json:"demand_level"`
}
