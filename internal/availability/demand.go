package availability

import "github.com/Freeeeeet/notary_scheduler/internal/model"

// Пороги уровня спроса, в процентах занятых кандидатов дня:
//
//	занято < 33%  -> low
//	занято < 66%  -> moderate
//	иначе         -> high
const (
	lowDemandPercent      = 33
	moderateDemandPercent = 66
)

// DemandLevelFor чистая функция от (всего кандидатов, занято кандидатов)
func DemandLevelFor(total, committed int) model.DemandLevel {
	if total <= 0 || committed <= 0 {
		return model.DemandLow
	}
	if committed > total {
		committed = total
	}

	percent := committed * 100 / total
	switch {
	case percent < lowDemandPercent:
		return model.DemandLow
	case percent < moderateDemandPercent:
		return model.DemandModerate
	default:
		return model.DemandHigh
	}
}
