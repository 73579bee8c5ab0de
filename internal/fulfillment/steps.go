package fulfillment

import (
	"fmt"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// StepResult итог одного шага. Закрытый набор: Done, Skipped, Failed.
type StepResult interface {
	StepName() model.Step
	result() string
}

// Done шаг выполнен в этой попытке
type Done struct {
	Step model.Step
}

// Skipped шаг не выполнялся: уже сделан раньше или не нужен
type Skipped struct {
	Step   model.Step
	Reason string
}

// Failed шаг упал на внешней системе
type Failed struct {
	Step model.Step
	Err  *model.ExternalSystemError
}

func (r Done) StepName() model.Step    { return r.Step }
func (r Skipped) StepName() model.Step { return r.Step }
func (r Failed) StepName() model.Step  { return r.Step }

func (Done) result() string    { return "done" }
func (Skipped) result() string { return "skipped" }
func (Failed) result() string  { return "failed" }

// requiredSteps шаги, без которых фулфилмент не завершён
var requiredSteps = map[model.Step]bool{
	model.StepCalendarContact:     true,
	model.StepCalendarAppointment: true,
	model.StepRemoteSession:       true,
}

// Summary свёртка результатов шагов
type Summary struct {
	Results []StepResult
	// FirstFailure первая ошибка обязательного шага
	FirstFailure *model.ExternalSystemError
	// NotificationErr ошибка уведомления, на исход не влияет
	NotificationErr *model.ExternalSystemError
}

// Succeeded все обязательные шаги выполнены или пропущены
func (s Summary) Succeeded() bool {
	return s.FirstFailure == nil
}

// Summarize сворачивает результаты. Каждый вариант обрабатывается явно.
func Summarize(results []StepResult) Summary {
	sum := Summary{Results: results}
	for _, r := range results {
		switch r := r.(type) {
		case Done, Skipped:
		case Failed:
			if !requiredSteps[r.Step] {
				if sum.NotificationErr == nil {
					sum.NotificationErr = r.Err
				}
				continue
			}
			if sum.FirstFailure == nil {
				sum.FirstFailure = r.Err
			}
		default:
			panic(fmt.Sprintf("unknown step result %T", r))
		}
	}
	return sum
}
