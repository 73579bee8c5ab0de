package booking

import (
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

// Переходы из исходной таблицы должны оставаться разрешены
func TestCoreTransitionsAllowed(t *testing.T) {
	pairs := [][2]model.BookingStatus{
		{model.BookingStatusRequested, model.BookingStatusConfirmed},
		{model.BookingStatusRequested, model.BookingStatusCancelledByStaff},
		{model.BookingStatusPaymentPending, model.BookingStatusConfirmed},
		{model.BookingStatusConfirmed, model.BookingStatusInProgress},
		{model.BookingStatusConfirmed, model.BookingStatusNoShow},
		{model.BookingStatusConfirmed, model.BookingStatusCancelledByStaff},
		{model.BookingStatusInProgress, model.BookingStatusCompleted},
		{model.BookingStatusInProgress, model.BookingStatusRequiresReschedule},
		{model.BookingStatusRequiresReschedule, model.BookingStatusConfirmed},
		{model.BookingStatusRequiresReschedule, model.BookingStatusCancelledByStaff},
		{model.BookingStatusNoShow, model.BookingStatusRequiresReschedule},
		{model.BookingStatusNoShow, model.BookingStatusArchived},
	}
	for _, p := range pairs {
		assert.True(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []model.BookingStatus{
		model.BookingStatusCompleted,
		model.BookingStatusCancelledByClient,
		model.BookingStatusCancelledByStaff,
		model.BookingStatusArchived,
	} {
		assert.True(t, IsTerminal(s), s)
		assert.Empty(t, Allowed(s))
	}
	assert.False(t, IsTerminal(model.BookingStatusConfirmed))
}

// Для всех пар вне таблицы Transition отклоняет и ничего не меняет
func TestTransitionClosure(t *testing.T) {
	for _, from := range model.AllBookingStatuses {
		for _, to := range model.AllBookingStatuses {
			b := &model.Booking{ID: "b1", Status: from, UpdatedAt: now.Add(-time.Hour)}
			before := *b

			err := Transition(b, to, now)
			if CanTransition(from, to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, b.Status)
				continue
			}

			require.Error(t, err, "%s -> %s", from, to)
			te, ok := model.AsInvalidTransition(err)
			require.True(t, ok)
			assert.Equal(t, from, te.From)
			assert.Equal(t, to, te.To)
			assert.ElementsMatch(t, Allowed(from), te.Allowed)
			assert.Equal(t, before, *b, "booking must be unchanged after rejected %s -> %s", from, to)
		}
	}
}

func TestNoShowCannotGoBackToConfirmed(t *testing.T) {
	b := &model.Booking{Status: model.BookingStatusNoShow}
	err := Transition(b, model.BookingStatusConfirmed, now)

	te, ok := model.AsInvalidTransition(err)
	require.True(t, ok)
	assert.ElementsMatch(t, []model.BookingStatus{model.BookingStatusRequiresReschedule, model.BookingStatusArchived}, te.Allowed)
	assert.Equal(t, model.BookingStatusNoShow, b.Status)
}

func TestTransitionSetsTimestamps(t *testing.T) {
	b := &model.Booking{Status: model.BookingStatusConfirmed}

	require.NoError(t, Transition(b, model.BookingStatusInProgress, now))
	require.NotNil(t, b.ActualStart)
	assert.Equal(t, now, *b.ActualStart)

	later := now.Add(45 * time.Minute)
	require.NoError(t, Transition(b, model.BookingStatusCompleted, later))
	require.NotNil(t, b.ActualEnd)
	assert.Equal(t, later, *b.ActualEnd)
	assert.Equal(t, later, b.UpdatedAt)

	ns := &model.Booking{Status: model.BookingStatusReadyForService}
	require.NoError(t, Transition(ns, model.BookingStatusNoShow, now))
	require.NotNil(t, ns.NoShowCheckedAt)

	c := &model.Booking{Status: model.BookingStatusRequested, CalendarContactID: "c-1"}
	require.NoError(t, Transition(c, model.BookingStatusCancelledByClient, now))
	require.NotNil(t, c.CancelledAt)
	assert.Equal(t, "c-1", c.CalendarContactID)
}

func TestAllowedReturnsCopy(t *testing.T) {
	a := Allowed(model.BookingStatusConfirmed)
	a[0] = model.BookingStatusArchived
	assert.NotEqual(t, model.BookingStatusArchived, Allowed(model.BookingStatusConfirmed)[0])
}
