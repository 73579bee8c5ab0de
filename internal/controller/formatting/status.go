package formatting

import "github.com/Freeeeeet/notary_scheduler/internal/model"

// BookingStatusDisplay представляет отображение статуса бронирования
type BookingStatusDisplay struct {
	Emoji string
	Text  string
}

var bookingStatusDisplays = map[model.BookingStatus]BookingStatusDisplay{
	model.BookingStatusRequested:          {"📝", "Requested"},
	model.BookingStatusPaymentPending:     {"💳", "Awaiting deposit"},
	model.BookingStatusConfirmed:          {"✅", "Confirmed"},
	model.BookingStatusReadyForService:    {"📦", "Ready for service"},
	model.BookingStatusInProgress:         {"✍️", "In progress"},
	model.BookingStatusCompleted:          {"✔️", "Completed"},
	model.BookingStatusRequiresReschedule: {"🔁", "Requires reschedule"},
	model.BookingStatusNoShow:             {"🚷", "No-show"},
	model.BookingStatusCancelledByClient:  {"❌", "Cancelled by client"},
	model.BookingStatusCancelledByStaff:   {"🚫", "Cancelled by staff"},
	model.BookingStatusArchived:           {"🗄", "Archived"},
}

// GetBookingStatusDisplay возвращает emoji и текст для статуса бронирования
func GetBookingStatusDisplay(status model.BookingStatus) BookingStatusDisplay {
	if display, ok := bookingStatusDisplays[status]; ok {
		return display
	}
	return BookingStatusDisplay{"❓", "Unknown"}
}

// DemandEmoji значок загрузки дня
func DemandEmoji(level model.DemandLevel) string {
	switch level {
	case model.DemandLow:
		return "🟢"
	case model.DemandModerate:
		return "🟡"
	case model.DemandHigh:
		return "🔴"
	}
	return "⚪️"
}
