package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/controller/formatting"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
)

// FormatBooking форматирует бронирование для отображения
func FormatBooking(b *model.Booking, loc *time.Location) string {
	display := formatting.GetBookingStatusDisplay(b.Status)
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Booking %s\n\n", display.Emoji, b.ID)
	fmt.Fprintf(&sb, "📊 Status: %s\n", display.Text)
	if b.Service != nil {
		fmt.Fprintf(&sb, "🧾 Service: %s (%s)\n", b.Service.Name, formatting.FormatDuration(b.Service.DurationMinutes))
		if b.Service.DepositRequired {
			fmt.Fprintf(&sb, "💵 Deposit: %s\n", formatting.FormatCents(b.Service.DepositCents))
		}
	}
	if !b.ScheduledAt.IsZero() {
		fmt.Fprintf(&sb, "📅 When: %s\n", formatting.FormatDateTime(b.ScheduledAt.In(loc)))
	}
	fmt.Fprintf(&sb, "👤 Signer: %s <%s>\n", b.Signer.Name, b.Signer.Email)
	fmt.Fprintf(&sb, "📍 Location: %s\n", b.Location)

	if b.CalendarAppointmentID != "" {
		fmt.Fprintf(&sb, "🗓 Calendar: %s\n", b.CalendarAppointmentID)
	}
	if b.RemoteSessionURL != "" {
		fmt.Fprintf(&sb, "💻 Session: %s\n", b.RemoteSessionURL)
	}
	if b.FulfillmentAttempts > 0 {
		fmt.Fprintf(&sb, "🔄 Fulfillment attempts: %d\n", b.FulfillmentAttempts)
	}
	if b.FulfillmentFailed {
		sb.WriteString("⚠️ Fulfillment failed, use /requeue to retry\n")
	}
	if b.FulfillmentError != nil {
		fmt.Fprintf(&sb, "💬 Last error: %s\n", *b.FulfillmentError)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatSlots список слотов на день
func FormatSlots(serviceID string, date time.Time, slots []model.Slot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	header := fmt.Sprintf("🗓 %s on %s", serviceID, date.In(loc).Format("Mon Jan 2, 2006"))
	if len(slots) == 0 {
		return header + "\n\nNo free slots."
	}

	lines := make([]string, 0, len(slots))
	for _, s := range slots {
		lines = append(lines, fmt.Sprintf("%s %s",
			formatting.DemandEmoji(s.DemandLevel),
			formatting.FormatTimeRange(s.Start.In(loc), s.End.In(loc))))
	}
	return fmt.Sprintf("%s (%d free)\n\n%s", header, len(slots), strings.Join(lines, "\n"))
}

// commandArgs аргументы после команды: "/transition abc completed" -> [abc completed]
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
