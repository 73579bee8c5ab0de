package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/booking"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/controller/formatting"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const listLimit = 20

const helpText = "📚 Staff commands:\n\n" +
	"/booking <id> - Booking details\n" +
	"/transition <id> <status> - Change booking status\n" +
	"/bookings [status] - Bookings in a status (default: confirmed)\n" +
	"/slots <service> <YYYY-MM-DD> - Free slots for a day\n" +
	"/failed - Bookings with failed fulfillment\n" +
	"/requeue <id> - Retry failed fulfillment\n" +
	"/help - Show this help"

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if _, ok := h.requireStaff(ctx, b, update); !ok {
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID,
		fmt.Sprintf("👋 Hi, %s!\n\nYou will get fulfillment alerts in this chat.\n\n%s",
			update.Message.From.FirstName, helpText))
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if _, ok := h.requireStaff(ctx, b, update); !ok {
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, helpText)
}

// HandleBooking обрабатывает /booking <id>
func (h *Handlers) HandleBooking(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, func(ctx context.Context, _ model.Actor, args []string) (string, error) {
		return h.bookingReply(ctx, args)
	})
}

// HandleTransition обрабатывает /transition <id> <status>
func (h *Handlers) HandleTransition(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, h.transitionReply)
}

// HandleBookings обрабатывает /bookings [status]
func (h *Handlers) HandleBookings(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, func(ctx context.Context, _ model.Actor, args []string) (string, error) {
		return h.bookingsReply(ctx, args)
	})
}

// HandleSlots обрабатывает /slots <service> <date>
func (h *Handlers) HandleSlots(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, func(ctx context.Context, _ model.Actor, args []string) (string, error) {
		return h.slotsReply(ctx, args)
	})
}

// HandleFailed обрабатывает /failed
func (h *Handlers) HandleFailed(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, func(ctx context.Context, _ model.Actor, _ []string) (string, error) {
		return h.failedReply(ctx)
	})
}

// HandleRequeue обрабатывает /requeue <id>
func (h *Handlers) HandleRequeue(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.run(ctx, b, update, h.requeueReply)
}

type replyFunc func(ctx context.Context, actor model.Actor, args []string) (string, error)

// run общая обвязка команды: проверка сотрудника, разбор аргументов, ответ
func (h *Handlers) run(ctx context.Context, b *bot.Bot, update *models.Update, fn replyFunc) {
	actor, ok := h.requireStaff(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	text, err := fn(ctx, actor, commandArgs(update.Message.Text))
	if err != nil {
		if text == "" {
			text = ErrorMessage(err)
		}
		h.logger.Info("Bot command failed",
			zap.String("command", update.Message.Text),
			zap.String("actor", actor.String()),
			zap.Error(err))
		h.sendError(ctx, b, chatID, text)
		return
	}
	h.sendMessage(ctx, b, chatID, text)
}

func (h *Handlers) location() *time.Location {
	if cal := h.bookingService.Calendar(); cal != nil && cal.Location != nil {
		return cal.Location
	}
	return time.UTC
}

func (h *Handlers) bookingReply(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /booking <id>", ErrUsage
	}
	b, err := h.bookingService.GetBooking(ctx, args[0])
	if err != nil {
		return "", err
	}

	text := FormatBooking(b, h.location())
	if next := booking.Allowed(b.Status); len(next) > 0 {
		names := make([]string, 0, len(next))
		for _, s := range next {
			names = append(names, string(s))
		}
		text += "\n\n➡️ Next: " + strings.Join(names, ", ")
	}
	return text, nil
}

func (h *Handlers) transitionReply(ctx context.Context, actor model.Actor, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /transition <id> <status>", ErrUsage
	}
	to, ok := model.ParseBookingStatus(strings.ToLower(args[1]))
	if !ok {
		return fmt.Sprintf("❌ Unknown status %q", args[1]), ErrUsage
	}

	b, err := h.bookingService.TransitionBooking(ctx, args[0], to, actor)
	if err != nil {
		return "", err
	}
	display := formatting.GetBookingStatusDisplay(b.Status)
	return fmt.Sprintf("%s Booking %s is now %s", display.Emoji, b.ID, display.Text), nil
}

func (h *Handlers) bookingsReply(ctx context.Context, args []string) (string, error) {
	status := model.BookingStatusConfirmed
	if len(args) > 0 {
		st, ok := model.ParseBookingStatus(strings.ToLower(args[0]))
		if !ok {
			return fmt.Sprintf("❌ Unknown status %q", args[0]), ErrUsage
		}
		status = st
	}

	bookings, err := h.bookingService.ListBookings(ctx, status, listLimit)
	if err != nil {
		return "", err
	}
	display := formatting.GetBookingStatusDisplay(status)
	if len(bookings) == 0 {
		return fmt.Sprintf("%s No bookings in %s", display.Emoji, display.Text), nil
	}
	return fmt.Sprintf("%s %s (%d)\n\n%s", display.Emoji, display.Text, len(bookings), h.bookingLines(bookings)), nil
}

func (h *Handlers) slotsReply(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /slots <service> <YYYY-MM-DD>", ErrUsage
	}
	loc := h.location()
	date, err := clock.ParseDate(args[1], loc)
	if err != nil {
		return "❌ Date must be YYYY-MM-DD", ErrUsage
	}

	slots, err := h.bookingService.GetAvailableSlots(ctx, args[0], date)
	if err != nil {
		return "", err
	}
	return FormatSlots(args[0], date, slots, loc), nil
}

func (h *Handlers) failedReply(ctx context.Context) (string, error) {
	bookings, err := h.bookingService.ListFailedFulfillments(ctx, listLimit)
	if err != nil {
		return "", err
	}
	if len(bookings) == 0 {
		return "✅ No failed fulfillments", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ Failed fulfillments (%d)\n", len(bookings))
	for _, b := range bookings {
		reason := "unknown error"
		if b.FulfillmentError != nil {
			reason = *b.FulfillmentError
		}
		fmt.Fprintf(&sb, "\n• %s | %s\n  %s", b.ID, formatting.FormatDateTime(b.ScheduledAt.In(h.location())), reason)
	}
	sb.WriteString("\n\nRetry with /requeue <id>")
	return sb.String(), nil
}

func (h *Handlers) requeueReply(ctx context.Context, actor model.Actor, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /requeue <id>", ErrUsage
	}
	b, err := h.bookingService.RequeueFulfillment(ctx, args[0], actor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔄 Fulfillment for %s queued again", b.ID), nil
}

func (h *Handlers) bookingLines(bookings []*model.Booking) string {
	loc := h.location()
	lines := make([]string, 0, len(bookings))
	for _, b := range bookings {
		lines = append(lines, fmt.Sprintf("• %s  %s  %s",
			formatting.FormatDateTime(b.ScheduledAt.In(loc)), b.Signer.Name, b.ID))
	}
	return strings.Join(lines, "\n")
}
