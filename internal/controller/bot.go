package controller

import (
	"context"

	"github.com/Freeeeeet/notary_scheduler/internal/controller/handlers"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// BotController staff-бот: просмотр и смена статусов, разбор упавших фулфилментов
type BotController struct {
	bot      *bot.Bot
	handlers *handlers.Handlers
	logger   *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	bookingService *service.BookingService,
	staffIDs []int64,
	logger *zap.Logger,
) *BotController {
	return &BotController{
		bot:      botInstance,
		handlers: handlers.NewHandlers(bookingService, staffIDs, logger),
		logger:   logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.handlers.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handlers.HandleHelp)

	// Команды с аргументами
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/bookings", bot.MatchTypePrefix, c.handlers.HandleBookings)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/booking ", bot.MatchTypePrefix, c.handlers.HandleBooking)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/transition", bot.MatchTypePrefix, c.handlers.HandleTransition)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/slots", bot.MatchTypePrefix, c.handlers.HandleSlots)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/failed", bot.MatchTypeExact, c.handlers.HandleFailed)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/requeue", bot.MatchTypePrefix, c.handlers.HandleRequeue)

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "booking", Description: "🔎 Booking details: /booking <id>"},
		{Command: "transition", Description: "🔀 Change status: /transition <id> <status>"},
		{Command: "bookings", Description: "📋 Bookings by status"},
		{Command: "slots", Description: "🗓 Free slots: /slots <service> <date>"},
		{Command: "failed", Description: "⚠️ Failed fulfillments"},
		{Command: "requeue", Description: "🔄 Retry fulfillment: /requeue <id>"},
		{Command: "help", Description: "❓ Command help"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота, блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
	return nil
}
