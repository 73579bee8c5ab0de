package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// MessageSender часть *bot.Bot, нужная для алертов
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramAlerter шлёт операторские алерты в чаты персонала
type TelegramAlerter struct {
	bot     MessageSender
	chatIDs []int64
	logger  *zap.Logger
}

func NewTelegramAlerter(b MessageSender, chatIDs []int64, logger *zap.Logger) *TelegramAlerter {
	return &TelegramAlerter{bot: b, chatIDs: chatIDs, logger: logger}
}

// Alert отправляет текст во все чаты. Ошибка, если не доставлено ни в один.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if len(a.chatIDs) == 0 {
		a.logger.Warn("Operator alert dropped: no staff chats configured", zap.String("text", text))
		return nil
	}

	var errs []error
	for _, id := range a.chatIDs {
		_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: id,
			Text:   text,
		})
		if err != nil {
			a.logger.Error("Failed to send operator alert", zap.Int64("chat_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}

	if len(errs) == len(a.chatIDs) {
		return errors.Join(errs...)
	}
	return nil
}

// LogAlerter пишет алерты в лог, когда бот не настроен
type LogAlerter struct {
	Logger *zap.Logger
}

func (a LogAlerter) Alert(ctx context.Context, text string) error {
	a.Logger.Warn("⚠️ Operator alert", zap.String("text", text))
	return nil
}
