package handlers

import (
	"context"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// isStaff проверяет Telegram ID по списку сотрудников
func (h *Handlers) isStaff(telegramID int64) bool {
	return h.staffIDs[telegramID]
}

// requireStaff проверяет что команду прислал сотрудник.
// Возвращает актора и true если OK.
func (h *Handlers) requireStaff(ctx context.Context, b *bot.Bot, update *models.Update) (model.Actor, bool) {
	if update.Message == nil || update.Message.From == nil {
		return model.Actor{}, false
	}

	from := update.Message.From
	if !h.isStaff(from.ID) {
		h.logger.Warn("Command from non-staff user",
			zap.Int64("telegram_id", from.ID),
			zap.String("text", update.Message.Text))
		h.sendError(ctx, b, update.Message.Chat.ID, "⛔️ This bot is for staff only.")
		return model.Actor{}, false
	}

	return model.StaffFromTelegram(from.ID, from.Username), true
}

// sendError отправляет сообщение об ошибке и логирует если не удалось
func (h *Handlers) sendError(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		h.logger.Error("Failed to send error message",
			zap.Int64("chat_id", chatID),
			zap.String("text", text),
			zap.Error(err),
		)
	}
}

// sendMessage отправляет сообщение и логирует если не удалось
func (h *Handlers) sendMessage(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		h.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}
