package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"go.uber.org/zap"
)

// Sender транспорт доставки писем
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) (messageID string, err error)
}

// Delivery результат отправки
type Delivery struct {
	MessageID string
	Recipient string
	Template  Template
	SentAt    time.Time
}

// Dispatcher рендерит шаблон и отправляет письмо через Sender
type Dispatcher struct {
	sender Sender
	clock  clock.Clock
	logger *zap.Logger
}

func NewDispatcher(sender Sender, c clock.Clock, logger *zap.Logger) *Dispatcher {
	if c == nil {
		c = clock.Real{}
	}
	return &Dispatcher{sender: sender, clock: c, logger: logger}
}

// Send отправляет уведомление recipient по шаблону
func (d *Dispatcher) Send(ctx context.Context, recipient string, tmpl Template, data Data) (Delivery, error) {
	if recipient == "" {
		return Delivery{}, fmt.Errorf("send %s: recipient is empty", tmpl)
	}

	subject, body, err := Render(tmpl, data)
	if err != nil {
		return Delivery{}, err
	}

	id, err := d.sender.SendEmail(ctx, recipient, subject, body)
	if err != nil {
		return Delivery{}, fmt.Errorf("send %s: %w", tmpl, err)
	}

	d.logger.Info("Notification sent",
		zap.String("template", string(tmpl)),
		zap.String("booking_id", data.BookingID),
		zap.String("message_id", id))

	return Delivery{MessageID: id, Recipient: recipient, Template: tmpl, SentAt: d.clock.Now()}, nil
}

// LogSender пишет письма в лог вместо отправки. Используется, когда
// почта не настроена.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	s.Logger.Info("Email (not sent, mail is not configured)",
		zap.String("to", to),
		zap.String("subject", subject))
	return "log-" + fmt.Sprint(time.Now().UnixNano()), nil
}
