package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	to, subject, body string
	err               error
}

func (f *fakeSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to, f.subject, f.body = to, subject, body
	return "msg-1", nil
}

func TestRenderConfirmedRemote(t *testing.T) {
	subject, body, err := Render(TemplateBookingConfirmed, Data{
		BookingID:   "b-1",
		SignerName:  "Jane",
		ServiceName: "RON",
		ScheduledAt: time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC),
		SessionURL:  "https://ron.example/s-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your RON appointment is confirmed", subject)
	assert.Contains(t, body, "https://ron.example/s-1")
	assert.NotContains(t, body, "Location:")

	_, _, err = Render("nope", Data{})
	assert.Error(t, err)
}

func TestRenderFulfillmentFailure(t *testing.T) {
	data := Data{
		BookingID:   "b-1",
		SignerName:  "Jane",
		ServiceName: "Mobile Notary",
		ScheduledAt: time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC),
		Error:       "ghl: 401 unauthorized",
		Attempts:    3,
	}

	subject, body, err := Render(TemplateFulfillmentFailed, data)
	require.NoError(t, err)
	assert.Equal(t, "Fulfillment failed for booking b-1", subject)
	assert.Contains(t, body, "after 3 attempts")
	assert.Contains(t, body, "ghl: 401 unauthorized")

	subject, body, err = Render(TemplateFinalizingDetails, data)
	require.NoError(t, err)
	assert.Equal(t, "Your Mobile Notary booking is confirmed", subject)
	assert.Contains(t, body, "finalizing the details")
	assert.NotContains(t, body, "401", "internal errors stay with operators")
}

func TestDispatcherSend(t *testing.T) {
	s := &fakeSender{}
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	d := NewDispatcher(s, clock.NewFixed(now), zap.NewNop())

	del, err := d.Send(context.Background(), "jane@example.com", TemplateReminder2h, Data{ServiceName: "Mobile Notary", Location: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", del.MessageID)
	assert.Equal(t, now, del.SentAt)
	assert.Equal(t, "jane@example.com", s.to)
	assert.Contains(t, s.body, "1 Main St")

	_, err = d.Send(context.Background(), "", TemplateReminder2h, Data{})
	assert.Error(t, err)

	s.err = errors.New("smtp down")
	_, err = d.Send(context.Background(), "jane@example.com", TemplateReminder2h, Data{})
	assert.ErrorIs(t, err, s.err)
}

func TestBuildMessage(t *testing.T) {
	m := buildMessage("a@example.com", "b@example.com", "Hi", "body")
	assert.True(t, strings.HasPrefix(m, "From: a@example.com\r\n"))
	assert.Contains(t, m, "\r\n\r\nbody")
}

type fakeBot struct {
	sent []int64
	fail map[int64]bool
}

func (f *fakeBot) SendMessage(ctx context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	id := p.ChatID.(int64)
	if f.fail[id] {
		return nil, errors.New("blocked")
	}
	f.sent = append(f.sent, id)
	return &models.Message{}, nil
}

func TestTelegramAlerter(t *testing.T) {
	fb := &fakeBot{fail: map[int64]bool{2: true}}
	a := NewTelegramAlerter(fb, []int64{1, 2}, zap.NewNop())

	require.NoError(t, a.Alert(context.Background(), "boom"))
	assert.Equal(t, []int64{1}, fb.sent)

	all := NewTelegramAlerter(&fakeBot{fail: map[int64]bool{2: true}}, []int64{2}, zap.NewNop())
	assert.Error(t, all.Alert(context.Background(), "boom"))

	none := NewTelegramAlerter(fb, nil, zap.NewNop())
	assert.NoError(t, none.Alert(context.Background(), "boom"))
}
