package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig OAuth-настройки почтового ящика отправителя
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string
}

// Enabled все ли поля заданы
func (c GmailConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "" && c.From != ""
}

// GmailSender отправляет письма через Gmail API
type GmailSender struct {
	svc  *gmail.Service
	from string
}

// NewGmailSender создаёт отправителя с refresh token
func NewGmailSender(ctx context.Context, cfg GmailConfig) (*GmailSender, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now(), // принудительный refresh
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oc.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &GmailSender{svc: svc, from: cfg.From}, nil
}

func (s *GmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildMessage(s.from, to, subject, body))),
	}

	sent, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return sent.Id, nil
}

func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
