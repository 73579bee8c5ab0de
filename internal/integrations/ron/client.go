package ron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Статусы сессии провайдера
const (
	StatusPending    = "PENDING"
	StatusScheduled  = "SCHEDULED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusExpired    = "EXPIRED"
	StatusCancelled  = "CANCELLED"
	StatusFailed     = "FAILED"
)

// Config настройки клиента провайдера удалённой нотаризации
type Config struct {
	BaseURL           string
	APIKey            string
	NotaryEmail       string
	CallbackURL       string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Signer подписант для сессии
type Signer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Document описание документа в сессии
type Document struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Session созданная сессия
type Session struct {
	ID     string
	URL    string
	Status string
}

// Client клиент REST API провайдера (BlueNotary-совместимый)
type Client struct {
	hc      *http.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// APIError ответ API с кодом >= 400
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ron provider request failed (status=%d): %s", e.Status, e.Body)
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bluenotary.us"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		hc:      &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// Enabled настроен ли провайдер
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != "" && c.cfg.NotaryEmail != ""
}

// CreateSession создаёт сессию удалённой нотаризации. bookingID уходит как
// внешний ключ, чтобы провайдер мог отбросить дубль.
func (c *Client) CreateSession(ctx context.Context, bookingID string, signer Signer, docs []Document, scheduledAt time.Time) (*Session, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("create ron session: provider is not configured")
	}

	types := make([]string, 0, len(docs))
	title := "Document Notarization"
	for _, d := range docs {
		if d.Type != "" {
			types = append(types, d.Type)
		}
	}
	if len(docs) > 0 && docs[0].Title != "" {
		title = docs[0].Title
	}
	if len(types) == 0 {
		types = []string{"general"}
	}

	payload := map[string]any{
		"externalId":    bookingID,
		"signer":        signer,
		"notaryEmail":   c.cfg.NotaryEmail,
		"title":         title,
		"description":   "Remote online notarization session",
		"scheduledAt":   scheduledAt.UTC().Format(time.RFC3339),
		"callbackUrl":   c.cfg.CallbackURL,
		"documentTypes": types,
	}

	var resp struct {
		ID         string `json:"id"`
		SessionURL string `json:"sessionUrl"`
		Status     string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", payload, &resp); err != nil {
		return nil, fmt.Errorf("create ron session: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("create ron session: empty session id in response")
	}

	status := strings.ToUpper(resp.Status)
	if status == "" {
		status = StatusPending
	}

	c.logger.Info("RON session created",
		zap.String("booking_id", bookingID),
		zap.String("session_id", resp.ID))

	return &Session{ID: resp.ID, URL: resp.SessionURL, Status: status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
