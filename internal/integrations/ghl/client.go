package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIVersion заголовок Version, который требует LeadConnector API
const APIVersion = "2021-07-28"

// Config настройки клиента GoHighLevel
type Config struct {
	BaseURL    string
	APIKey     string
	LocationID string
	// CalendarID календарь по умолчанию для записей
	CalendarID string
	// RequestsPerSecond ограничение частоты запросов, 0 = 5 rps
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client минимальный клиент CRM/календаря GoHighLevel: поиск или создание
// контакта и создание записи в календаре
type Client struct {
	hc      *http.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// APIError ответ API с кодом >= 400
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl %s %s failed (status=%d): %s", e.Method, e.Path, e.Status, e.Body)
}

// Temporary 5xx и 429 имеет смысл повторять
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://services.leadconnectorhq.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		hc:      &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
	}
}

// CalendarID календарь по умолчанию из конфигурации
func (c *Client) CalendarID() string {
	return c.cfg.CalendarID
}

type contact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// FindOrCreateContact ищет контакт по email и создаёт его, если не нашёл.
// Повторный вызов с тем же email возвращает тот же контакт.
func (c *Client) FindOrCreateContact(ctx context.Context, email, name, phone string) (string, error) {
	if email == "" && phone == "" {
		return "", fmt.Errorf("find or create contact: email or phone is required")
	}

	if email != "" {
		q := url.Values{}
		q.Set("locationId", c.cfg.LocationID)
		q.Set("query", email)

		var found struct {
			Contacts []contact `json:"contacts"`
		}
		if err := c.do(ctx, http.MethodGet, "/contacts/?"+q.Encode(), nil, &found); err != nil {
			return "", fmt.Errorf("search contact: %w", err)
		}
		for _, ct := range found.Contacts {
			if strings.EqualFold(ct.Email, email) {
				return ct.ID, nil
			}
		}
	}

	first, last := splitName(name)
	body := map[string]any{
		"locationId": c.cfg.LocationID,
		"firstName":  first,
		"lastName":   last,
		"name":       name,
		"email":      email,
		"phone":      phone,
		"source":     "booking",
	}

	var created struct {
		Contact contact `json:"contact"`
	}
	if err := c.do(ctx, http.MethodPost, "/contacts/upsert", body, &created); err != nil {
		return "", fmt.Errorf("upsert contact: %w", err)
	}
	if created.Contact.ID == "" {
		return "", fmt.Errorf("upsert contact: empty contact id in response")
	}

	c.logger.Info("GHL contact created", zap.String("contact_id", created.Contact.ID))
	return created.Contact.ID, nil
}

// CreateAppointment создаёт запись в календаре и возвращает её ID
func (c *Client) CreateAppointment(ctx context.Context, calendarID, contactID string, start, end time.Time, title string) (string, error) {
	if calendarID == "" {
		calendarID = c.cfg.CalendarID
	}
	if calendarID == "" || contactID == "" {
		return "", fmt.Errorf("create appointment: calendar id and contact id are required")
	}

	body := map[string]any{
		"calendarId":        calendarID,
		"locationId":        c.cfg.LocationID,
		"contactId":         contactID,
		"startTime":         start.Format(time.RFC3339),
		"endTime":           end.Format(time.RFC3339),
		"title":             title,
		"appointmentStatus": "confirmed",
		"ignoreDateRange":   false,
		"toNotify":          false,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/calendars/events/appointments", body, &resp); err != nil {
		return "", fmt.Errorf("create appointment: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create appointment: empty appointment id in response")
	}

	return resp.ID, nil
}

// UpdateAppointment переносит существующую запись на новое время
func (c *Client) UpdateAppointment(ctx context.Context, calendarID, appointmentID string, start, end time.Time, title string) error {
	if calendarID == "" {
		calendarID = c.cfg.CalendarID
	}
	if appointmentID == "" {
		return fmt.Errorf("update appointment: appointment id is required")
	}

	body := map[string]any{
		"calendarId":        calendarID,
		"startTime":         start.Format(time.RFC3339),
		"endTime":           end.Format(time.RFC3339),
		"title":             title,
		"appointmentStatus": "confirmed",
		"ignoreDateRange":   false,
		"toNotify":          false,
	}

	path := "/calendars/events/appointments/" + url.PathEscape(appointmentID)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	c.logger.Info("GHL appointment rescheduled", zap.String("appointment_id", appointmentID))
	return nil
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
	req.Header.Set("Version", APIVersion)
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
		p := path
		if i := strings.IndexByte(p, '?'); i >= 0 {
			p = p[:i]
		}
		return &APIError{Method: method, Path: p, Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
