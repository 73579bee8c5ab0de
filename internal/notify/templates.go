package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// Template имя шаблона уведомления
type Template string

const (
	TemplateBookingConfirmed  Template = "booking_confirmed"
	TemplateReminder24h       Template = "reminder_24h"
	TemplateReminder2h        Template = "reminder_2h"
	TemplateFulfillmentFailed Template = "fulfillment_failed"
	// TemplateFinalizingDetails клиенту, когда автоматическая подготовка
	// визита не удалась и детали доводит оператор
	TemplateFinalizingDetails Template = "finalizing_details"
)

// Data поля, доступные в шаблонах
type Data struct {
	BookingID   string
	SignerName  string
	ServiceName string
	ScheduledAt time.Time
	Location    string
	SessionURL  string
	Error       string
	Attempts    int
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"when": func(t time.Time) string { return t.Format("Mon, Jan 2 2006 at 3:04 PM MST") },
}

func mustTemplate(subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New("subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New("body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[Template]emailTemplate{
	TemplateBookingConfirmed: mustTemplate(
		"Your {{.ServiceName}} appointment is confirmed",
		`Hi {{.SignerName}},

Your {{.ServiceName}} appointment is confirmed for {{when .ScheduledAt}}.
{{if .SessionURL}}
Join your remote session here: {{.SessionURL}}
{{else}}
Location: {{.Location}}
{{end}}
Please have a valid government-issued photo ID ready.

Booking reference: {{.BookingID}}
`),
	TemplateReminder24h: mustTemplate(
		"Reminder: {{.ServiceName}} tomorrow",
		`Hi {{.SignerName}},

This is a reminder of your {{.ServiceName}} appointment on {{when .ScheduledAt}}.
{{if .SessionURL}}Session link: {{.SessionURL}}{{else}}Location: {{.Location}}{{end}}

Booking reference: {{.BookingID}}
`),
	TemplateReminder2h: mustTemplate(
		"Your {{.ServiceName}} appointment starts in 2 hours",
		`Hi {{.SignerName}},

Your {{.ServiceName}} appointment starts at {{when .ScheduledAt}}.
{{if .SessionURL}}Session link: {{.SessionURL}}{{else}}Location: {{.Location}}{{end}}
`),
	TemplateFulfillmentFailed: mustTemplate(
		"Fulfillment failed for booking {{.BookingID}}",
		`Booking {{.BookingID}} ({{.ServiceName}}, {{when .ScheduledAt}}) could not be fulfilled{{if .Attempts}} after {{.Attempts}} attempts{{end}}.

Last error: {{.Error}}
`),
	TemplateFinalizingDetails: mustTemplate(
		"Your {{.ServiceName}} booking is confirmed",
		`Hi {{.SignerName}},

Your {{.ServiceName}} booking for {{when .ScheduledAt}} is confirmed. We are finalizing the details and will contact you shortly.

Booking reference: {{.BookingID}}
`),
}

// Render подставляет данные в шаблон
func Render(name Template, data Data) (subject, body string, err error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var s, b bytes.Buffer
	if err := t.subject.Execute(&s, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&b, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return s.String(), b.String(), nil
}
