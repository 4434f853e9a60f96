// Package compose renders pt-BR notification copy for WhatsApp and email.
package compose

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Event is an appointment notification type.
type Event string

const (
	EventCreated    Event = "created"
	EventReminder   Event = "reminder"
	EventUpdated    Event = "updated"
	EventCancelled  Event = "cancelled"
	EventNoShow     Event = "no_show"
	EventPreMessage Event = "pre_message"
)

// ParseEvent accepts the dispatchable event types. The second reminder
// shares the reminder copy.
func ParseEvent(raw string) (Event, bool) {
	switch e := Event(strings.ToLower(strings.TrimSpace(raw))); e {
	case EventCreated, EventReminder, EventUpdated, EventCancelled, EventNoShow, EventPreMessage:
		return e, true
	case "reminder_2":
		return EventReminder, true
	}
	return "", false
}

// IsReminder reports whether the event is driven by a scheduled message.
func (e Event) IsReminder() bool {
	return e == EventReminder || e == EventPreMessage
}

// Data is the appointment snapshot a message is rendered from.
type Data struct {
	TenantName       string
	ClientName       string
	ServiceName      string
	ProfessionalName string
	Start            time.Time
	Location         *time.Location
	ConfirmURL       string
	BookingURL       string
	PreMessage       string
}

type Message struct {
	WhatsApp string
	Subject  string
	Text     string
	HTML     string
}

type copyBlock struct {
	subject  string
	body     string
	ctaLabel string
	ctaURL   string
}

// Client renders the client facing message for e.
func Client(e Event, d Data) (Message, error) {
	when := When(d.Start, d.Location)
	first := firstName(d.ClientName)
	var c copyBlock
	switch e {
	case EventCreated:
		c = copyBlock{
			subject:  "Agendamento confirmado: " + d.ServiceName,
			body:     fmt.Sprintf("Olá, %s! Seu horário de %s com %s está marcado para %s.", first, d.ServiceName, d.ProfessionalName, when),
			ctaLabel: "Confirmar presença",
			ctaURL:   d.ConfirmURL,
		}
	case EventReminder:
		c = copyBlock{
			subject:  "Lembrete: " + d.ServiceName + " " + when,
			body:     fmt.Sprintf("Olá, %s! Passando para lembrar do seu horário de %s com %s em %s.", first, d.ServiceName, d.ProfessionalName, when),
			ctaLabel: "Confirmar presença",
			ctaURL:   d.ConfirmURL,
		}
	case EventUpdated:
		c = copyBlock{
			subject:  "Agendamento alterado: " + d.ServiceName,
			body:     fmt.Sprintf("Olá, %s! Seu horário de %s com %s foi alterado para %s.", first, d.ServiceName, d.ProfessionalName, when),
			ctaLabel: "Confirmar novo horário",
			ctaURL:   d.ConfirmURL,
		}
	case EventCancelled:
		c = copyBlock{
			subject: "Agendamento cancelado: " + d.ServiceName,
			body:    fmt.Sprintf("Olá, %s. Seu horário de %s em %s foi cancelado.", first, d.ServiceName, when),
		}
	case EventNoShow:
		c = copyBlock{
			subject:  "Sentimos sua falta",
			body:     fmt.Sprintf("Olá, %s. Sentimos sua falta no horário de %s em %s. Que tal remarcar?", first, d.ServiceName, when),
			ctaLabel: "Remarcar",
			ctaURL:   d.BookingURL,
		}
	case EventPreMessage:
		body := strings.TrimSpace(d.PreMessage)
		if body == "" {
			body = fmt.Sprintf("Seu horário de %s é em %s. Chegue com alguns minutos de antecedência.", d.ServiceName, when)
		}
		c = copyBlock{
			subject:  "Orientações para o seu atendimento",
			body:     fmt.Sprintf("Olá, %s! %s", first, body),
			ctaLabel: "Confirmar presença",
			ctaURL:   d.ConfirmURL,
		}
	default:
		return Message{}, fmt.Errorf("compose: unknown event %q", e)
	}
	return render(c, d.TenantName)
}

// Professional renders the copy sent to the professional about a new online booking.
func Professional(d Data) (Message, error) {
	c := copyBlock{
		subject: "Novo agendamento online: " + d.ServiceName,
		body:    fmt.Sprintf("Novo agendamento: %s marcou %s com %s para %s.", d.ClientName, d.ServiceName, d.ProfessionalName, When(d.Start, d.Location)),
	}
	return render(c, d.TenantName)
}

func render(c copyBlock, tenantName string) (Message, error) {
	var wa strings.Builder
	if tenantName != "" {
		wa.WriteString("*" + tenantName + "*\n")
	}
	wa.WriteString(c.body)
	if c.ctaURL != "" {
		wa.WriteString("\n\n" + c.ctaLabel + ": " + c.ctaURL)
	}

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]string{
		"Tenant":   tenantName,
		"Subject":  c.subject,
		"Body":     c.body,
		"CTALabel": c.ctaLabel,
		"CTAURL":   c.ctaURL,
	})
	if err != nil {
		return Message{}, fmt.Errorf("compose: render email: %w", err)
	}

	text := c.body
	if c.ctaURL != "" {
		text += "\n\n" + c.ctaLabel + ": " + c.ctaURL
	}
	return Message{WhatsApp: wa.String(), Subject: c.subject, Text: text, HTML: buf.String()}, nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family:Arial,sans-serif;color:#222;background:#f6f6f6;padding:24px">
<div style="max-width:520px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
{{if .Tenant}}<h2 style="margin-top:0">{{.Tenant}}</h2>{{end}}
<p style="font-size:16px;line-height:1.5">{{.Body}}</p>
{{if .CTAURL}}<p><a href="{{.CTAURL}}" style="display:inline-block;background:#2563eb;color:#fff;padding:12px 20px;border-radius:6px;text-decoration:none">{{.CTALabel}}</a></p>{{end}}
</div>
</body>
</html>`))

var weekdays = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

// When formats t as "terça-feira, 10/03 às 15:00" in loc.
func When(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return fmt.Sprintf("%s, %s às %s", weekdays[t.Weekday()], t.Format("02/01"), t.Format("15:04"))
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return "tudo bem"
}
