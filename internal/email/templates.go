package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

const timeLayout = "02/01/2006 15:04"

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
}

type leadEmailData struct {
	baseEmailData
	Lead LeadNotification
}

type alertEmailData struct {
	baseEmailData
	Alert DeliveryAlert
}

var funcs = template.FuncMap{
	"when": formatTime,
	"orDash": orDash,
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func leadText(n LeadNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New lead #%d\n", n.Counter)
	fmt.Fprintf(&b, "Name: %s\n", orDash(n.Name))
	fmt.Fprintf(&b, "Phone: %s\n", n.Phone)
	fmt.Fprintf(&b, "Email: %s\n", orDash(n.Email))
	fmt.Fprintf(&b, "Welcome scheduled: %s\n", formatTime(n.WelcomeAt))
	return b.String()
}

func alertText(a DeliveryAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to %s (%s) was not delivered.\n", orDash(a.Name), a.Phone)
	fmt.Fprintf(&b, "%s\n", a.Summary)
	if a.Permanent {
		b.WriteString("No further automated messages will be sent.\n")
	} else if a.NextRetry != nil {
		fmt.Fprintf(&b, "Retry %d scheduled at %s.\n", a.RetryCount, formatTime(*a.NextRetry))
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
