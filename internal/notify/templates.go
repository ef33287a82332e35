package notify

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/Allforms/estatepadi/internal/domain"
)

type emailTemplate struct {
	subject string
	body    string
}

var templates = map[string]emailTemplate{
	domain.RoutingKeyActivated: {
		subject: "Your EstatePadi subscription is active",
		body:    "Your {{.PlanName}} subscription is now active.{{if .NextBillingDate}} Your next billing date is {{.NextBillingDate}}.{{end}}",
	},
	domain.RoutingKeyReactivated: {
		subject: "Welcome back to EstatePadi",
		body:    "Your {{.PlanName}} subscription has been reactivated.{{if .NextBillingDate}} Your next billing date is {{.NextBillingDate}}.{{end}}",
	},
	domain.RoutingKeyCancelled: {
		subject: "Your EstatePadi subscription has been cancelled",
		body:    "Your {{.PlanName}} subscription has been cancelled.{{if .NextBillingDate}} You keep access until {{.NextBillingDate}}.{{end}} You can reactivate it at any time from the app.",
	},
	domain.RoutingKeyPaymentFailed: {
		subject: "We could not renew your EstatePadi subscription",
		body:    "We were unable to charge your card for your {{.PlanName}} subscription. Please update your payment method to keep your access.",
	},
}

var parsedTemplates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(templates))
	for key, t := range templates {
		out[key] = template.Must(template.New(key).Parse(t.body))
	}
	return out
}()

type templateData struct {
	FirstName       string
	PlanName        string
	NextBillingDate string
}

// BuildEmail renders the email for a notification. ok is false for a type with no template.
func BuildEmail(n domain.SubscriptionNotification) (Email, bool, error) {
	t, ok := templates[n.Type]
	if !ok {
		return Email{}, false, nil
	}

	data := templateData{FirstName: strings.TrimSpace(n.FirstName), PlanName: n.PlanName}
	if data.FirstName == "" {
		data.FirstName = "there"
	}
	if data.PlanName == "" {
		data.PlanName = "EstatePadi"
	}
	if n.NextBillingDate != nil {
		data.NextBillingDate = n.NextBillingDate.UTC().Format("2 January 2006")
	}

	var body bytes.Buffer
	if err := parsedTemplates[n.Type].Execute(&body, data); err != nil {
		return Email{}, true, fmt.Errorf("render %s email: %w", n.Type, err)
	}

	greeting := "Hi " + template.HTMLEscapeString(data.FirstName) + ","
	return Email{
		To:      n.Email,
		Subject: t.subject,
		HTML:    "<p>" + greeting + "</p><p>" + body.String() + "</p>",
		Text:    "Hi " + data.FirstName + ",\n\n" + html.UnescapeString(body.String()),
	}, true, nil
}
