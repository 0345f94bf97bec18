package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/dmitrymomot/sharepool/pkg/email"
)

// EmailDispatcher emails events to the order owner.
type EmailDispatcher struct {
	sender   email.EmailSender
	contacts Contacts
	format   Formatter
}

// NewEmailDispatcher panics if sender or contacts is nil.
func NewEmailDispatcher(sender email.EmailSender, contacts Contacts, format Formatter) *EmailDispatcher {
	if sender == nil || contacts == nil {
		panic("notify: email sender and contacts are required")
	}
	return &EmailDispatcher{sender: sender, contacts: contacts, format: format}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, event Event) error {
	to, err := d.contacts.Email(ctx, event.Recipient())
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	msg, err := d.render(event)
	if err != nil {
		return err
	}

	return d.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  msg.subject,
		BodyHTML: msg.html,
		BodyText: msg.text,
		Tag:      event.Name(),
	})
}

type rendered struct {
	subject string
	html    string
	text    string
}

var bodyTemplate = template.Must(template.New("body").Parse(`<!doctype html>
<html><body>
<p>{{.Lead}}</p>
{{- if .Lines}}
<ul>{{range .Lines}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
{{- if .Footer}}
<p>{{.Footer}}</p>
{{- end}}
</body></html>
`))

type body struct {
	Lead   string
	Lines  []string
	Footer string
}

func (d *EmailDispatcher) render(event Event) (rendered, error) {
	var subject string
	var b body

	switch e := event.(type) {
	case CredentialsReady:
		subject = fmt.Sprintf("Your %s access is ready", e.Service)
		b.Lead = fmt.Sprintf("Your %s subscription is active until %s. Sign in with:", e.Service, d.format.Date(e.ExpiresAt))
		for _, l := range e.Leases {
			b.Lines = append(b.Lines, fmt.Sprintf("%s (profile %q)", l.AccountCredential, l.ProfileName))
		}
		b.Footer = "Please use only the profile assigned to you."
	case RenewalEligible:
		subject = fmt.Sprintf("Your %s subscription ends in %s", e.Service, d.format.Days(e.DaysRemaining))
		b.Lead = fmt.Sprintf("Your %s subscription expires on %s.", e.Service, d.format.Date(e.ExpiresAt))
		if !e.Price.IsZero() {
			b.Lines = append(b.Lines, "Renewal price: "+d.format.Money(e.Price, e.Currency))
		}
	case PaymentRejected:
		subject = "We could not confirm your payment"
		b.Lead = "Your payment proof was reviewed and could not be accepted."
		if e.Reason != "" {
			b.Lines = append(b.Lines, "Reason: "+e.Reason)
		}
	case OrderApproved:
		subject = fmt.Sprintf("Payment received for %s", e.Service)
		b.Lead = fmt.Sprintf("We received %s. Your access is being prepared.", d.format.Money(e.Price, e.Currency))
	default:
		return rendered{}, fmt.Errorf("notify: no email template for event %q", event.Name())
	}

	var html bytes.Buffer
	if err := bodyTemplate.Execute(&html, b); err != nil {
		return rendered{}, fmt.Errorf("render %s: %w", event.Name(), err)
	}

	text := strings.Join(append(append([]string{b.Lead}, b.Lines...), b.Footer), "\n")
	return rendered{subject: subject, html: html.String(), text: strings.TrimSpace(text)}, nil
}
