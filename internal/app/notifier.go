/**
 * @description
 * Customer and operator email notifications. Delivery is best effort: callers
 * log a failed send and never roll back the state change that caused it.
 */
package app

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/pkg/mailer"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	tmplPaymentSucceeded      = "payment_succeeded.html"
	tmplRetryScheduled        = "retry_scheduled.html"
	tmplSubscriptionCancelled = "subscription_cancelled.html"
	tmplOperatorCancellation  = "operator_cancellation.html"
	tmplSubscriptionStarted   = "subscription_started.html"
	tmplLeadReceived          = "lead_received.html"
	tmplPaymentRequired       = "payment_required.html"
)

// EmailSender delivers a rendered message.
type EmailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Notifier renders and sends billing emails.
type Notifier struct {
	sender        EmailSender
	operatorEmail string
	templates     map[string]*template.Template
}

// NewNotifier parses the embedded templates.
func NewNotifier(sender EmailSender, operatorEmail string) *Notifier {
	names := []string{
		tmplPaymentSucceeded,
		tmplRetryScheduled,
		tmplSubscriptionCancelled,
		tmplOperatorCancellation,
		tmplSubscriptionStarted,
		tmplLeadReceived,
		tmplPaymentRequired,
	}
	templates := make(map[string]*template.Template, len(names))
	for _, name := range names {
		templates[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return &Notifier{sender: sender, operatorEmail: operatorEmail, templates: templates}
}

type subscriptionMail struct {
	SubscriptionID  string
	CustomerName    string
	CustomerEmail   string
	Title           string
	Amount          string
	Currency        string
	TransactionID   string
	NextPaymentDate string
	Attempt         int
	MaxAttempts     int
	Reason          string
	CancelledAt     string
	PaymentURL      string
	ExpiresAt       string
}

func newSubscriptionMail(sub domain.Subscription, link *domain.PaymentLink) subscriptionMail {
	data := subscriptionMail{
		SubscriptionID: sub.ID,
		CustomerName:   sub.CustomerName,
		CustomerEmail:  sub.CustomerEmail,
		Title:          "your subscription",
	}
	if data.CustomerName == "" {
		data.CustomerName = "there"
	}
	if link != nil {
		data.Title = link.Title
		data.Amount = link.Amount.StringFixed(2)
		data.Currency = link.Currency
	}
	return data
}

func formatDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}

// PaymentSucceeded confirms a recurring charge to the customer.
func (n *Notifier) PaymentSucceeded(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, transactionID string, next time.Time) error {
	data := newSubscriptionMail(sub, link)
	data.TransactionID = transactionID
	data.NextPaymentDate = formatDate(next)
	return n.send(ctx, sub.CustomerEmail, "Payment processed: "+data.Title, tmplPaymentSucceeded, data)
}

// PaymentRequired sends the customer the hosted payment page for a charge
// that has no saved card to run against.
func (n *Notifier) PaymentRequired(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, paymentURL string, expiresAt time.Time) error {
	data := newSubscriptionMail(sub, link)
	data.PaymentURL = paymentURL
	data.ExpiresAt = expiresAt.UTC().Format("January 2, 2006 15:04 MST")
	return n.send(ctx, sub.CustomerEmail, "Complete your payment: "+data.Title, tmplPaymentRequired, data)
}

// RetryScheduled tells the customer a charge failed and when it will be retried.
func (n *Notifier) RetryScheduled(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, attempt, maxAttempts int, next time.Time, reason string) error {
	data := newSubscriptionMail(sub, link)
	data.Attempt = attempt
	data.MaxAttempts = maxAttempts
	data.NextPaymentDate = formatDate(next)
	data.Reason = reason
	subject := fmt.Sprintf("Payment failed, retry scheduled (attempt %d of %d)", attempt, maxAttempts)
	return n.send(ctx, sub.CustomerEmail, subject, tmplRetryScheduled, data)
}

// SubscriptionCancelled tells the customer the subscription was cancelled.
func (n *Notifier) SubscriptionCancelled(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, reason string) error {
	data := newSubscriptionMail(sub, link)
	data.Reason = reason
	return n.send(ctx, sub.CustomerEmail, "Subscription cancelled: "+data.Title, tmplSubscriptionCancelled, data)
}

// OperatorCancellation alerts the operator that a subscription was cancelled.
func (n *Notifier) OperatorCancellation(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, reason string, cancelledAt time.Time) error {
	if n.operatorEmail == "" {
		return fmt.Errorf("operator email is not configured")
	}
	data := newSubscriptionMail(sub, link)
	data.Reason = reason
	data.CancelledAt = cancelledAt.UTC().Format(time.RFC3339)
	return n.send(ctx, n.operatorEmail, "Subscription cancelled: "+sub.CustomerEmail, tmplOperatorCancellation, data)
}

// SubscriptionStarted welcomes a customer whose first monthly payment cleared.
func (n *Notifier) SubscriptionStarted(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink) error {
	data := newSubscriptionMail(sub, link)
	data.NextPaymentDate = formatDate(sub.NextPaymentDate)
	return n.send(ctx, sub.CustomerEmail, "Subscription started: "+data.Title, tmplSubscriptionStarted, data)
}

// LeadReceived forwards a contact-form submission to the operator.
func (n *Notifier) LeadReceived(ctx context.Context, lead domain.Lead) error {
	if n.operatorEmail == "" {
		return fmt.Errorf("operator email is not configured")
	}
	return n.send(ctx, n.operatorEmail, "New lead: "+lead.Name, tmplLeadReceived, lead)
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data any) error {
	var body bytes.Buffer
	if err := n.templates[tmpl].ExecuteTemplate(&body, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	return n.sender.Send(ctx, mailer.Message{To: []string{to}, Subject: subject, HTML: body.String()})
}
