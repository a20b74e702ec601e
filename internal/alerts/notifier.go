// Package alerts emails staff when an administration leaves a client's
// supply at or below the reorder threshold.
package alerts

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// Alert is one low supply notice
type Alert struct {
	ClientID           string
	ClientMedicationID string
	MedicationName     string
	Supply             int
	Threshold          int
	AdministeredBy     string
	AdministeredTime   medication.Timestamp
}

// Notifier delivers an alert
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

const alertPlain = `Low medication supply

Client: {{.ClientID}}
Medication: {{.MedicationName}}
Remaining doses: {{.Supply}} (reorder at {{.Threshold}})
{{if .AdministeredBy}}Last administered by {{.AdministeredBy}}{{if .AdministeredTime}} at {{.AdministeredTime}}{{end}}.
{{end}}
Please arrange a refill.
`

var alertPlainTemplate = template.Must(template.New("alert").Parse(alertPlain))

func render(a Alert) (string, error) {
	var buf bytes.Buffer
	if err := alertPlainTemplate.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("while templating alert email: %w", err)
	}
	return buf.String(), nil
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier sends alerts as plain-text email
type SendGridNotifier struct {
	client mailSender
	from   *mail.Email
	to     []string
}

// NewSendGridNotifier creates a notifier with a SendGrid API key
func NewSendGridNotifier(apiKey, from string, to []string) *SendGridNotifier {
	return newSendGridNotifier(sendgrid.NewSendClient(apiKey), from, to)
}

func newSendGridNotifier(client mailSender, from string, to []string) *SendGridNotifier {
	return &SendGridNotifier{client: client, from: mail.NewEmail("MAR Alerts", from), to: to}
}

// Notify sends one email to every recipient
func (n *SendGridNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := render(a)
	if err != nil {
		return err
	}

	message := mail.NewV3Mail()
	message.SetFrom(n.from)
	message.Subject = fmt.Sprintf("Low supply: %s for client %s", a.MedicationName, a.ClientID)

	p := mail.NewPersonalization()
	for _, addr := range n.to {
		p.AddTos(mail.NewEmail("", addr))
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", body))

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("while sending mail through SendGrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2XX response while sending mail through SendGrid: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogNotifier writes alerts to the log when email is not configured
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("low medication supply",
		zap.String("client_id", a.ClientID),
		zap.String("client_medication_id", a.ClientMedicationID),
		zap.String("medication", a.MedicationName),
		zap.Int("supply", a.Supply),
		zap.Int("threshold", a.Threshold))
	return nil
}
