package mailer

import (
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Message is a plain email with text and HTML bodies.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	Text      string
	HTML      string
}

// Mailer delivers email messages.
type Mailer interface {
	Send(msg Message) error
}

// SendgridMailer delivers mail through the Sendgrid v3 API.
type SendgridMailer struct {
	key  string
	from *sgmail.Email
}

// NewSendgridMailer builds a mailer with the given API key and sender.
func NewSendgridMailer(apiKey, fromName, fromAddress string) *SendgridMailer {
	return &SendgridMailer{
		key:  apiKey,
		from: sgmail.NewEmail(fromName, fromAddress),
	}
}

// Send delivers a single message. Errors are returned to the caller; the
// reminder job treats them as fire-and-forget.
func (m *SendgridMailer) Send(msg Message) error {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToAddress))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)

	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(v3)

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// ConsoleMailer logs messages instead of delivering them; used in development
// and when no Sendgrid key is configured.
type ConsoleMailer struct {
	logger *zap.Logger
}

// NewConsoleMailer builds a logging mailer.
func NewConsoleMailer(logger *zap.Logger) *ConsoleMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMailer{logger: logger}
}

// Send logs the message.
func (m *ConsoleMailer) Send(msg Message) error {
	m.logger.Info("email (console mailer)",
		zap.String("to", msg.ToAddress),
		zap.String("subject", msg.Subject),
	)
	return nil
}
