package accounts

import (
	mail "github.com/wneessen/go-mail"
)

// SMTPMailer delivers through a plain SMTP relay. Callers treat Send as
// fire-and-forget; a delivery failure never unwinds the work that
// triggered the mail.
type SMTPMailer struct {
	client *mail.Client
}

// NewSMTPMailer dials nothing up front; the connection is made per send
func NewSMTPMailer(host string, port int, username, password string) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}

	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, err
	}

	return &SMTPMailer{client: client}, nil
}

// Send delivers one plain-text message
func (m *SMTPMailer) Send(msg MailMessage) error {
	message := mail.NewMsg()

	if err := message.From(msg.From); err != nil {
		return err
	}
	if err := message.To(msg.To); err != nil {
		return err
	}

	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextPlain, msg.Body)

	return m.client.DialAndSend(message)
}

var _ Mailer = (*SMTPMailer)(nil)

// LogMailer writes the envelope to the log instead of delivering.
// Used in development when no relay is configured.
type LogMailer struct {
	Logger Logger
}

// Send logs the message envelope without the body
func (m LogMailer) Send(msg MailMessage) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail (not delivered): to=%s subject=%q", msg.To, msg.Subject)
	return nil
}

var _ Mailer = LogMailer{}
