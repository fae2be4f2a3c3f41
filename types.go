package accounts

import "fmt"

// Logger is the minimal logging surface the package needs. Components
// default to defLogger and accept replacements through WithLogger
// builders.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Mailer is the outbound mail capability. Sends are fire-and-forget:
// callers never roll back work because delivery failed.
type Mailer interface {
	Send(msg MailMessage) error
}

// MailMessage is a plain-text mail envelope
type MailMessage struct {
	From    string
	To      string
	Subject string
	Body    string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
