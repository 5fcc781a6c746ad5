// Package mail sends plain-text notifications over SMTP. No templating.
package mail

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Mailer delivers plain-text messages.
type Mailer interface {
	SendText(to, subject, body string) error
}

// SMTPMailer is an unauthenticated relay client, matching the lab setup.
type SMTPMailer struct {
	host string
	port int
	from string
}

// NewSMTP constructs a mailer.
func NewSMTP(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, from: from}
}

// SendText delivers one message. A refused recipient surfaces distinctly
// from an unreachable relay so callers can compensate differently.
func (m *SMTPMailer) SendText(to, subject, body string) error {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
