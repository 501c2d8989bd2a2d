package dispatcher

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// SMTPSender delivers jobs directly as plain-text mail. Best-effort
// hand-off only: once the relay accepts the message, delivery is its
// problem.
type SMTPSender struct {
	addr     string // host:port
	from     string
	username string
	password string

	// sendMail is swapped out in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	return &SMTPSender{
		addr:     addr,
		from:     from,
		username: username,
		password: password,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, req Request) Result {
	start := time.Now()

	job := req.Job
	to := append([]string{}, job.Recipients...)
	to = append(to, job.CCRecipients...)

	msg := buildMessage(s.from, job)

	var auth smtp.Auth
	if s.username != "" {
		host := s.addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.username, s.password, host)
	}

	// net/smtp has no context support; run the send in a goroutine and
	// race it against ctx and the configured timeout.
	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, auth, s.from, to, msg)
	}()

	select {
	case <-ctxTimeout.Done():
		return Result{Error: fmt.Errorf("smtp send: %w", ctxTimeout.Err()), Duration: time.Since(start)}
	case err := <-done:
		if err != nil {
			return Result{Error: fmt.Errorf("smtp send: %w", err), Duration: time.Since(start)}
		}
		// Relay accepted; report as a 2xx-class hand-off.
		return Result{StatusCode: 250, Duration: time.Since(start)}
	}
}

func (s *SMTPSender) Destination(job domain.NotificationJob) string {
	if len(job.Recipients) > 0 {
		return job.Recipients[0]
	}
	return s.addr
}

func buildMessage(from string, job domain.NotificationJob) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(job.Recipients, ", "))
	if len(job.CCRecipients) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(job.CCRecipients, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", job.Metadata.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(renderTextBody(job))

	return []byte(b.String())
}

var _ Sender = (*SMTPSender)(nil)
