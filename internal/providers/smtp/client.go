package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"billnotif/internal/util"
)

// Client relays plain-text mail through an SMTP server.
type Client struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
	// StartTLS upgrades the session when the server advertises it.
	StartTLS bool
}

func (c *Client) Configured() bool {
	return c != nil && c.Host != "" && c.Port > 0 && c.From != ""
}

// SendEmail delivers one message and returns the Message-ID it was sent with.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if !c.Configured() {
		return "", errors.New("smtp client not configured")
	}
	msgID := "<" + util.NewMessageID() + "@" + c.Host + ">"
	msg := c.buildMessage(to, subject, body, msgID, time.Now())

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	sc, err := smtp.NewClient(conn, c.Host)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	defer sc.Close()

	if c.StartTLS {
		if ok, _ := sc.Extension("STARTTLS"); ok {
			if err := sc.StartTLS(&tls.Config{ServerName: c.Host}); err != nil {
				return "", fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if c.Username != "" {
		if ok, _ := sc.Extension("AUTH"); ok {
			if err := sc.Auth(smtp.PlainAuth("", c.Username, c.Password, c.Host)); err != nil {
				return "", fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := sc.Mail(c.From); err != nil {
		return "", err
	}
	if err := sc.Rcpt(to); err != nil {
		return "", err
	}
	w, err := sc.Data()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	_ = sc.Quit()
	return msgID, nil
}

func (c *Client) buildMessage(to, subject, body, msgID string, now time.Time) []byte {
	from := c.From
	if c.FromName != "" {
		from = mime.QEncoding.Encode("utf-8", c.FromName) + " <" + c.From + ">"
	}
	var b bytes.Buffer
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", msgID)
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
