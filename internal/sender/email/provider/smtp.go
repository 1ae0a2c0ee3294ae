package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPProvider sends email through a plain SMTP server. It is the default
// backend for local development (MailHog and friends) and supports STARTTLS
// on port 587 and implicit TLS on port 465 for real providers.
type SMTPProvider struct {
	host     string
	port     string
	user     string
	password string
}

// NewSMTPProvider creates an SMTP backend from SMTP_HOST, SMTP_PORT,
// SMTP_USER and SMTP_PASSWORD.
func NewSMTPProvider() *SMTPProvider {
	return &SMTPProvider{
		host:     GetEnvOrDefault("SMTP_HOST", ""),
		port:     GetEnvOrDefault("SMTP_PORT", "587"),
		user:     GetEnvOrDefault("SMTP_USER", ""),
		password: GetEnvOrDefault("SMTP_PASSWORD", ""),
	}
}

// Name returns the backend name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured reports whether an SMTP host was supplied.
func (p *SMTPProvider) IsConfigured() bool {
	return p.host != ""
}

// Send delivers the email over SMTP.
func (p *SMTPProvider) Send(ctx context.Context, req *Request) error {
	if p.host == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	port, err := strconv.Atoi(p.port)
	if err != nil {
		return fmt.Errorf("invalid SMTP port %q: %w", p.port, err)
	}

	addr := net.JoinHostPort(p.host, p.port)
	msg := buildMessage(req)

	if port == 587 || port == 465 {
		err = p.sendWithTLS(ctx, addr, port, req.From, req.To, msg)
	} else {
		var auth smtp.Auth
		if p.user != "" && p.password != "" {
			auth = smtp.PlainAuth("", p.user, p.password, p.host)
		}
		err = smtp.SendMail(addr, auth, req.From, req.To, msg)
	}
	if err != nil {
		return fmt.Errorf("SMTP send failed: %w", err)
	}

	slog.Info("email sent via SMTP",
		"server", addr,
		"to", req.To,
		"subject", req.Subject,
	)
	return nil
}

// sendWithTLS speaks SMTP over an encrypted connection: implicit TLS on
// port 465, STARTTLS otherwise.
func (p *SMTPProvider) sendWithTLS(ctx context.Context, addr string, port int, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var client *smtp.Client
	if port == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: p.host})
		if err != nil {
			return fmt.Errorf("tls dial: %w", err)
		}
		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp client: %w", err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp client: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
				client.Close()
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	defer client.Close()

	if p.user != "" && p.password != "" {
		auth := smtp.PlainAuth("", p.user, p.password, p.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender %s: %w", from, err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

// buildMessage renders the request as an RFC 822 message. HTML bodies take
// precedence over plain text.
func buildMessage(req *Request) []byte {
	contentType := "text/plain; charset=UTF-8"
	body := req.Text
	if req.HTML != "" {
		contentType = "text/html; charset=UTF-8"
		body = req.HTML
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", req.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(req.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: %s\r\n", contentType))
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}
