package utils

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cppla/benefits/config"
)

// ErrMailNotConfigured is returned by SendMail when no SMTP host or sender is set.
var ErrMailNotConfigured = errors.New("smtp not configured")

// SendMail sends a plain text email using SMTP settings from config.
// The dial and every SMTP exchange are bound to ctx; without a ctx deadline a 15s limit applies.
func SendMail(ctx context.Context, to, subject, body string) error {
	cfg := config.Get()
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return ErrMailNotConfigured
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	msg := buildMessage(cfg, to, subject, body)

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(15 * time.Second)
	}
	_ = conn.SetDeadline(deadline)
	// Cancellation interrupts a stalled read or write.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: cfg.SMTPHost}); err != nil {
			return err
		}
	} else if cfg.SMTPTLS {
		return errors.New("smtp server does not support STARTTLS")
	}
	if cfg.SMTPUsername != "" {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(cfg.SMTPFrom); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(cfg config.AppConfig, to, subject, body string) []byte {
	fromName := cfg.SMTPFromName
	if fromName == "" {
		fromName = "Benefits"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", encodeRFC2047(fromName), cfg.SMTPFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", encodeRFC2047(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// encodeRFC2047 encodes a header value when it contains non-ASCII bytes.
func encodeRFC2047(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 128 {
			return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
		}
	}
	return s
}
