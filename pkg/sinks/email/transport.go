package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPSender sends through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	addr string
	auth smtp.Auth
}

// NewSMTPSender creates an SMTP transport. Auth is skipped without a username.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	sender := &SMTPSender{addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port))}
	if cfg.Username != "" {
		sender.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return sender, nil
}

// Send hands msg to the relay. net/smtp has no context support, so a
// cancelled ctx abandons the wait but not the connection.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.addr, s.auth, msg.From, msg.To, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GmailSender sends through the Gmail API as the delegated sender mailbox.
type GmailSender struct {
	users *gmail.UsersService
}

// NewGmailSender builds a Gmail transport. When opts is empty, the service
// account key in credentialsFile is used with domain-wide delegation to sender.
func NewGmailSender(ctx context.Context, credentialsFile, sender string, opts ...option.ClientOption) (*GmailSender, error) {
	if len(opts) == 0 {
		if credentialsFile == "" {
			return nil, errors.New("gmail credentials_file is required")
		}
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read gmail credentials: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("parse gmail credentials: %w", err)
		}
		conf.Subject = sender
		opts = append(opts, option.WithHTTPClient(conf.Client(ctx)))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	return &GmailSender{users: svc.Users}, nil
}

func (g *GmailSender) Send(ctx context.Context, msg Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	_, err = g.users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}
