package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"formhooks/pkg/sinks"
	"formhooks/pkg/sinks/csvlog"
	"formhooks/pkg/sinks/email"
	"formhooks/pkg/sinks/sheets"
	"formhooks/pkg/sinks/whatsapp"
	"formhooks/pkg/storage"
	"formhooks/pkg/storage/submissions"
)

// SinkNames lists every sink BuildSinks knows how to construct.
var SinkNames = []string{"csv", "store", "sheets", "email", "whatsapp", "publish"}

// BuildSinks constructs the named sinks from cfg. publisher is only needed
// when "publish" is requested. On error every sink built so far is closed.
func BuildSinks(ctx context.Context, cfg SinksConfig, names []string, publisher Publisher, logger *log.Logger) ([]sinks.Sink, error) {
	if logger == nil {
		logger = NewLogger("sinks")
	}
	built := make([]sinks.Sink, 0, len(names))
	closeBuilt := func() {
		for _, sink := range built {
			if closer, ok := sink.(io.Closer); ok {
				_ = closer.Close()
			}
		}
	}

	for _, name := range normalizeNames(names) {
		sink, err := buildSink(ctx, cfg, name, publisher, logger)
		if err != nil {
			closeBuilt()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		built = append(built, sink)
		logger.Printf("sink enabled name=%s", name)
	}
	return built, nil
}

func buildSink(ctx context.Context, cfg SinksConfig, name string, publisher Publisher, logger *log.Logger) (sinks.Sink, error) {
	switch name {
	case "csv":
		return csvlog.New(csvlog.Config{Path: cfg.CSV.Path, Columns: cfg.CSV.Columns})
	case "store":
		store, err := submissions.Open(submissions.Config{
			Driver:      cfg.Store.Driver,
			DSN:         cfg.Store.DSN,
			Table:       cfg.Store.Table,
			AutoMigrate: cfg.Store.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewSink(store), nil
	case "sheets":
		return sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			CredentialsFile: cfg.Sheets.CredentialsFile,
			Columns:         cfg.Sheets.Columns,
		})
	case "email":
		return buildEmailSink(ctx, cfg.Email)
	case "whatsapp":
		return whatsapp.New(whatsapp.Config{
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIVersion:    cfg.WhatsApp.APIVersion,
			BaseURL:       cfg.WhatsApp.BaseURL,
			Template:      cfg.WhatsApp.Template,
			Language:      cfg.WhatsApp.Language,
			Timeout:       time.Duration(cfg.WhatsApp.TimeoutMS) * time.Millisecond,
		}, nil, NewLogger("whatsapp"))
	case "publish":
		return NewPublisherSink(publisher, cfg.Publish.Topic, cfg.Publish.Drivers)
	default:
		return nil, errors.New("unknown sink")
	}
}

func buildEmailSink(ctx context.Context, cfg EmailConfig) (sinks.Sink, error) {
	var sender email.Sender
	switch cfg.Transport {
	case "smtp":
		smtpSender, err := email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		if err != nil {
			return nil, err
		}
		sender = smtpSender
	case "gmail":
		gmailSender, err := email.NewGmailSender(ctx, cfg.Gmail.CredentialsFile, cfg.Sender)
		if err != nil {
			return nil, err
		}
		sender = gmailSender
	default:
		return nil, fmt.Errorf("unsupported email transport: %s", cfg.Transport)
	}

	notify := make(map[string]bool, len(cfg.Notify))
	for _, target := range cfg.Notify {
		switch target {
		case "cc_agent", "owner":
			notify[target] = true
		default:
			return nil, fmt.Errorf("unsupported email notify target: %s", target)
		}
	}

	return email.New(email.Config{
		Sender:        cfg.Sender,
		SenderName:    cfg.SenderName,
		FormOwner:     cfg.FormOwner,
		AgentEmails:   cfg.AgentEmails,
		NotifyCCAgent: notify["cc_agent"],
		NotifyOwner:   notify["owner"],
	}, sender, email.WithLogger(NewLogger("email")))
}
