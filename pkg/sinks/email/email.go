// Package email sends submission notifications to the assigned CC agent and
// to the form owner.
package email

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"formhooks/pkg/record"
)

// Field names read from the record.
const (
	FieldCCEmail         = "CC Email"
	FieldRecipientEmail  = "Recipient Email"
	FieldRecipientLower  = "recipient_email"
	FieldTMKAccount      = "TMK - CRM Account Name"
	FieldTMKAccountLower = "tmk_crm_account_name"
	FieldCustomerName    = "Customer Name"
	FieldIssue           = "Issue"

	issuePreviewLen = 50
	agentEnvPrefix  = "AGENT_EMAIL_"
)

// ErrNoRecipient is returned when no usable address could be resolved.
var ErrNoRecipient = errors.New("no recipient email")

// Config configures the email sink.
type Config struct {
	Sender        string
	SenderName    string
	FormOwner     string
	AgentEmails   map[string]string
	NotifyCCAgent bool
	NotifyOwner   bool
}

// Sink renders and sends the enabled notifications for every record.
type Sink struct {
	cfg    Config
	sender Sender
	logger *log.Logger
	lookup func(string) (string, bool)
	now    func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the sink logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnvLookup replaces os.LookupEnv for agent address resolution.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(s *Sink) {
		if lookup != nil {
			s.lookup = lookup
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the sink over a transport.
func New(cfg Config, sender Sender, opts ...Option) (*Sink, error) {
	if sender == nil {
		return nil, errors.New("email transport is required")
	}
	if cfg.Sender == "" {
		return nil, errors.New("email sender is required")
	}
	s := &Sink{
		cfg:    cfg,
		sender: sender,
		logger: log.Default(),
		lookup: os.LookupEnv,
		now:    time.Now,
	}
	normalized := make(map[string]string, len(cfg.AgentEmails))
	for key, addr := range cfg.AgentEmails {
		normalized[AgentKey(key)] = addr
	}
	s.cfg.AgentEmails = normalized
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns "email", the name routes and sinks.enabled use.
func (s *Sink) Name() string { return "email" }

// Send delivers the enabled notifications. Each notification is attempted
// even when the other fails.
func (s *Sink) Send(ctx context.Context, rec record.Record) error {
	var err error
	if s.cfg.NotifyCCAgent {
		if sendErr := s.sendCCAgent(ctx, rec); sendErr != nil {
			err = errors.Join(err, fmt.Errorf("cc agent: %w", sendErr))
		}
	}
	if s.cfg.NotifyOwner {
		if sendErr := s.sendOwner(ctx, rec); sendErr != nil {
			err = errors.Join(err, fmt.Errorf("owner: %w", sendErr))
		}
	}
	return err
}

func (s *Sink) sendCCAgent(ctx context.Context, rec record.Record) error {
	to := strings.TrimSpace(rec.Field(FieldCCEmail))
	if !strings.Contains(to, "@") {
		return fmt.Errorf("%w: invalid %s %q", ErrNoRecipient, FieldCCEmail, to)
	}
	now := s.now()
	data := newTemplateData(rec, now)
	text, html, err := render(ccAgentText, ccAgentHTML, data)
	if err != nil {
		return err
	}
	msg := Message{
		From:      s.cfg.Sender,
		FromName:  s.cfg.SenderName,
		To:        []string{to},
		Subject:   CCAgentSubject(rec),
		MessageID: MessageID("tmk-cc", rec.RecordID, now),
		Text:      text,
		HTML:      html,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Printf("cc agent notification sent record_id=%s to=%s", rec.RecordID, to)
	return nil
}

func (s *Sink) sendOwner(ctx context.Context, rec record.Record) error {
	to, source := s.ResolveRecipient(rec)
	if to == "" {
		return ErrNoRecipient
	}
	now := s.now()
	data := newTemplateData(rec, now)
	text, html, err := render(ownerText, ownerHTML, data)
	if err != nil {
		return err
	}
	msg := Message{
		From:      s.cfg.Sender,
		FromName:  s.cfg.SenderName,
		To:        []string{to},
		Subject:   OwnerSubject(rec),
		MessageID: MessageID("tmk-webhook", rec.RecordID, now),
		Text:      text,
		HTML:      html,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Printf("owner notification sent record_id=%s to=%s source=%s", rec.RecordID, to, source)
	return nil
}

// ResolveRecipient picks the owner alert address: an explicit recipient
// field, then the agent mapping, then the form owner. source names which
// one matched.
func (s *Sink) ResolveRecipient(rec record.Record) (addr, source string) {
	for _, name := range []string{FieldRecipientEmail, FieldRecipientLower} {
		if value := strings.TrimSpace(rec.Field(name)); strings.Contains(value, "@") {
			return value, "payload"
		}
	}
	agent := rec.FieldOr(FieldTMKAccount, rec.Field(FieldTMKAccountLower))
	if agent != "" {
		key := AgentKey(agent)
		if value := s.cfg.AgentEmails[key]; value != "" {
			return value, "agent_map"
		}
		if value, ok := s.lookup(agentEnvPrefix + key); ok && value != "" {
			return value, "agent_env"
		}
	}
	if s.cfg.FormOwner != "" {
		return s.cfg.FormOwner, "form_owner"
	}
	return "", ""
}

// AgentKey normalizes an agent account name for address lookups.
func AgentKey(name string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), " ", "_")
}

// CCAgentSubject builds the follow-up subject with an issue preview.
func CCAgentSubject(rec record.Record) string {
	return fmt.Sprintf("Customer Follow-Up Required: %s - %s",
		rec.FieldOr(FieldCustomerName, "Unknown Customer"),
		IssuePreview(rec.FieldOr(FieldIssue, "New Issue")))
}

// OwnerSubject builds the owner alert subject.
func OwnerSubject(rec record.Record) string {
	return fmt.Sprintf("TMK Alert: %s - %s",
		rec.FieldOr(FieldCustomerName, "Unknown Customer"),
		rec.FieldOr(FieldIssue, "New Issue"))
}

// IssuePreview keeps the first 50 characters and marks truncation with "...".
func IssuePreview(issue string) string {
	if utf8.RuneCountInString(issue) <= issuePreviewLen {
		return issue
	}
	return string([]rune(issue)[:issuePreviewLen]) + "..."
}

// MessageID builds a Message-ID of the form <prefix-record-YYYYmmddHHMMSS@tmk-system>.
func MessageID(prefix, recordID string, at time.Time) string {
	if recordID == "" {
		recordID = "unknown"
	}
	return fmt.Sprintf("<%s-%s-%s@tmk-system>", prefix, recordID, at.Format("20060102150405"))
}

type fieldRow struct {
	Name     string
	Value    string
	Priority bool
}

type templateData struct {
	Event       string
	RecordID    string
	SubmittedAt string
	ReceivedAt  string
	GeneratedAt string
	Fields      []fieldRow
	Record      record.Record
}

func (d templateData) Field(name string) string {
	return d.Record.FieldOr(name, "N/A")
}

func newTemplateData(rec record.Record, now time.Time) templateData {
	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]fieldRow, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "issue", "priority", "urgency":
			rows = append(rows, fieldRow{Name: name, Value: rec.Fields[name], Priority: true})
		default:
			rows = append(rows, fieldRow{Name: name, Value: rec.Fields[name]})
		}
	}
	received := rec.ReceivedAt
	if received.IsZero() {
		received = now
	}
	return templateData{
		Event:       orNA(rec.Event),
		RecordID:    orNA(rec.RecordID),
		SubmittedAt: orNA(rec.SubmittedAt),
		ReceivedAt:  received.Format("2006-01-02 15:04:05"),
		GeneratedAt: now.Format("2006-01-02 at 15:04:05"),
		Fields:      rows,
		Record:      rec,
	}
}

func orNA(value string) string {
	if value == "" {
		return "N/A"
	}
	return value
}
