// Package whatsapp notifies the CC agent with a WhatsApp Business template
// message.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"formhooks/pkg/record"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v20.0"
	DefaultTemplate   = "tmktocc"
	DefaultLanguage   = "en"
	DefaultTimeout    = 10 * time.Second

	// FieldPhone is the record field holding the agent's number.
	FieldPhone = "CC Whatsapp Number"

	maxErrorBody = 2048
)

var (
	// ErrInvalidPhone is returned when the number has no usable digits.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrTemplateNotFound is returned when no language variant of the template exists.
	ErrTemplateNotFound = errors.New("template does not exist in any tried language")
)

// Config configures the WhatsApp sink.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	Template      string
	Language      string
	Timeout       time.Duration
}

// Sink sends the configured template to the record's CC agent number.
type Sink struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

// New builds the sink. base overrides the transport used under the bearer
// token; nil uses http.DefaultTransport.
func New(cfg Config, base http.RoundTripper, logger *log.Logger) (*Sink, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("whatsapp access_token is required")
	}
	if cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp phone_number_id is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	if base == nil {
		base = http.DefaultTransport
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}),
			Base:   base,
		},
	}
	return &Sink{cfg: cfg, client: client, logger: logger}, nil
}

// Name returns "whatsapp", the name routes and sinks.enabled use.
func (s *Sink) Name() string { return "whatsapp" }

// Send delivers the template to fields["CC Whatsapp Number"].
func (s *Sink) Send(ctx context.Context, rec record.Record) error {
	raw := strings.TrimSpace(rec.Field(FieldPhone))
	if raw == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidPhone, FieldPhone)
	}
	to, err := FormatPhoneNumber(raw)
	if err != nil {
		return err
	}
	messageID, lang, err := s.SendTemplate(ctx, to, s.cfg.Template)
	if err != nil {
		return err
	}
	s.logger.Printf("template %s sent record_id=%s to=%s lang=%s message_id=%s", s.cfg.Template, rec.RecordID, to, lang, messageID)
	return nil
}

// SendTemplate posts the template message, falling back through the
// language list while the API reports that the template does not exist.
func (s *Sink) SendTemplate(ctx context.Context, to, template string) (messageID, lang string, err error) {
	for _, code := range Languages(s.cfg.Language) {
		id, body, postErr := s.post(ctx, to, template, code)
		if postErr == nil {
			return id, code, nil
		}
		if body != "" && strings.Contains(body, "does not exist") {
			s.logger.Printf("template %s not found for lang=%s, trying next", template, code)
			continue
		}
		return "", code, postErr
	}
	return "", "", ErrTemplateNotFound
}

// Languages returns the fallback order for the configured language without duplicates.
func Languages(configured string) []string {
	candidates := []string{configured, "en", "en_US", "en_GB"}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, code := range candidates {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// FormatPhoneNumber strips '+', spaces, '-', '(' and ')' and requires the
// remainder to be digits.
func FormatPhoneNumber(phone string) (string, error) {
	cleaned := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phone)
	if cleaned == "" {
		return "", ErrInvalidPhone
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	return cleaned, nil
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name     string           `json:"name"`
	Language templateLanguage `json:"language"`
}

type messageRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// post sends one attempt. On a non-2xx status, body holds the response text.
func (s *Sink) post(ctx context.Context, to, template, lang string) (messageID, body string, err error) {
	payload, err := json.Marshal(messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         templateBody{Name: template, Language: templateLanguage{Code: lang}},
	})
	if err != nil {
		return "", "", err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.APIVersion, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respBody)
		return "", text, fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, text)
	}

	var decoded messageResponse
	if err := json.Unmarshal(respBody, &decoded); err == nil && len(decoded.Messages) > 0 {
		messageID = decoded.Messages[0].ID
	}
	return messageID, "", nil
}
