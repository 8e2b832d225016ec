package internal

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Webhook configures the form submission endpoint.
	Webhook WebhookConfig `yaml:"webhook"`
	// Extract holds the JSONPath expressions used to build records.
	Extract ExtractConfig `yaml:"extract"`
	// Sinks configures every record destination.
	Sinks SinksConfig `yaml:"sinks"`
	// Watermill holds configuration for the message publishers.
	Watermill WatermillConfig `yaml:"watermill"`
	// Worker configures the out-of-process sink runner.
	Worker WorkerConfig `yaml:"worker"`
}

// Config represents the application configuration including routes.
type Config struct {
	AppConfig `yaml:",inline"`
	Routes    []Route `yaml:"routes"`
}

// WebhookConfig configures the submission endpoint.
type WebhookConfig struct {
	Path          string `yaml:"path"`
	Secret        string `yaml:"secret"`
	SecretHeader  string `yaml:"secret_header"`
	DisableRepair bool   `yaml:"disable_repair"`
	Async         bool   `yaml:"async"`
	SinkTimeoutMS int64  `yaml:"sink_timeout_ms"`
}

// ExtractConfig holds JSONPath expressions for the record fields.
type ExtractConfig struct {
	EventPath       string `yaml:"event_path"`
	RecordIDPath    string `yaml:"record_id_path"`
	SubmittedAtPath string `yaml:"submitted_at_path"`
	FieldsPath      string `yaml:"fields_path"`
}

// SinksConfig selects and configures sinks.
type SinksConfig struct {
	Enabled  []string       `yaml:"enabled"`
	CSV      CSVConfig      `yaml:"csv"`
	Store    StoreConfig    `yaml:"store"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Email    EmailConfig    `yaml:"email"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Publish  PublishConfig  `yaml:"publish"`
}

// CSVConfig configures the CSV log sink.
type CSVConfig struct {
	Path    string   `yaml:"path"`
	Columns []string `yaml:"columns"`
}

// StoreConfig configures the submissions table sink.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// SheetsConfig configures the spreadsheet sink.
type SheetsConfig struct {
	SpreadsheetID   string   `yaml:"spreadsheet_id"`
	SheetName       string   `yaml:"sheet_name"`
	CredentialsFile string   `yaml:"credentials_file"`
	Columns         []string `yaml:"columns"`
}

// EmailConfig configures the notification email sink.
type EmailConfig struct {
	Transport   string            `yaml:"transport"`
	Sender      string            `yaml:"sender"`
	SenderName  string            `yaml:"sender_name"`
	FormOwner   string            `yaml:"form_owner"`
	AgentEmails map[string]string `yaml:"agent_emails"`
	Notify      []string          `yaml:"notify"`
	SMTP        struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
	Gmail struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"gmail"`
}

// WhatsAppConfig configures the chat template sink.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIVersion    string `yaml:"api_version"`
	BaseURL       string `yaml:"base_url"`
	Template      string `yaml:"template"`
	Language      string `yaml:"language"`
	TimeoutMS     int64  `yaml:"timeout_ms"`
}

// PublishConfig configures the message bus sink.
type PublishConfig struct {
	Topic   string   `yaml:"topic"`
	Drivers []string `yaml:"drivers"`
}

// WorkerConfig configures the background worker binary.
type WorkerConfig struct {
	Driver      string   `yaml:"driver"`
	Topic       string   `yaml:"topic"`
	Sinks       []string `yaml:"sinks"`
	Concurrency int      `yaml:"concurrency"`
	River       struct {
		DSN        string `yaml:"dsn"`
		Queue      string `yaml:"queue"`
		MaxWorkers int    `yaml:"max_workers"`
	} `yaml:"river"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig loads the full application configuration, including routes, from a YAML file.
// It expands environment variables, applies defaults, normalizes routes and
// requires a webhook secret.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRoutes(cfg.Routes)
	if err != nil {
		return cfg, err
	}
	cfg.Routes = normalized

	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return cfg, errors.New("webhook.secret is required")
	}
	return cfg, nil
}

// RulesConfig represents the routing parts of the configuration.
type RulesConfig struct {
	Routes []Route `yaml:"routes"`
	Logger *log.Logger
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 40000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook/lark"
	}
	if cfg.Webhook.SecretHeader == "" {
		cfg.Webhook.SecretHeader = "X-Webhook-Secret"
	}
	if cfg.Webhook.SinkTimeoutMS == 0 {
		cfg.Webhook.SinkTimeoutMS = 30000
	}
	if cfg.Extract.EventPath == "" {
		cfg.Extract.EventPath = "$.event"
	}
	if cfg.Extract.RecordIDPath == "" {
		cfg.Extract.RecordIDPath = "$.record_id"
	}
	if cfg.Extract.SubmittedAtPath == "" {
		cfg.Extract.SubmittedAtPath = "$.submitted_at"
	}
	if cfg.Extract.FieldsPath == "" {
		cfg.Extract.FieldsPath = "$.fields"
	}
	cfg.Sinks.Enabled = normalizeNames(cfg.Sinks.Enabled)
	if len(cfg.Sinks.Enabled) == 0 {
		cfg.Sinks.Enabled = []string{"csv"}
	}
	if cfg.Sinks.CSV.Path == "" {
		cfg.Sinks.CSV.Path = "submissions.csv"
	}
	if cfg.Sinks.Store.Driver == "" {
		cfg.Sinks.Store.Driver = "sqlite"
	}
	if cfg.Sinks.Store.DSN == "" {
		cfg.Sinks.Store.DSN = "formhooks.db"
	}
	if cfg.Sinks.Sheets.SheetName == "" {
		cfg.Sinks.Sheets.SheetName = "TMK Webhooks"
	}
	if cfg.Sinks.Email.Transport == "" {
		cfg.Sinks.Email.Transport = "smtp"
	}
	cfg.Sinks.Email.Notify = normalizeNames(cfg.Sinks.Email.Notify)
	if len(cfg.Sinks.Email.Notify) == 0 {
		cfg.Sinks.Email.Notify = []string{"cc_agent"}
	}
	if cfg.Sinks.Email.SMTP.Port == 0 {
		cfg.Sinks.Email.SMTP.Port = 587
	}
	if cfg.Sinks.WhatsApp.TimeoutMS == 0 {
		cfg.Sinks.WhatsApp.TimeoutMS = 10000
	}
	if cfg.Sinks.Publish.Topic == "" {
		cfg.Sinks.Publish.Topic = "formhooks.submissions"
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Table == "" {
		cfg.Watermill.RiverQueue.Table = "river_job"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = RecordJobKind
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.RiverQueue.Priority == 0 {
		cfg.Watermill.RiverQueue.Priority = 1
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
	if cfg.Worker.Driver == "" {
		cfg.Worker.Driver = "watermill"
	}
	if cfg.Worker.Topic == "" {
		cfg.Worker.Topic = cfg.Sinks.Publish.Topic
	}
	cfg.Worker.Sinks = normalizeNames(cfg.Worker.Sinks)
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.River.DSN == "" {
		cfg.Worker.River.DSN = cfg.Watermill.RiverQueue.DSN
	}
	if cfg.Worker.River.Queue == "" {
		cfg.Worker.River.Queue = cfg.Watermill.RiverQueue.Queue
	}
	if cfg.Worker.River.MaxWorkers == 0 {
		cfg.Worker.River.MaxWorkers = cfg.Worker.Concurrency
	}
}

func normalizeRoutes(routes []Route) ([]Route, error) {
	out := make([]Route, 0, len(routes))
	for i := range routes {
		route := routes[i]
		route.When = strings.TrimSpace(route.When)
		route.Sinks = normalizeNames(route.Sinks)
		if route.When == "" || len(route.Sinks) == 0 {
			return nil, fmt.Errorf("route %d is missing when or sinks", i)
		}
		out = append(out, route)
	}
	return out, nil
}

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
