package worker

import (
	"os"

	"gopkg.in/yaml.v3"
)

// SubscriberConfig is the watermill section of the shared config file, as
// the worker reads it.
type SubscriberConfig struct {
	Driver  string   `yaml:"driver"`
	Drivers []string `yaml:"drivers"`

	GoChannel struct {
		OutputChannelBuffer            int64 `yaml:"output_buffer"`
		Persistent                     bool  `yaml:"persistent"`
		BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
	} `yaml:"gochannel"`
	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		ConsumerGroup string   `yaml:"consumer_group"`
	} `yaml:"kafka"`
	NATS struct {
		ClusterID      string `yaml:"cluster_id"`
		ClientID       string `yaml:"client_id"`
		ClientIDSuffix string `yaml:"client_id_suffix"`
		URL            string `yaml:"url"`
		Durable        string `yaml:"durable"`
	} `yaml:"nats"`
	AMQP struct {
		URL  string `yaml:"url"`
		Mode string `yaml:"mode"`
	} `yaml:"amqp"`
	SQL struct {
		Driver               string `yaml:"driver"`
		DSN                  string `yaml:"dsn"`
		Dialect              string `yaml:"dialect"`
		ConsumerGroup        string `yaml:"consumer_group"`
		InitializeSchema     bool   `yaml:"initialize_schema"`
		AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
	} `yaml:"sql"`

	// Retry reuses publish_retry: the same brokers are slow to start for both sides.
	Retry RetryConfig `yaml:"publish_retry"`
}

// RetryConfig bounds subscriber build attempts.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadSubscriberConfig reads the watermill section of the config file at
// path. worker.kafka.consumer_group and worker.sql.consumer_group override
// the shared values so the worker consumes under its own group.
func LoadSubscriberConfig(path string) (SubscriberConfig, error) {
	var file struct {
		Watermill SubscriberConfig `yaml:"watermill"`
		Worker    struct {
			Kafka struct {
				ConsumerGroup string `yaml:"consumer_group"`
			} `yaml:"kafka"`
			SQL struct {
				ConsumerGroup string `yaml:"consumer_group"`
			} `yaml:"sql"`
		} `yaml:"worker"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SubscriberConfig{}, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return SubscriberConfig{}, err
	}

	cfg := file.Watermill
	if group := file.Worker.Kafka.ConsumerGroup; group != "" {
		cfg.Kafka.ConsumerGroup = group
	}
	if group := file.Worker.SQL.ConsumerGroup; group != "" {
		cfg.SQL.ConsumerGroup = group
	}

	if cfg.Driver == "" && len(cfg.Drivers) == 0 {
		cfg.Driver = "gochannel"
	}
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.NATS.ClientIDSuffix == "" {
		cfg.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "formhooks-worker"
	}
	if cfg.SQL.ConsumerGroup == "" {
		cfg.SQL.ConsumerGroup = "formhooks-worker"
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 10
	}
	if cfg.Retry.DelayMS == 0 {
		cfg.Retry.DelayMS = 2000
	}
	return cfg, nil
}
