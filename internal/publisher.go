package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	"formhooks/pkg/record"
)

// Publisher hands records to one or more message drivers.
type Publisher interface {
	Publish(ctx context.Context, topic string, rec record.Record) error
	// PublishForDrivers publishes through the named drivers only. An empty
	// list means every driver the publisher was built with.
	PublishForDrivers(ctx context.Context, topic string, rec record.Record, drivers []string) error
	Close() error
}

// PublisherFactory builds the Watermill publisher for one driver. The
// returned close func, if any, runs after the publisher is closed.
type PublisherFactory func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var publisherFactories = map[string]PublisherFactory{
	"gochannel": newGoChannelPublisher,
	"http":      newHTTPPublisher,
	"kafka":     newKafkaPublisher,
	"nats":      newNATSPublisher,
	"amqp":      newAMQPPublisher,
	"sql":       newSQLPublisher,
}

// RegisterPublisherDriver adds or replaces a Watermill driver.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	if name == "" || factory == nil {
		return
	}
	publisherFactories[strings.ToLower(name)] = factory
}

// driverPublisher is one built driver inside the mux.
type driverPublisher interface {
	Publish(ctx context.Context, topic string, rec record.Record) error
	Close() error
}

// NewPublisher builds every configured driver, retrying each per
// publish_retry. Drivers that still fail are logged and left out; it is an
// error only when none could be built.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := cfg.Drivers
	if len(drivers) == 0 {
		drivers = []string{cfg.Driver}
	}
	mux := &publisherMux{publishers: make(map[string]driverPublisher, len(drivers))}
	for _, driver := range drivers {
		driver = strings.ToLower(strings.TrimSpace(driver))
		if driver == "" {
			driver = "gochannel"
		}
		if _, ok := mux.publishers[driver]; ok {
			continue
		}
		pub, err := retry(cfg.PublishRetry, func() (driverPublisher, error) {
			return newDriverPublisher(cfg, driver, logger)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		mux.publishers[driver] = pub
		mux.order = append(mux.order, driver)
	}
	if len(mux.order) == 0 {
		return nil, errors.New("no publishers available")
	}
	return mux, nil
}

func newDriverPublisher(cfg WatermillConfig, driver string, logger watermill.LoggerAdapter) (driverPublisher, error) {
	if driver == "riverqueue" {
		pub, err := newRiverQueuePublisher(cfg.RiverQueue)
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
	factory, ok := publisherFactories[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported watermill driver: %s", driver)
	}
	pub, closeFn, err := factory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &watermillDriver{publisher: pub, closeFn: closeFn}, nil
}

// retry runs build up to cfg.Attempts times with a fixed delay, since
// brokers are often still starting when the server comes up.
func retry[T any](cfg PublishRetryConfig, build func() (T, error)) (T, error) {
	attempts := max(cfg.Attempts, 1)
	delay := time.Duration(cfg.DelayMS) * time.Millisecond

	var (
		built T
		err   error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if built, err = build(); err == nil {
			return built, nil
		}
		if attempt < attempts {
			time.Sleep(delay)
		}
	}
	return built, err
}

// watermillDriver encodes records as JSON messages.
type watermillDriver struct {
	publisher message.Publisher
	closeFn   func() error
}

func (w *watermillDriver) Publish(ctx context.Context, topic string, rec record.Record) error {
	msg, err := recordMessage(ctx, rec)
	if err != nil {
		return err
	}
	return w.publisher.Publish(topic, msg)
}

func (w *watermillDriver) Close() error {
	err := w.publisher.Close()
	if w.closeFn != nil {
		err = errors.Join(err, w.closeFn())
	}
	return err
}

// recordMessage carries the record JSON with record_id, event, request_id
// and repaired in the metadata so consumers can filter without decoding.
func recordMessage(ctx context.Context, rec record.Record) (*message.Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("record_id", rec.RecordID)
	msg.Metadata.Set("event", rec.Event)
	if rec.RequestID != "" {
		msg.Metadata.Set("request_id", rec.RequestID)
	}
	if rec.Repaired {
		msg.Metadata.Set("repaired", "true")
	}
	msg.SetContext(ctx)
	return msg, nil
}

type publisherMux struct {
	publishers map[string]driverPublisher
	order      []string
}

func (m *publisherMux) Publish(ctx context.Context, topic string, rec record.Record) error {
	return m.PublishForDrivers(ctx, topic, rec, nil)
}

func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, rec record.Record, drivers []string) error {
	if len(drivers) == 0 {
		drivers = m.order
	}
	var err error
	for _, driver := range drivers {
		pub, ok := m.publishers[strings.ToLower(driver)]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if publishErr := pub.Publish(ctx, topic, rec); publishErr != nil {
			IncPublishError(driver)
			err = errors.Join(err, fmt.Errorf("%s: %w", driver, publishErr))
		}
	}
	return err
}

func (m *publisherMux) Close() error {
	var err error
	for _, driver := range m.order {
		if closeErr := m.publishers[driver].Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", driver, closeErr))
		}
	}
	return err
}

func newGoChannelPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil, nil
}

func newHTTPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	mode := strings.ToLower(cfg.HTTP.Mode)
	if !slices.Contains([]string{"topic_url", "base_url"}, mode) {
		return nil, nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
	}
	if mode == "base_url" && cfg.HTTP.BaseURL == "" {
		return nil, nil, errors.New("http base_url is required for base_url mode")
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			target, err := httpTargetURL(cfg.HTTP, topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	return pub, nil, err
}

func newKafkaPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, errors.New("kafka brokers are required")
	}
	pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	return pub, nil, err
}

func newNATSPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingPublisherConfig{
		ClusterID: cfg.NATS.ClusterID,
		ClientID:  cfg.NATS.ClientID,
		Marshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
	return pub, nil, err
}

func newAMQPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.AMQP.URL == "" {
		return nil, nil, errors.New("amqp url is required")
	}
	var amqpCfg wmamqp.Config
	switch strings.ToLower(cfg.AMQP.Mode) {
	case "", "durable_queue":
		amqpCfg = wmamqp.NewDurableQueueConfig(cfg.AMQP.URL)
	case "nondurable_queue":
		amqpCfg = wmamqp.NewNonDurableQueueConfig(cfg.AMQP.URL)
	case "durable_pubsub":
		amqpCfg = wmamqp.NewDurablePubSubConfig(cfg.AMQP.URL, nil)
	case "nondurable_pubsub":
		amqpCfg = wmamqp.NewNonDurablePubSubConfig(cfg.AMQP.URL, nil)
	default:
		return nil, nil, fmt.Errorf("unsupported amqp mode: %s", cfg.AMQP.Mode)
	}
	pub, err := wmamqp.NewPublisher(amqpCfg, logger)
	return pub, nil, err
}

func newSQLPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, nil, errors.New("sql driver and dsn are required")
	}
	var schema wmsql.SchemaAdapter
	switch strings.ToLower(cfg.SQL.Dialect) {
	case "postgres", "postgresql":
		schema = wmsql.DefaultPostgreSQLSchema{}
	case "mysql":
		schema = wmsql.DefaultMySQLSchema{}
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", cfg.SQL.Dialect)
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: cfg.SQL.AutoInitializeSchema || cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pub, db.Close, nil
}

// httpTargetURL resolves where the http driver posts a topic. In topic_url
// mode the topic is the URL; in base_url mode it is appended as a path.
func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		base := strings.TrimRight(cfg.BaseURL, "/")
		if topic == "" {
			return base, nil
		}
		return base + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
