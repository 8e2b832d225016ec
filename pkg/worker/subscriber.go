package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// SubscriberFactory builds the subscriber for one driver.
type SubscriberFactory func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberFactories = map[string]SubscriberFactory{
	"gochannel": newGoChannelSubscriber,
	"amqp":      newAMQPSubscriber,
	"nats":      newNATSSubscriber,
	"kafka":     newKafkaSubscriber,
	"sql":       newSQLSubscriber,
}

// RegisterSubscriberDriver adds or replaces a subscriber driver.
func RegisterSubscriberDriver(name string, factory SubscriberFactory) {
	if name == "" || factory == nil {
		return
	}
	subscriberFactories[strings.ToLower(name)] = factory
}

// BuildSubscriber creates the subscriber records are consumed from. With
// several drivers the streams are merged and every message is tagged with
// a "driver" metadata key; drivers that fail to start are skipped.
// Builds are retried while brokers come up, until ctx is done.
func BuildSubscriber(ctx context.Context, cfg SubscriberConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := normalizeDrivers(append(slices.Clone(cfg.Drivers), cfg.Driver))
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}

	if len(cfg.Drivers) == 0 {
		factory, ok := subscriberFactories[drivers[0]]
		if !ok {
			return nil, fmt.Errorf("unsupported subscriber driver: %s", drivers[0])
		}
		return buildWithRetry(ctx, cfg.Retry, func() (message.Subscriber, error) {
			return factory(cfg, logger)
		})
	}

	merged := &mergedSubscriber{buffer: cfg.GoChannel.OutputChannelBuffer}
	for _, driver := range drivers {
		factory, ok := subscriberFactories[driver]
		if !ok {
			logger.Info("skipping unsupported subscriber driver", watermill.LogFields{"driver": driver})
			continue
		}
		sub, err := buildWithRetry(ctx, cfg.Retry, func() (message.Subscriber, error) {
			return factory(cfg, logger)
		})
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		merged.sources = append(merged.sources, source{driver: driver, sub: sub})
	}
	if len(merged.sources) == 0 {
		return nil, errors.New("no supported subscriber drivers configured")
	}
	return merged, nil
}

func buildWithRetry(ctx context.Context, cfg RetryConfig, build func() (message.Subscriber, error)) (message.Subscriber, error) {
	attempts := max(cfg.Attempts, 1)
	delay := time.Duration(cfg.DelayMS) * time.Millisecond

	var err error
	for attempt := 1; ; attempt++ {
		var sub message.Subscriber
		if sub, err = build(); err == nil {
			return sub, nil
		}
		if attempt == attempts {
			return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func newGoChannelSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil
}

func newAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, errors.New("amqp url is required")
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
		return nil, fmt.Errorf("unsupported amqp mode: %s", cfg.AMQP.Mode)
	}
	return wmamqp.NewSubscriber(amqpCfg, logger)
}

func newNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	// The server publishes with the configured client id; the suffix keeps
	// the worker's streaming connection distinct.
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
		DurableName: cfg.NATS.Durable,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	return wmnats.NewStreamingSubscriber(natsCfg, logger)
}

func newKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

func newSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	var (
		schema  wmsql.SchemaAdapter
		offsets wmsql.OffsetsAdapter
	)
	switch strings.ToLower(cfg.SQL.Dialect) {
	case "postgres", "postgresql":
		schema, offsets = wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}
	case "mysql":
		schema, offsets = wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", cfg.SQL.Dialect)
	}

	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: cfg.SQL.InitializeSchema || cfg.SQL.AutoInitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &dbSubscriber{Subscriber: sub, db: db}, nil
}

// dbSubscriber closes the sql.DB it owns after the subscriber.
type dbSubscriber struct {
	message.Subscriber
	db *sql.DB
}

func (s *dbSubscriber) Close() error {
	return errors.Join(s.Subscriber.Close(), s.db.Close())
}

type source struct {
	driver string
	sub    message.Subscriber
}

// mergedSubscriber fans several driver streams into one channel.
type mergedSubscriber struct {
	sources []source
	buffer  int64
}

func (m *mergedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	streams := make([]<-chan *message.Message, len(m.sources))
	for i, src := range m.sources {
		ch, err := src.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.driver, err)
		}
		streams[i] = ch
	}

	buffer := m.buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *message.Message, buffer)

	var wg sync.WaitGroup
	for i, ch := range streams {
		ch := ch
		wg.Add(1)
		go func(driver string) {
			defer wg.Done()
			for msg := range ch {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set("driver", driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(m.sources[i].driver)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *mergedSubscriber) Close() error {
	var err error
	for _, src := range m.sources {
		if closeErr := src.sub.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", src.driver, closeErr))
		}
	}
	return err
}

func normalizeDrivers(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
