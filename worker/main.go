// Command worker runs the slower sinks out of process. It consumes records
// published by the server's publish sink, from a Watermill subscriber or
// from River jobs in Postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/joho/godotenv"

	"formhooks/internal"
	"formhooks/pkg/sinks"
	"formhooks/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	logger := internal.NewLogger("worker")
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatalf("load env file: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appCfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	names := workerSinks(appCfg)
	if len(names) == 0 {
		logger.Fatalf("no sinks configured for the worker")
	}
	built, err := internal.BuildSinks(ctx, appCfg.Sinks, names, nil, internal.NewLogger("sinks"))
	if err != nil {
		logger.Fatalf("sinks: %v", err)
	}
	dispatcher := sinks.NewDispatcher(built,
		sinks.WithTimeout(time.Duration(appCfg.Webhook.SinkTimeoutMS)*time.Millisecond),
		sinks.WithLogger(internal.NewLogger("dispatch")),
		sinks.WithErrorHook(func(sink string, err error) { internal.IncSinkError(sink) }),
	)
	defer dispatcher.Close()

	rules, err := internal.NewRuleEngine(internal.RulesConfig{Routes: appCfg.Routes, Logger: internal.NewLogger("rules")})
	if err != nil {
		logger.Fatalf("compile routes: %v", err)
	}
	handler := worker.DispatchHandler(dispatcher, rules)

	switch appCfg.Worker.Driver {
	case "riverqueue":
		runRiver(ctx, appCfg, handler, logger)
	case "watermill":
		runWatermill(ctx, *configPath, appCfg, handler, logger)
	default:
		logger.Fatalf("unsupported worker driver: %s", appCfg.Worker.Driver)
	}
}

// workerSinks drops "publish", which would loop records back onto the bus.
func workerSinks(cfg internal.Config) []string {
	names := cfg.Worker.Sinks
	if len(names) == 0 {
		names = cfg.Sinks.Enabled
	}
	return slices.DeleteFunc(slices.Clone(names), func(name string) bool { return name == "publish" })
}

func runWatermill(ctx context.Context, configPath string, appCfg internal.Config, handler worker.Handler, logger *log.Logger) {
	subCfg, err := worker.LoadSubscriberConfig(configPath)
	if err != nil {
		logger.Fatalf("load subscriber config: %v", err)
	}
	sub, err := worker.BuildSubscriber(ctx, subCfg)
	if err != nil {
		logger.Fatalf("subscriber: %v", err)
	}

	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithTopics(appCfg.Worker.Topic),
		worker.WithConcurrency(appCfg.Worker.Concurrency),
		worker.WithFailurePolicy(worker.AckOnError{}),
		worker.WithLogger(logger),
		worker.WithMiddleware(worker.MiddlewareFromWatermill(middleware.Recoverer)),
		worker.WithListener(metricsListener()),
	)
	defer func() {
		if err := wk.Close(); err != nil {
			logger.Printf("subscriber close: %v", err)
		}
	}()
	wk.HandleTopic(appCfg.Worker.Topic, handler)

	logger.Printf("consuming topic=%s driver=%s", appCfg.Worker.Topic, subCfg.Driver)
	if err := wk.Run(ctx); err != nil {
		logger.Fatal(err)
	}
}

func runRiver(ctx context.Context, appCfg internal.Config, handler worker.Handler, logger *log.Logger) {
	listener := metricsListener()
	counted := func(ctx context.Context, evt *worker.Event) error {
		err := handler(ctx, evt)
		listener.OnDone(ctx, evt, err)
		return err
	}

	runner, err := worker.NewRiverRunner(ctx, worker.RiverConfig{
		DSN:        appCfg.Worker.River.DSN,
		Queue:      appCfg.Worker.River.Queue,
		MaxWorkers: appCfg.Worker.River.MaxWorkers,
		Logger:     slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}, counted, logger)
	if err != nil {
		logger.Fatalf("river client: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		logger.Fatalf("river start: %v", err)
	}
	logger.Printf("consuming river queue=%s", appCfg.Worker.River.Queue)

	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := runner.Stop(stopCtx); err != nil {
		logger.Printf("river stop: %v", err)
	}
}

func metricsListener() worker.Listener {
	return worker.Listener{
		OnDone: func(ctx context.Context, evt *worker.Event, err error) {
			if err != nil {
				internal.IncDelivery("failed")
				return
			}
			internal.IncDelivery("delivered")
		},
		OnUndecodable: func(ctx context.Context, topic string, err error) {
			internal.IncDelivery("undecodable")
		},
	}
}
