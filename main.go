package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"formhooks/internal"
	"formhooks/pkg/api"
	"formhooks/pkg/record"
	"formhooks/pkg/sinks"
	"formhooks/pkg/storage"
	"formhooks/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatalf("load env file: %v", err)
	}

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Routes: config.Routes,
		Logger: internal.NewLogger("rules"),
	})
	if err != nil {
		logger.Fatalf("compile routes: %v", err)
	}

	var publisher internal.Publisher
	if slices.Contains(config.Sinks.Enabled, "publish") {
		publisher, err = internal.NewPublisher(config.Watermill)
		if err != nil {
			logger.Fatalf("publisher: %v", err)
		}
		defer publisher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := internal.BuildSinks(ctx, config.Sinks, config.Sinks.Enabled, publisher, internal.NewLogger("sinks"))
	if err != nil {
		logger.Fatalf("sinks: %v", err)
	}
	dispatcher := sinks.NewDispatcher(built,
		sinks.WithTimeout(time.Duration(config.Webhook.SinkTimeoutMS)*time.Millisecond),
		sinks.WithLogger(internal.NewLogger("dispatch")),
		sinks.WithErrorHook(func(sink string, err error) { internal.IncSinkError(sink) }),
	)
	defer dispatcher.Close()

	for _, route := range config.Routes {
		for _, name := range route.Sinks {
			if !slices.Contains(config.Sinks.Enabled, name) {
				logger.Printf("route when=%q names sink %s which is not enabled", route.When, name)
			}
		}
	}

	extractor, err := record.NewExtractor(record.Paths{
		Event:       config.Extract.EventPath,
		RecordID:    config.Extract.RecordIDPath,
		SubmittedAt: config.Extract.SubmittedAtPath,
		Fields:      config.Extract.FieldsPath,
	})
	if err != nil {
		logger.Fatalf("extract paths: %v", err)
	}

	formHandler, err := webhook.NewFormHandler(
		config.Webhook,
		config.Server.MaxBodyBytes,
		extractor,
		ruleEngine,
		dispatcher,
		internal.NewLogger("webhook"),
	)
	if err != nil {
		logger.Fatalf("webhook handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", webhook.HealthHandler)
	mux.Handle(config.Webhook.Path, formHandler)
	logger.Printf("form webhook enabled on %s sinks=%v async=%t", config.Webhook.Path, dispatcher.Names(), config.Webhook.Async)

	for _, sink := range built {
		if storeSink, ok := sink.(*storage.Sink); ok {
			mux.Handle("/api/submissions", &api.SubmissionsHandler{
				Store:        storeSink.Store(),
				Secret:       config.Webhook.Secret,
				SecretHeader: config.Webhook.SecretHeader,
				Logger:       internal.NewLogger("api"),
			})
			logger.Printf("submissions api enabled on /api/submissions")
		}
	}
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	var handler http.Handler = mux
	handler = internal.NewRateLimitHandler(handler, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	handler = internal.NewRequestIDHandler(handler)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Printf("waiting for in-flight deliveries: %v", err)
	}
}
