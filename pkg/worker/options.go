package worker

import (
	"log"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Logger is the subset of *log.Logger the worker writes to.
type Logger interface {
	Printf(format string, args ...interface{})
}

func defaultLogger() Logger {
	return log.New(os.Stdout, "formhooks/worker ", log.LstdFlags|log.Lmicroseconds)
}

// Option configures a Worker.
type Option func(*Worker)

func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) { w.subscriber = sub }
}

// WithTopics subscribes to the record topics. Empty names are ignored.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		for _, topic := range topics {
			if _, ok := w.handlers[topic]; topic != "" && !ok {
				w.handlers[topic] = nil
			}
		}
	}
}

// WithConcurrency bounds the number of records delivered at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithMiddleware wraps every handler. The first middleware is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) { w.middleware = append(w.middleware, mw...) }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(w *Worker) {
		if p != nil {
			w.policy = p
		}
	}
}

func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithListener(l Listener) Option {
	return func(w *Worker) { w.listeners = append(w.listeners, l) }
}
