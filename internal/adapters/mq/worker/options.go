package worker

import (
	"github.com/okian/teamrun/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDeduper guards deliveries so each event key reaches the sink once.
// Workers of one pool must share the same deduper.
func WithDeduper(d Deduper) Option {
	return func(w *InMemoryWorker) {
		w.deduper = d
	}
}

func withBusyCounter(c busyCounter) Option {
	return func(w *InMemoryWorker) {
		w.busy = c
	}
}
