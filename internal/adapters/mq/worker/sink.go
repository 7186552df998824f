package worker

import (
	"context"

	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/pkg/logger"
)

// Sink receives committed boards from the feed.
type Sink interface {
	Deliver(ctx context.Context, e model.BoardEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e model.BoardEvent) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, e model.BoardEvent) error { //nolint:gocritic // hugeParam: events travel by value
	return f(ctx, e)
}

// LogSink writes one structured entry per delivered board.
type LogSink struct {
	Logger logger.Logger
}

// NewLogSink returns a sink logging through the "board-feed" logger.
func NewLogSink() *LogSink {
	return &LogSink{Logger: logger.Get().Named("board-feed")}
}

// Deliver logs the event.
func (s *LogSink) Deliver(ctx context.Context, e model.BoardEvent) error { //nolint:gocritic // hugeParam: events travel by value
	s.Logger.Info(ctx, "board committed",
		logger.String("run_id", e.RunID),
		logger.Int64("version", e.Version),
		logger.String("op", e.Op),
		logger.String("outcome", string(e.Outcome.Status)),
		logger.Int("seated", e.Board.Seated()),
		logger.Int("waitlisted", len(e.Board.Waitlist)),
	)
	return nil
}
