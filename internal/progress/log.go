package progress

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch e.Kind {
	case KindPage:
		level = slog.LevelDebug
	case KindPageFailed, KindDetailFailed:
		level = slog.LevelWarn
	case KindRunFailed:
		level = slog.LevelError
	}

	logger.Log(context.Background(), level, e.Message,
		"seq", e.Seq,
		"run_id", e.RunID,
		"source", e.Source,
		"kind", e.Kind,
		"page", e.Page,
		"qualifying", e.Qualifying,
		"older", e.Older,
		"streak", e.Streak,
		"accumulated", e.Accumulated,
	)
}
