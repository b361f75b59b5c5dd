package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON on a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSSink connects to url and publishes events to subject.
func NewNATSSink(url, token, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("patrolstats"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSSink{conn: nc, subject: subject, logger: logger}, nil
}

// Subject returns the per-run subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	if e.RunID == "" {
		return s.subject
	}
	return s.subject + "." + e.RunID
}

func (s *NATSSink) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("marshal progress event", "error", err)
		return
	}
	if err := s.conn.Publish(s.Subject(e), payload); err != nil {
		s.logger.Warn("publish progress event", "error", err, "seq", e.Seq)
	}
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		s.logger.Debug("nats flush on close", "error", err)
	}
	s.conn.Close()
}
