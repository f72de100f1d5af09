package sink

import (
	"context"

	"acs-event-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// LogSink records how many events each batch carried. Useful while setting up
// a deployment before any real sink is configured.
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink creates the diagnostic sink.
func NewLogSink(logger *logrus.Entry) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Idempotent implements Sink. Logging twice is harmless.
func (s *LogSink) Idempotent() bool { return true }

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, batch []types.CanonicalEvent) error {
	if len(batch) == 0 {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"count":  len(batch),
		"device": batch[0].Device,
	}).Info("Accepted events")
	if s.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		for i := range batch {
			ev := &batch[i]
			s.logger.WithFields(logrus.Fields{
				"event_time": ev.EventTime,
				"direction":  ev.Direction,
				"card_no":    ev.CardNo,
			}).Debug("Event")
		}
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
