package sink

import (
	"fmt"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/logging"

	"github.com/sirupsen/logrus"
)

// BuildDispatcher creates every enabled sink from the configuration. A sink
// that fails to initialize is a startup error: sinks are part of the
// delivery contract, not best-effort.
func BuildDispatcher(cfg *config.Config, logger *logrus.Logger) (*Dispatcher, error) {
	var sinks []Sink

	if cfg.Sink.Database.Enabled {
		s, err := NewRelationalSink(cfg.Sink.Database, logging.NewServiceLogger(logger, "sink-database"))
		if err != nil {
			return nil, fmt.Errorf("database sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Sink.HTTP.Enabled {
		sinks = append(sinks, NewHTTPSink(cfg.Sink.HTTP, logging.NewServiceLogger(logger, "sink-http")))
	}

	if cfg.Sink.Redis.Enabled {
		s, err := NewRedisSink(cfg.Sink.Redis, logging.NewServiceLogger(logger, "sink-redis"))
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Sink.Log.Enabled {
		sinks = append(sinks, NewLogSink(logging.NewServiceLogger(logger, "sink-log")))
	}

	return NewDispatcher(sinks, logging.NewServiceLogger(logger, "dispatcher")), nil
}
