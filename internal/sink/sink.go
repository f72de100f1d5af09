package sink

import (
	"context"
	"errors"
	"fmt"

	"acs-event-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Sink is a downstream destination that durably receives accepted events.
//
// Idempotent declares whether re-delivering the same batch is safe without
// producing duplicates (for example via a unique constraint). Delivery is
// at-least-once: a window whose dispatch fails is re-fetched on a later tick,
// so non-idempotent sinks may observe duplicates after a partial failure.
type Sink interface {
	Name() string
	Idempotent() bool
	Write(ctx context.Context, batch []types.CanonicalEvent) error
	Close() error
}

// Dispatcher fans an accepted batch out to every enabled sink. Fan-out is
// sequential and non-transactional: a failure in one sink must not skip or
// roll back the others, so there is no cross-sink atomicity.
type Dispatcher struct {
	sinks  []Sink
	logger *logrus.Entry
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Sinks returns the configured sinks.
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Dispatch writes the batch to every sink. All sinks are attempted; the
// joined error of every failure is returned so the caller can retry the
// window without advancing its watermark.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []types.CanonicalEvent) error {
	if len(batch) == 0 {
		return nil
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Write(ctx, batch); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"sink":  s.Name(),
				"count": len(batch),
			}).Error("Sink write failed")
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
			continue
		}
		d.logger.WithFields(logrus.Fields{
			"sink":  s.Name(),
			"count": len(batch),
		}).Debug("Batch dispatched")
	}
	return errors.Join(errs...)
}

// Close closes every sink, returning the first error encountered.
func (d *Dispatcher) Close() error {
	var first error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
