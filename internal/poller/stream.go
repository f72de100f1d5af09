package poller

import (
	"context"
	"sync"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/cursor"
	"acs-event-bridge/internal/types"
)

// streamPause is the idle wait between tail rounds once a device is caught
// up to the lag-adjusted present.
const streamPause = time.Second

// Stream executes the lag-adjusted tail loop: each round chases the device
// clock minus the configured lag in slice-sized windows, widening empty
// slices once, until the context is cancelled.
func (p *Poller) Stream(ctx context.Context) error {
	p.logger.WithField("devices", len(p.cfg.Devices)).Info("Stream starting")

	var wg sync.WaitGroup
	for i := range p.cfg.Devices {
		dev := &p.cfg.Devices[i]
		wg.Add(1)
		go func(dev *config.Device) {
			defer wg.Done()
			p.streamDevice(ctx, dev)
		}(dev)
	}
	wg.Wait()

	p.logger.Info("Stream stopped")
	return ctx.Err()
}

func (p *Poller) streamDevice(ctx context.Context, dev *config.Device) {
	u := p.newDeviceUnit(dev)
	slice := time.Duration(p.cfg.Stream.SliceMinutes) * time.Minute
	lag := time.Duration(p.cfg.Stream.LagSeconds) * time.Second
	initBack := time.Duration(p.cfg.Stream.InitBackMinutes) * time.Minute

	for {
		p.streamRound(ctx, u, slice, lag, initBack)

		select {
		case <-ctx.Done():
			u.logger.Info("Stream unit shutting down")
			return
		case <-time.After(streamPause):
		}
	}
}

// streamRound processes every pending slice up to deviceNow minus the lag.
// The lag keeps the tail clear of records the device has not flushed to its
// own log yet.
func (p *Poller) streamRound(ctx context.Context, u *deviceUnit, slice, lag, initBack time.Duration) {
	deviceNow := u.clock.DeviceNow(ctx, u.dev)
	endCursor := deviceNow.Add(-lag)

	var watermark *time.Time
	if wm, ok, err := p.store.Get(u.dev.ID()); err != nil {
		u.logger.WithError(err).Error("Failed to read watermark, skipping round")
		return
	} else if ok {
		watermark = &wm
	}

	start := endCursor.Add(-initBack)
	if watermark != nil && watermark.After(start) {
		start = *watermark
	}

	for start.Before(endCursor) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		window := types.Window{Start: start, End: start.Add(slice)}
		if window.End.After(endCursor) {
			window.End = endCursor
		}
		if window.Empty() {
			return
		}

		processed, fetched, accepted, err := p.processWindow(ctx, u, window, endCursor, slice)
		if err != nil {
			u.logger.WithError(err).WithField("window", window.String()).
				Error("Slice processing failed, will retry next round")
			p.recordRun(u.dev.ID(), fetched, accepted, time.Time{}, err)
			return
		}

		next := cursor.Advance(processed)
		if err := p.store.Put(u.dev.ID(), next); err != nil {
			u.logger.WithError(err).Error("Failed to persist watermark")
			p.recordRun(u.dev.ID(), fetched, accepted, time.Time{}, err)
			return
		}
		p.recordRun(u.dev.ID(), fetched, accepted, next, nil)

		start = next
	}
}
