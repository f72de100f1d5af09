package poller

import (
	"context"
	"sync"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/cursor"
)

// Run executes the unbounded poll loop: one goroutine per configured device,
// each advancing its own watermark window by window until the context is
// cancelled. Cancellation takes effect between windows, never mid-page.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.WithField("devices", len(p.cfg.Devices)).Info("Poller starting")

	var wg sync.WaitGroup
	for i := range p.cfg.Devices {
		dev := &p.cfg.Devices[i]
		wg.Add(1)
		go func(dev *config.Device) {
			defer wg.Done()
			p.pollDevice(ctx, dev)
		}(dev)
	}
	wg.Wait()

	p.logger.Info("Poller stopped")
	return ctx.Err()
}

// pollDevice is one device unit's loop. A failed tick is logged and retried
// on the next tick without advancing the watermark; one device's failure
// never blocks the others.
func (p *Poller) pollDevice(ctx context.Context, dev *config.Device) {
	u := p.newDeviceUnit(dev)
	tick := time.Duration(p.cfg.Poll.TickSeconds) * time.Second
	slice := time.Duration(p.cfg.Poll.WindowMinutes) * time.Minute

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		p.pollTick(ctx, u, slice)

		select {
		case <-ctx.Done():
			u.logger.Info("Device unit shutting down")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollTick(ctx context.Context, u *deviceUnit, slice time.Duration) {
	deviceNow := u.clock.DeviceNow(ctx, u.dev)

	var watermark *time.Time
	if wm, ok, err := p.store.Get(u.dev.ID()); err != nil {
		u.logger.WithError(err).Error("Failed to read watermark, skipping tick")
		p.recordRun(u.dev.ID(), 0, 0, time.Time{}, err)
		return
	} else if ok {
		watermark = &wm
	}

	backlog := time.Duration(p.cfg.Stream.InitBackMinutes) * time.Minute
	if backlog <= 0 {
		backlog = slice
	}
	window := cursor.Next(watermark, deviceNow, slice, backlog)
	if window.Empty() {
		u.logger.WithField("device_now", deviceNow.Format(time.RFC3339)).
			Debug("No new window yet, skipping tick")
		return
	}

	processed, fetched, accepted, err := p.processWindow(ctx, u, window, deviceNow, slice)
	if err != nil {
		// Watermark untouched: the same window is re-fetched next tick.
		u.logger.WithError(err).WithField("window", window.String()).
			Error("Window processing failed, will retry next tick")
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
}
