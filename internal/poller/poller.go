package poller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/cursor"
	"acs-event-bridge/internal/device"
	"acs-event-bridge/internal/fetch"
	"acs-event-bridge/internal/filter"
	"acs-event-bridge/internal/logging"
	"acs-event-bridge/internal/normalize"
	"acs-event-bridge/internal/sink"
	"acs-event-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Broadcaster receives every accepted event, for live observers. Optional.
type Broadcaster interface {
	Broadcast(ev types.CanonicalEvent)
}

// DeviceStatus is a point-in-time snapshot of one device unit's progress.
type DeviceStatus struct {
	DeviceID         string    `json:"deviceId"`
	Watermark        time.Time `json:"watermark,omitempty"`
	WindowsProcessed int64     `json:"windowsProcessed"`
	EventsFetched    int64     `json:"eventsFetched"`
	EventsAccepted   int64     `json:"eventsAccepted"`
	LastError        string    `json:"lastError,omitempty"`
	LastRunAt        time.Time `json:"lastRunAt,omitempty"`
}

// Poller orchestrates the pipeline: device clock, window cursor, page fetch,
// normalization, filtering, and sink dispatch. One independent unit per
// configured device; each unit exclusively owns its watermark entry.
type Poller struct {
	cfg        *config.Config
	store      cursor.Store
	dispatcher *sink.Dispatcher
	normalizer *normalize.Normalizer
	filter     *filter.Filter
	logger     *logrus.Logger
	feed       Broadcaster

	mu     sync.Mutex
	status map[string]*DeviceStatus
}

// New creates a poller over the configured devices and sinks.
func New(cfg *config.Config, store cursor.Store, dispatcher *sink.Dispatcher, logger *logrus.Logger) *Poller {
	return &Poller{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		normalizer: normalize.New(cfg),
		filter:     filter.New(cfg),
		logger:     logger,
		status:     make(map[string]*DeviceStatus),
	}
}

// SetBroadcaster attaches a live event feed. Must be called before Run.
func (p *Poller) SetBroadcaster(b Broadcaster) {
	p.feed = b
}

// Snapshot returns the current status of every device unit.
func (p *Poller) Snapshot() []DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DeviceStatus, 0, len(p.status))
	for _, s := range p.status {
		out = append(out, *s)
	}
	return out
}

func (p *Poller) statusFor(deviceID string) *DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.status[deviceID]
	if !ok {
		s = &DeviceStatus{DeviceID: deviceID}
		p.status[deviceID] = s
	}
	return s
}

func (p *Poller) recordRun(deviceID string, fetched, accepted int, watermark time.Time, runErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.status[deviceID]
	if !ok {
		s = &DeviceStatus{DeviceID: deviceID}
		p.status[deviceID] = s
	}
	s.LastRunAt = time.Now()
	s.EventsFetched += int64(fetched)
	s.EventsAccepted += int64(accepted)
	if runErr != nil {
		s.LastError = runErr.Error()
	} else {
		s.LastError = ""
		s.WindowsProcessed++
		if !watermark.IsZero() {
			s.Watermark = watermark
		}
	}
}

// deviceUnit bundles the per-device collaborators. Each unit gets its own
// HTTP client because TLS policy is per device; the sink dispatcher is shared
// (database/sql pools connections, the HTTP sinks are stateless per request).
type deviceUnit struct {
	dev     *config.Device
	client  *http.Client
	clock   *device.Clock
	fetcher *fetch.PageFetcher
	logger  *logrus.Entry
}

func (p *Poller) newDeviceUnit(dev *config.Device) *deviceUnit {
	timeout := time.Duration(p.cfg.Fetch.TimeoutSeconds) * time.Second
	client := device.NewHTTPClient(timeout, dev.InsecureTLS)
	logger := logging.NewDeviceLogger(p.logger, dev.ID())
	return &deviceUnit{
		dev:     dev,
		client:  client,
		clock:   device.NewClock(client, p.cfg, logger),
		fetcher: fetch.NewPageFetcher(client, p.cfg, logger),
		logger:  logger,
	}
}

// processWindow fetches one window, widening it once if it came back empty,
// then normalizes, filters, and dispatches. Returns the (possibly widened)
// window that was actually processed along with the fetched/accepted counts.
func (p *Poller) processWindow(ctx context.Context, u *deviceUnit, window types.Window, deviceNow time.Time, slice time.Duration) (types.Window, int, int, error) {
	raw, err := u.fetcher.FetchWindow(ctx, u.dev, window, p.cfg.Fetch.PageSize)
	if err != nil {
		return window, len(raw), 0, err
	}

	if len(raw) == 0 {
		if wider, ok := cursor.Widen(window, deviceNow, slice); ok {
			u.logger.WithFields(logrus.Fields{
				"window": window.String(),
				"wider":  wider.String(),
			}).Debug("Empty window, retrying widened")
			raw, err = u.fetcher.FetchWindow(ctx, u.dev, wider, p.cfg.Fetch.PageSize)
			if err != nil {
				return window, len(raw), 0, err
			}
			window = wider
		}
	}

	accepted := make([]types.CanonicalEvent, 0, len(raw))
	for _, rec := range raw {
		ev := p.normalizer.Normalize(rec, u.dev)
		if p.filter.Accept(ev, u.dev) {
			accepted = append(accepted, *ev)
		}
	}

	u.logger.WithFields(logrus.Fields{
		"window":   window.String(),
		"raw":      len(raw),
		"accepted": len(accepted),
	}).Info("Window fetched")

	if len(accepted) > 0 {
		if err := p.dispatcher.Dispatch(ctx, accepted); err != nil {
			return window, len(raw), len(accepted), err
		}
		if p.feed != nil {
			for i := range accepted {
				p.feed.Broadcast(accepted[i])
			}
		}
	}

	return window, len(raw), len(accepted), nil
}
