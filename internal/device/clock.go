package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"acs-event-bridge/internal/config"

	"github.com/sirupsen/logrus"
)

// Clock reads a device's authoritative current time. Windowing is anchored to
// the device clock rather than the host clock because the device filters the
// history query by its own time.
type Clock struct {
	client *http.Client
	cfg    *config.Config
	logger *logrus.Entry
}

// NewClock creates a clock reader for the configured time endpoint.
func NewClock(client *http.Client, cfg *config.Config, logger *logrus.Entry) *Clock {
	return &Clock{client: client, cfg: cfg, logger: logger}
}

// timeResponse covers both envelope variants seen across firmware revisions:
// {"Time":{"localTime":...}} and a flattened {"localTime":...}.
type timeResponse struct {
	Time struct {
		LocalTime string `json:"localTime"`
	} `json:"Time"`
	LocalTime string `json:"localTime"`
}

// Now reads the device's current time. Honors the client timeout; any
// failure is returned to the caller, which should fall back to FallbackNow.
func (c *Clock) Now(ctx context.Context, dev *config.Device) (time.Time, error) {
	path := c.cfg.Fetch.TimeAPI
	if path == "" {
		path = "/ISAPI/System/time"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.Contains(path, "format=") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + "format=json"
	}

	reqURL := dev.BaseURL() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build time request: %w", err)
	}
	req.SetBasicAuth(dev.Username, dev.Password)

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("time request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time endpoint returned HTTP %d", resp.StatusCode)
	}

	var body timeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode time response: %w", err)
	}

	localTime := body.Time.LocalTime
	if localTime == "" {
		localTime = body.LocalTime
	}
	if localTime == "" {
		return time.Time{}, fmt.Errorf("time response carried no localTime field")
	}

	t, err := time.Parse(time.RFC3339, localTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse device time %q: %w", localTime, err)
	}
	return t, nil
}

// FallbackNow returns the host wall clock shifted into the configured fixed
// offset. Used when the device clock endpoint cannot be read so that
// windowing still makes progress.
func (c *Clock) FallbackNow() time.Time {
	offset := time.FixedZone("", c.cfg.Fetch.ClockOffsetHours*3600)
	return time.Now().In(offset)
}

// DeviceNow reads the device clock, falling back to the fixed-offset wall
// clock on any failure. The failure itself is logged once per read.
func (c *Clock) DeviceNow(ctx context.Context, dev *config.Device) time.Time {
	now, err := c.Now(ctx, dev)
	if err != nil {
		c.logger.WithError(err).WithField("device", dev.ID()).
			Debug("Device clock unreadable, using fallback wall clock")
		return c.FallbackNow()
	}
	return now
}
