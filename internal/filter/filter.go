package filter

import (
	"strings"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"
)

// Filter applies the configured acceptance policy to canonical events.
// Every setting resolves device-first, then global.
type Filter struct {
	cfg *config.Config
}

// New creates a filter bound to the loaded configuration.
func New(cfg *config.Config) *Filter {
	return &Filter{cfg: cfg}
}

// Accept reports whether the event passes the direction allow-list and the
// only-successful policy for its device.
//
// An empty allow-list allows every direction. A non-empty list matches
// case-insensitively and honors the ANY wildcard. Events whose direction
// resolved to UNKNOWN additionally require include_unknown_direction, even
// when UNKNOWN itself is listed.
func (f *Filter) Accept(ev *types.CanonicalEvent, dev *config.Device) bool {
	allow := f.cfg.AllowedDirections(dev)
	if len(allow) > 0 {
		matched := false
		for _, want := range allow {
			if strings.EqualFold(want, types.DirectionAny) || strings.EqualFold(want, ev.Direction) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
		if strings.EqualFold(ev.Direction, types.DirectionUnknown) && !f.cfg.IncludeUnknownDirection(dev) {
			return false
		}
	}

	if f.cfg.OnlySuccess(dev) {
		if ev.Success == nil || !*ev.Success {
			return false
		}
	}

	return true
}
