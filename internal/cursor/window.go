package cursor

import (
	"time"

	"acs-event-bridge/internal/types"
)

// widenFactor is the ceiling for adaptive widening: an empty window may be
// retried once at up to this multiple of the base slice.
const widenFactor = 3

// Next computes the single window to fetch next for a device.
//
// With no prior watermark the window starts initialBacklog before the device
// clock; otherwise it starts at the watermark. The end is capped at deviceNow
// so the device is never asked about the future. The returned window may be
// empty, in which case the caller must skip it without advancing.
func Next(watermark *time.Time, deviceNow time.Time, slice, initialBacklog time.Duration) types.Window {
	var start time.Time
	if watermark != nil {
		start = *watermark
	} else {
		start = deviceNow.Add(-initialBacklog)
	}

	end := start.Add(slice)
	if end.After(deviceNow) {
		end = deviceNow
	}

	return types.Window{Start: start, End: end}
}

// Advance returns the watermark after successfully processing a window. The
// extra second skips the boundary record on the next fetch: re-delivering it
// is traded away in favor of not double-counting it, a deliberate
// at-least-once/at-most-once trade-off at the window edge.
func Advance(w types.Window) time.Time {
	return w.End.Add(time.Second)
}

// Widen grows a window that yielded zero raw records, for one retry. The
// start never moves backward; the end grows to at most widenFactor times the
// base slice past start, clamped to deviceNow. ok is false when no wider
// window is possible, meaning the empty result should be accepted.
func Widen(w types.Window, deviceNow time.Time, slice time.Duration) (types.Window, bool) {
	wideEnd := w.Start.Add(time.Duration(widenFactor) * slice)
	if wideEnd.After(deviceNow) {
		wideEnd = deviceNow
	}
	if !wideEnd.After(w.End) {
		return w, false
	}
	return types.Window{Start: w.Start, End: wideEnd}, true
}
