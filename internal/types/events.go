package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawRecord is one access-control record exactly as the device returned it.
// The shape varies across firmware revisions and response encodings, so it is
// kept as a loose field-to-value mapping until normalization.
type RawRecord map[string]interface{}

// JSON returns the record serialized back to JSON for audit retention.
func (r RawRecord) JSON() string {
	data, err := json.Marshal(map[string]interface{}(r))
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(r))
	}
	return string(data)
}

// Direction constants for CanonicalEvent.Direction
const (
	DirectionIn      = "IN"
	DirectionOut     = "OUT"
	DirectionUnknown = "UNKNOWN"

	// DirectionAny is the allow-list wildcard accepted by the event filter.
	DirectionAny = "ANY"
)

// CanonicalEvent is the normalized, vendor-agnostic representation of one
// access-control occurrence. Direction is always set (DirectionUnknown when no
// mapping matched). Success is nil when the device has no success-code table
// configured, true/false otherwise.
type CanonicalEvent struct {
	EventTime  string `json:"event_time"`
	Device     string `json:"device"`
	Direction  string `json:"direction"`
	Success    *bool  `json:"success"`
	Major      *int   `json:"major"`
	Minor      *int   `json:"minor"`
	Name       string `json:"name"`
	EmployeeNo string `json:"employee_no"`
	CardNo     string `json:"card_no"`
	CardType   string `json:"card_type"`
	DoorNo     *int   `json:"door_no"`
	ReaderNo   *int   `json:"reader_no"`
	RawJSON    string `json:"raw_json"`
}

// Window is a bounded time interval over which events are fetched from one
// device. Start is inclusive, End exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window covers no time at all. Empty windows must
// be skipped without advancing the device watermark.
func (w Window) Empty() bool {
	return !w.End.After(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s ~ %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
