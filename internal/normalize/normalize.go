package normalize

import (
	"strconv"
	"strings"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"
)

// timeFields are the known time field names across firmware revisions, in
// preference order.
var timeFields = []string{"time", "dateTime", "eventTime", "occurTime", "captureTime"}

// Normalizer maps raw device records into canonical events using the
// configuration-supplied lookup tables.
type Normalizer struct {
	cfg *config.Config
}

// New creates a normalizer bound to the loaded configuration.
func New(cfg *config.Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize builds exactly one canonical event from a raw record. Direction
// is always set, defaulting to UNKNOWN. Success is nil when the device has no
// success-code table configured. The verbatim record is retained as RawJSON
// for auditability.
func (n *Normalizer) Normalize(rec types.RawRecord, dev *config.Device) *types.CanonicalEvent {
	ev := &types.CanonicalEvent{
		Device:     dev.ID(),
		EventTime:  normalizeTime(firstString(rec, timeFields...)),
		Name:       stringField(rec, "name"),
		EmployeeNo: firstString(rec, "employeeNoString", "employeeNo"),
		CardNo:     stringField(rec, "cardNo"),
		CardType:   stringField(rec, "cardType"),
		Major:      intField(rec, "major"),
		Minor:      intField(rec, "minor"),
		DoorNo:     intField(rec, "doorNo"),
		ReaderNo:   intField(rec, "readerNo"),
		RawJSON:    rec.JSON(),
	}

	ev.Direction = n.direction(ev.ReaderNo, dev)
	ev.Success = n.success(ev.Minor, dev)

	return ev
}

// direction resolves the reader direction table device-first, then global,
// defaulting to UNKNOWN when no table or no entry matches.
func (n *Normalizer) direction(readerNo *int, dev *config.Device) string {
	if readerNo == nil {
		return types.DirectionUnknown
	}
	table := n.cfg.ReaderDirections(dev)
	if table == nil {
		return types.DirectionUnknown
	}
	if d, ok := table[strconv.Itoa(*readerNo)]; ok && d != "" {
		return d
	}
	return types.DirectionUnknown
}

// success is a membership test against the resolved success-minor-code list.
// No list configured means the state is unknown, not false.
func (n *Normalizer) success(minor *int, dev *config.Device) *bool {
	codes := n.cfg.SuccessMinorCodes(dev)
	if codes == nil || minor == nil {
		return nil
	}
	ok := false
	for _, c := range codes {
		if c == *minor {
			ok = true
			break
		}
	}
	return &ok
}

// normalizeTime re-formats a parsable offset-aware timestamp to RFC3339.
// Unparsable input is retained verbatim rather than discarded.
func normalizeTime(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return value
}

func stringField(rec types.RawRecord, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func firstString(rec types.RawRecord, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringField(rec, k)); s != "" {
			return s
		}
	}
	return ""
}

// intField reads a numeric field that may arrive as a JSON number or, on the
// XML path, as a string.
func intField(rec types.RawRecord, key string) *int {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return &i
		}
	}
	return nil
}
