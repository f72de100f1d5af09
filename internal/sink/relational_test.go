package sink

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestRelationalSink(t *testing.T) (*RelationalSink, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE access_events (
			event_time  TEXT,
			device      TEXT,
			direction   TEXT,
			success     INTEGER,
			major       INTEGER,
			minor       INTEGER,
			name        TEXT,
			employee_no TEXT,
			card_no     TEXT,
			card_type   TEXT,
			door_no     INTEGER,
			reader_no   INTEGER,
			raw_json    TEXT,
			UNIQUE(device, event_time, card_no, minor)
		)`)
	require.NoError(t, err)

	sink, err := NewRelationalSink(config.DatabaseSinkConfig{
		Driver: "sqlite3",
		DSN:    path,
		Table:  "access_events",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		sink.Close()
		db.Close()
	})
	return sink, db
}

func sampleEvent(cardNo string) types.CanonicalEvent {
	success := true
	minor := 5
	return types.CanonicalEvent{
		EventTime: "2024-03-01T08:15:30+08:00",
		Device:    "gate-a",
		Direction: types.DirectionIn,
		Success:   &success,
		Minor:     &minor,
		Name:      "Alice",
		CardNo:    cardNo,
		RawJSON:   `{"cardNo":"` + cardNo + `"}`,
	}
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM access_events").Scan(&n))
	return n
}

func TestRelationalSinkWritesBatch(t *testing.T) {
	sink, db := newTestRelationalSink(t)

	batch := []types.CanonicalEvent{sampleEvent("1"), sampleEvent("2"), sampleEvent("3")}
	require.NoError(t, sink.Write(context.Background(), batch))
	assert.Equal(t, 3, countRows(t, db))

	var direction string
	var success int
	require.NoError(t, db.QueryRow(
		"SELECT direction, success FROM access_events WHERE card_no = '1'").Scan(&direction, &success))
	assert.Equal(t, "IN", direction)
	assert.Equal(t, 1, success)
}

func TestRelationalSinkSkipsDuplicates(t *testing.T) {
	sink, db := newTestRelationalSink(t)

	require.NoError(t, sink.Write(context.Background(), []types.CanonicalEvent{sampleEvent("1")}))
	// Redelivery of the same event plus one new one.
	require.NoError(t, sink.Write(context.Background(), []types.CanonicalEvent{sampleEvent("1"), sampleEvent("2")}))

	assert.Equal(t, 2, countRows(t, db))
}

func TestRelationalSinkNullsOptionalFields(t *testing.T) {
	sink, db := newTestRelationalSink(t)

	ev := types.CanonicalEvent{
		EventTime: "2024-03-01T08:15:30+08:00",
		Device:    "gate-a",
		Direction: types.DirectionUnknown,
	}
	require.NoError(t, sink.Write(context.Background(), []types.CanonicalEvent{ev}))

	var success, minor sql.NullInt64
	var name sql.NullString
	require.NoError(t, db.QueryRow(
		"SELECT success, minor, name FROM access_events").Scan(&success, &minor, &name))
	assert.False(t, success.Valid)
	assert.False(t, minor.Valid)
	assert.False(t, name.Valid)
}

func TestRelationalSinkIsIdempotent(t *testing.T) {
	sink, _ := newTestRelationalSink(t)
	assert.True(t, sink.Idempotent())
	assert.Equal(t, "database", sink.Name())
}

func TestBuildDefaultInsertSQL(t *testing.T) {
	pg := buildDefaultInsertSQL("postgres", "access_events")
	assert.Contains(t, pg, "$1")
	assert.Contains(t, pg, "$13")
	assert.NotContains(t, pg, "?")

	lite := buildDefaultInsertSQL("sqlite3", "access_events")
	assert.Contains(t, lite, "?")
	assert.NotContains(t, lite, "$1")
}
