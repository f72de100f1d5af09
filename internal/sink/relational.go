package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// RelationalSink persists events with one statement execution per event.
// A unique-constraint violation means the event was already delivered on an
// earlier attempt and is silently skipped; that constraint is what makes the
// sink idempotent. Any other failure aborts the batch and propagates.
type RelationalSink struct {
	db        *sql.DB
	insertSQL string
	logger    *logrus.Entry
}

// defaultColumns is the canonical 13-column layout used when no custom
// insert statement is configured.
var defaultColumns = []string{
	"event_time", "device", "direction", "success",
	"major", "minor", "name", "employee_no", "card_no", "card_type",
	"door_no", "reader_no", "raw_json",
}

// NewRelationalSink opens the configured database and prepares the insert
// statement text. The connection pool is shared safely across device units.
func NewRelationalSink(cfg config.DatabaseSinkConfig, logger *logrus.Entry) (*RelationalSink, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	insertSQL := strings.TrimSpace(cfg.InsertSQL)
	if insertSQL == "" {
		insertSQL = buildDefaultInsertSQL(cfg.Driver, cfg.Table)
	}

	logger.WithField("statement", insertSQL).Debug("Relational sink ready")

	return &RelationalSink{
		db:        db,
		insertSQL: insertSQL,
		logger:    logger,
	}, nil
}

func buildDefaultInsertSQL(driver, table string) string {
	placeholders := make([]string, len(defaultColumns))
	for i := range defaultColumns {
		if driver == "postgres" {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(defaultColumns, ", "),
		strings.Join(placeholders, ","))
}

// Name implements Sink.
func (s *RelationalSink) Name() string { return "database" }

// Idempotent implements Sink. Duplicate suppression relies on a unique
// constraint on the target table.
func (s *RelationalSink) Idempotent() bool { return true }

// Write inserts each event individually. Duplicates are skipped; the first
// other error aborts the batch.
func (s *RelationalSink) Write(ctx context.Context, batch []types.CanonicalEvent) error {
	for i := range batch {
		ev := &batch[i]
		_, err := s.db.ExecContext(ctx, s.insertSQL, bindArgs(ev)...)
		if err != nil {
			if isDuplicate(err) {
				s.logger.WithFields(logrus.Fields{
					"device":     ev.Device,
					"event_time": ev.EventTime,
				}).Debug("Duplicate event skipped")
				continue
			}
			return fmt.Errorf("insert failed: %w", err)
		}
	}
	return nil
}

// bindArgs produces the argument list in the canonical column order.
func bindArgs(ev *types.CanonicalEvent) []interface{} {
	return []interface{}{
		nullString(ev.EventTime),
		nullString(ev.Device),
		nullString(ev.Direction),
		nullBool(ev.Success),
		nullInt(ev.Major),
		nullInt(ev.Minor),
		nullString(ev.Name),
		nullString(ev.EmployeeNo),
		nullString(ev.CardNo),
		nullString(ev.CardType),
		nullInt(ev.DoorNo),
		nullInt(ev.ReaderNo),
		nullString(ev.RawJSON),
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

// isDuplicate recognizes unique-constraint violations across the supported
// drivers. Postgres reports SQLSTATE 23505, sqlite a constraint error class;
// the message check covers drivers reached through a custom DSN.
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "Duplicate") ||
		strings.Contains(msg, "UNIQUE")
}

// Close implements Sink.
func (s *RelationalSink) Close() error {
	return s.db.Close()
}
