// Package journal persists device lifecycle events to SQLite: which
// devices appeared, vanished, gained capabilities or raised conditions,
// and when. The journal is pure observability — nothing in the daemon
// reads it back at runtime — but it is what answers "what did the machine
// see last night" after the fact.
//
// It registers as a daemon notifier. Property-level changes are not
// journalled; they are far too chatty for a persistent log.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/infrastructure/database"
)

// Event kinds.
const (
	KindAdded      = "added"
	KindRemoved    = "removed"
	KindCapability = "capability"
	KindCondition  = "condition"
)

const defaultQueryLimit = 100

// Logger defines the logging interface used by the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Event is one journalled device lifecycle event.
type Event struct {
	ID        int64
	Timestamp time.Time
	UDI       string
	Kind      string
	Detail    string
}

const schema = `
CREATE TABLE IF NOT EXISTS device_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  TEXT    NOT NULL,
	udi        TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	detail     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_device_events_udi ON device_events(udi);
CREATE INDEX IF NOT EXISTS idx_device_events_timestamp ON device_events(timestamp);
`

// Journal records events into a device_events table.
//
// Thread Safety:
//   - Record is called from daemon loop tasks only; queries may come from
//     anywhere (the connection serializes access).
type Journal struct {
	db     *database.DB
	logger Logger
}

// Open prepares the journal schema on an open database.
func Open(db *database.DB) (*Journal, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the journal.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Record inserts one event.
func (j *Journal) Record(ctx context.Context, udi, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO device_events (timestamp, udi, kind, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), udi, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", kind, err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, udi, kind, detail FROM device_events
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ForDevice returns the newest events for one UDI, most recent first.
func (j *Journal) ForDevice(ctx context.Context, udi string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, udi, kind, detail FROM device_events
		 WHERE udi = ? ORDER BY id DESC LIMIT ?`, udi, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal for %s: %w", udi, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.UDI, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal rows: %w", err)
	}
	return events, nil
}

/**************************************************************************/
/* daemon.Notifier                                                        */
/**************************************************************************/

func (j *Journal) record(udi, kind, detail string) {
	if err := j.Record(context.Background(), udi, kind, detail); err != nil {
		j.logger.Error("journal write failed", "udi", udi, "kind", kind, "error", err)
	}
}

// DeviceAdded journals a device publication.
func (j *Journal) DeviceAdded(udi string) { j.record(udi, KindAdded, "") }

// DeviceRemoved journals a device removal.
func (j *Journal) DeviceRemoved(udi string) { j.record(udi, KindRemoved, "") }

// NewCapability journals a capability gain.
func (j *Journal) NewCapability(udi, capability string) {
	j.record(udi, KindCapability, capability)
}

// PropertiesModified is a no-op; property churn stays out of the journal.
func (j *Journal) PropertiesModified(string, []device.Change) {}

// Condition journals an ad-hoc device condition.
func (j *Journal) Condition(udi, name string, _ ...any) {
	j.record(udi, KindCondition, name)
}
