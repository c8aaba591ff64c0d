package output

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"DriveDecoder/core"
	"DriveDecoder/timeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id TEXT PRIMARY KEY,
	created TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS devices (
	serial TEXT PRIMARY KEY,
	vendor TEXT NOT NULL,
	model TEXT NOT NULL,
	vendor_id TEXT,
	product_id TEXT,
	device_class TEXT,
	generated_serial INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	event_kind TEXT NOT NULL,
	event_id INTEGER NOT NULL,
	serial TEXT NOT NULL REFERENCES devices(serial),
	drive_letter TEXT,
	volume_name TEXT,
	user TEXT,
	computer TEXT,
	provider TEXT,
	channel TEXT,
	source TEXT,
	record_id INTEGER
);
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL,
	serial TEXT NOT NULL REFERENCES devices(serial),
	state TEXT NOT NULL,
	inserted_at TEXT,
	removed_at TEXT,
	duration_seconds REAL
);
`

// SessionState values stored in the sessions table
const (
	SessionClosed = "closed"
	SessionOpen   = "open"
	SessionOrphan = "orphan"
)

// SQLiteWriter exports to a SQLite database. Sessions are stored on Close,
// from SetSessions when given and otherwise paired from the written entries.
type SQLiteWriter struct {
	mu         sync.Mutex
	db         *sql.DB
	scanID     string
	eventStmt  *sql.Stmt
	deviceStmt *sql.Stmt
	tx         *sql.Tx
	txEvent    *sql.Stmt
	txDevice   *sql.Stmt
	batchSize  int
	count      int
	entries    []core.TimelineEntry
	sessions   *timeline.SessionSet
}

// NewSQLiteWriter creates the export database and its schema
func NewSQLiteWriter(outputPath, scanID string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Bulk loading settings; durability is restored on Close
	pragmas := []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA journal_mode = MEMORY",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO scans (scan_id, created) VALUES (?, ?)`,
		scanID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	eventStmt, err := db.Prepare(`
	INSERT INTO events (
		scan_id, timestamp, event_kind, event_id, serial, drive_letter, volume_name, user, computer,
		provider, channel, source, record_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare event statement: %w", err)
	}

	deviceStmt, err := db.Prepare(`
	INSERT INTO devices (
		serial, vendor, model, vendor_id, product_id, device_class, generated_serial, first_seen, last_seen
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(serial) DO UPDATE SET
		first_seen = min(first_seen, excluded.first_seen),
		last_seen = max(last_seen, excluded.last_seen);`)
	if err != nil {
		eventStmt.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare device statement: %w", err)
	}

	w := &SQLiteWriter{
		db:         db,
		scanID:     scanID,
		eventStmt:  eventStmt,
		deviceStmt: deviceStmt,
		batchSize:  5000,
	}
	if err := w.begin(); err != nil {
		eventStmt.Close()
		deviceStmt.Close()
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) begin() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	w.tx = tx
	w.txEvent = tx.Stmt(w.eventStmt)
	w.txDevice = tx.Stmt(w.deviceStmt)
	w.count = 0
	return nil
}

func (w *SQLiteWriter) commit() error {
	w.txEvent.Close()
	w.txDevice.Close()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	w.tx = nil
	return nil
}

// Write inserts the entries and their devices
func (w *SQLiteWriter) Write(entries []core.TimelineEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		ts := sqliteTime(e.Timestamp)
		d := e.Device
		if d == nil {
			d = &core.DeviceIdentity{}
		}

		if _, err := w.txDevice.Exec(
			d.SerialNumber, d.Vendor, d.Model, d.VendorID, d.ProductID, d.DeviceClass, d.Generated, ts, ts,
		); err != nil {
			return fmt.Errorf("failed to insert device: %w", err)
		}
		if _, err := w.txEvent.Exec(
			w.scanID, ts, e.Kind.String(), e.EventID, d.SerialNumber,
			e.DriveLetter, e.VolumeName, e.User, e.Computer, e.Provider, e.Channel, e.Ref.Source, e.Ref.RecordID,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		w.entries = append(w.entries, e)
		w.count++
		if w.count >= w.batchSize {
			if err := w.commit(); err != nil {
				return err
			}
			if err := w.begin(); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetSessions replaces the sessions stored on Close
func (w *SQLiteWriter) SetSessions(set timeline.SessionSet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions = &set
}

func (w *SQLiteWriter) writeSessions() error {
	var set timeline.SessionSet
	if w.sessions != nil {
		set = *w.sessions
	} else {
		set = timeline.PairSessions(w.entries)
	}

	stmt, err := w.tx.Prepare(`
	INSERT INTO sessions (scan_id, serial, state, inserted_at, removed_at, duration_seconds)
	VALUES (?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare session statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range set.Closed {
		if _, err := stmt.Exec(w.scanID, s.Insertion.Serial(), SessionClosed,
			sqliteTime(s.Insertion.Timestamp), sqliteTime(s.Removal.Timestamp), s.Duration().Seconds()); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
	}
	for _, e := range set.Open {
		if _, err := stmt.Exec(w.scanID, e.Serial(), SessionOpen, sqliteTime(e.Timestamp), nil, nil); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
	}
	for _, e := range set.Orphans {
		if _, err := stmt.Exec(w.scanID, e.Serial(), SessionOrphan, nil, sqliteTime(e.Timestamp), nil); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
	}
	return nil
}

// Close stores the sessions, commits and builds the indexes
func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx != nil {
		if err := w.writeSessions(); err != nil {
			w.tx.Rollback()
			w.db.Close()
			return err
		}
		if err := w.commit(); err != nil {
			w.db.Close()
			return err
		}
	}
	w.eventStmt.Close()
	w.deviceStmt.Close()

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_events_serial ON events (serial)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_serial ON sessions (serial)",
	}
	for _, idx := range indexes {
		if _, err := w.db.Exec(idx); err != nil {
			w.db.Close()
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	w.db.Exec("PRAGMA synchronous = NORMAL")

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(timeline.CSVTimeFormat)
}
