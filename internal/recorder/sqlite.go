package recorder

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tandem-aerosol/tandemscan/internal/scan"
)

// DB is the sqlite archive of completed scans.
type DB struct {
	*sql.DB
}

// OpenDB opens (creating if needed) the scan archive at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS points (
			session_id TEXT,
			idx INTEGER,
			classifier1 DOUBLE,
			classifier2 DOUBLE,
			concentration DOUBLE,
			bypass INTEGER,
			timestamp TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS points_session ON points(session_id, idx);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// NewSession registers a scan session and returns its point sink.
func (db *DB) NewSession(id string) (*SQLite, error) {
	_, err := db.Exec("INSERT INTO sessions (session_id) VALUES (?)", id)
	if err != nil {
		return nil, fmt.Errorf("recorder: register session: %w", err)
	}
	return &SQLite{db: db, session: id}, nil
}

// SessionInfo is one archived scan.
type SessionInfo struct {
	ID        string
	StartedAt time.Time
	Points    int
}

// Sessions lists archived scans, newest first.
func (db *DB) Sessions() ([]SessionInfo, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.started_at, COUNT(p.idx)
		FROM sessions s LEFT JOIN points p ON p.session_id = s.session_id
		GROUP BY s.session_id ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var s SessionInfo
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.Points); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Points returns a session's points in plan order.
func (db *DB) Points(session string) ([]scan.Point, error) {
	rows, err := db.Query(`
		SELECT idx, classifier1, classifier2, concentration, bypass, timestamp
		FROM points WHERE session_id = ? ORDER BY idx`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scan.Point
	for rows.Next() {
		var p scan.Point
		if err := rows.Scan(&p.Index, &p.Classifier1, &p.Classifier2,
			&p.Concentration, &p.Bypass, &p.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SQLite records one session's points into the archive.
type SQLite struct {
	db      *DB
	session string
}

func (r *SQLite) Record(p scan.Point) error {
	_, err := r.db.Exec(`
		INSERT INTO points (session_id, idx, classifier1, classifier2, concentration, bypass, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.session, p.Index, p.Classifier1, p.Classifier2, p.Concentration, p.Bypass, p.Timestamp)
	if err != nil {
		return fmt.Errorf("recorder: insert point: %w", err)
	}
	return nil
}
