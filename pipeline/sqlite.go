package pipeline

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-harvest-places/models"
)

// SQLiteWriter stores records in a "stations" table tagged with the harvest
// run id. Rows are never merged, so duplicates returned by the provider stay
// visible.
type SQLiteWriter struct {
	db    *sql.DB
	path  string
	runID string
	mu    sync.Mutex
}

func NewSQLiteWriter(dbPath, runID string) (*SQLiteWriter, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteWriter{db: db, path: dbPath, runID: runID}, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		place_id TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		rating REAL,
		open_now INTEGER,
		phone TEXT,
		opening_hours TEXT,
		price TEXT NOT NULL DEFAULT '',
		slots INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stations_run ON stations(run_id);
	CREATE INDEX IF NOT EXISTS idx_stations_place ON stations(place_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Write inserts a batch inside one transaction.
func (sw *SQLiteWriter) Write(records []models.StationRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO stations
		(run_id, place_id, name, address, lat, lng, rating, open_now, phone, opening_hours)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing stmt: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var rating sql.NullFloat64
		if r.Rating != nil {
			rating = sql.NullFloat64{Float64: *r.Rating, Valid: true}
		}
		var openNow sql.NullBool
		if r.OpenNow != nil {
			openNow = sql.NullBool{Bool: *r.OpenNow, Valid: true}
		}
		if _, err := stmt.Exec(
			sw.runID, r.ExternalID, r.Name, r.Address, r.Latitude, r.Longitude,
			rating, openNow, r.Phone, r.Hours,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting %s: %w", r.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}
	return nil
}

func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate checks that the current run stored at least one row.
func (sw *SQLiteWriter) Validate() error {
	db, err := sql.Open("sqlite", sw.path)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM stations WHERE run_id = ?", sw.runID).Scan(&count); err != nil {
		return fmt.Errorf("counting stations: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("no stations stored for run %s", sw.runID)
	}
	return nil
}

// StoredStation is a row of the stations table, including the hand-maintained
// price and slots columns.
type StoredStation struct {
	models.StationRecord
	RunID string
	Price string
	Slots int
}

// LoadStations reads every stored row in insertion order.
func LoadStations(dbPath string) ([]StoredStation, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT run_id, place_id, name, address, lat, lng, rating, open_now,
		       phone, opening_hours, price, slots
		FROM stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	var stations []StoredStation
	for rows.Next() {
		var (
			s       StoredStation
			address sql.NullString
			phone   sql.NullString
			hours   sql.NullString
			rating  sql.NullFloat64
			openNow sql.NullBool
		)
		if err := rows.Scan(
			&s.RunID, &s.ExternalID, &s.Name, &address, &s.Latitude, &s.Longitude,
			&rating, &openNow, &phone, &hours, &s.Price, &s.Slots,
		); err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		s.Address = address.String
		s.Phone = phone.String
		s.Hours = hours.String
		if rating.Valid {
			v := rating.Float64
			s.Rating = &v
		}
		if openNow.Valid {
			v := openNow.Bool
			s.OpenNow = &v
		}
		stations = append(stations, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}
	return stations, nil
}
