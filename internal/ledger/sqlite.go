package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite ledger store. Appends are rare and
// must survive a crash, so synchronous is kept at FULL.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS migrated (
		id TEXT PRIMARY KEY,
		migrated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Contains reports whether id has already been migrated.
func (s *SQLiteStore) Contains(id string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM migrated WHERE id = ?`, id)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read ledger: %w", err)
	}
	return true, nil
}

// Add records id as migrated. The write is committed before Add returns;
// adding an id that is already present is a no-op.
func (s *SQLiteStore) Add(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // ignored once Commit succeeds

	query := `
	INSERT INTO migrated (id, migrated_at) VALUES (?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := tx.Exec(query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}

	return tx.Commit()
}

// Snapshot returns all migrated ids.
func (s *SQLiteStore) Snapshot() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM migrated ORDER BY migrated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Count returns the number of migrated ids.
func (s *SQLiteStore) Count() (int64, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM migrated`)

	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger: %w", err)
	}
	return n, nil
}

// ImportJSON loads ids from a legacy JSON-array ledger file into the store.
// Missing file is not an error; the import is idempotent.
func (s *SQLiteStore) ImportJSON(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy ledger: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return 0, fmt.Errorf("failed to parse legacy ledger: %w", err)
	}

	imported := 0
	for _, id := range ids {
		present, err := s.Contains(id)
		if err != nil {
			return imported, err
		}
		if present {
			continue
		}
		if err := s.Add(id); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
