package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// QueryCache stores raw cone-search responses in a SQLite file so a
// rerun of the same reduction works offline.
type QueryCache struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cone_searches (
	catalog    TEXT NOT NULL,
	ra         REAL NOT NULL,
	dec        REAL NOT NULL,
	radius     REAL NOT NULL,
	fetched_at INTEGER NOT NULL,
	body       BLOB NOT NULL,
	PRIMARY KEY (catalog, ra, dec, radius)
);`

func OpenQueryCache(path string) (*QueryCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating schema: %w", err)
	}
	return &QueryCache{db: db}, nil
}

func (qc *QueryCache) Close() error {
	return qc.db.Close()
}

// Get returns the cached body for a query, if present.
func (qc *QueryCache) Get(catalogName string, ra, dec, radius float64) ([]byte, bool, error) {
	var body []byte
	err := qc.db.QueryRow(
		`SELECT body FROM cone_searches WHERE catalog=? AND ra=? AND dec=? AND radius=?`,
		catalogName, ra, dec, radius).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: %w", err)
	}
	return body, true, nil
}

func (qc *QueryCache) Put(catalogName string, ra, dec, radius float64, body []byte) error {
	_, err := qc.db.Exec(
		`INSERT OR REPLACE INTO cone_searches (catalog, ra, dec, radius, fetched_at, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		catalogName, ra, dec, radius, time.Now().Unix(), body)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Prune drops entries fetched before the cutoff.
func (qc *QueryCache) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := qc.db.Exec(`DELETE FROM cone_searches WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
