package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

const (
	defaultCacheSize  = -8000 // 8MB
	busyTimeout       = 5000  // ms
	walAutoCheckpoint = 1000  // pages
	maxOpenConns      = 2
	maxIdleConns      = 1
)

// LocalStore is the sqlite-backed Store
type LocalStore struct {
	db *sql.DB

	patternUpsertPS *sql.Stmt
	patternGetPS    *sql.Stmt
	patternClearPS  *sql.Stmt
	catalogUpsertPS *sql.Stmt
	catalogGetPS    *sql.Stmt
}

// NewLocalStore opens (creating if needed) the database at dbPath
func NewLocalStore(dbPath string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := dbPath
	if runtime.GOOS == "windows" {
		path = strings.ReplaceAll(dbPath, "\\", "/")
	}
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_wal_autocheckpoint=%d&_busy_timeout=%d&_cache_size=%d",
		path,
		walAutoCheckpoint,
		busyTimeout,
		defaultCacheSize,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if err := initializeDatabase(db); err != nil {
		closeQuietly(db)
		return nil, err
	}

	s := &LocalStore{db: db}
	if err := s.prepareStatements(); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return s, nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		util.Warn("error closing database", "err", err)
	}
}

func initializeDatabase(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pattern_entries (
			site        TEXT    NOT NULL,
			purpose     TEXT    NOT NULL,
			selector    TEXT    NOT NULL,
			confidence  REAL    NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			match_count INTEGER NOT NULL CHECK(match_count >= 0),
			hits        INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (site, purpose)
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_entries (
			normalized_title TEXT PRIMARY KEY,
			title            TEXT NOT NULL,
			link             TEXT NOT NULL,
			site             TEXT,
			episodes         TEXT NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema creation failed: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA optimize`); err != nil {
		return fmt.Errorf("initial optimization failed: %w", err)
	}
	return nil
}

func (s *LocalStore) prepareStatements() error {
	var err error
	prepare := func(dst **sql.Stmt, name, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
		if err != nil {
			err = fmt.Errorf("%s preparation failed: %w", name, err)
		}
	}

	prepare(&s.patternUpsertPS, "pattern upsert", `INSERT INTO pattern_entries (
		site, purpose, selector, confidence, match_count, hits, updated_at
	) VALUES (?,?,?,?,?,?,?)
	ON CONFLICT(site, purpose) DO UPDATE SET
		selector = excluded.selector,
		confidence = excluded.confidence,
		match_count = excluded.match_count,
		hits = excluded.hits,
		updated_at = excluded.updated_at`)

	prepare(&s.patternGetPS, "pattern get", `SELECT
		purpose, selector, confidence, match_count, hits, updated_at
	FROM pattern_entries
	WHERE site = ?`)

	prepare(&s.patternClearPS, "pattern clear", `DELETE FROM pattern_entries WHERE site = ?`)

	prepare(&s.catalogUpsertPS, "catalog upsert", `INSERT INTO catalog_entries (
		normalized_title, title, link, site, episodes, updated_at
	) VALUES (?,?,?,?,?,?)
	ON CONFLICT(normalized_title) DO UPDATE SET
		title = excluded.title,
		link = excluded.link,
		site = excluded.site,
		episodes = excluded.episodes,
		updated_at = excluded.updated_at`)

	prepare(&s.catalogGetPS, "catalog get", `SELECT
		title, link, site, episodes, updated_at
	FROM catalog_entries
	WHERE normalized_title = ?`)

	return err
}

// GetPatternProfile loads every stored entry of site
func (s *LocalStore) GetPatternProfile(site string) (*models.SiteSelectorProfile, error) {
	if s == nil || s.db == nil || s.patternGetPS == nil {
		return nil, ErrStoreNotInited
	}

	rows, err := s.patternGetPS.Query(site)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			util.Warn("error closing rows", "err", err)
		}
	}()

	profile := models.NewSiteSelectorProfile(site)
	for rows.Next() {
		var (
			purposeName string
			entry       models.PatternEntry
			ts          int64
		)
		if err := rows.Scan(&purposeName, &entry.Selector, &entry.Confidence, &entry.MatchCount, &entry.Hits, &ts); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		purpose, err := models.ParsePurpose(purposeName)
		if err != nil {
			util.Debug("skipping stored pattern", "site", site, "err", err)
			continue
		}
		entry.UpdatedAt = time.Unix(ts, 0)
		profile.Entries[purpose] = entry
		if entry.UpdatedAt.After(profile.UpdatedAt) {
			profile.UpdatedAt = entry.UpdatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	if len(profile.Entries) == 0 {
		return nil, nil
	}
	return profile, nil
}

// PutPatternProfile replaces the stored profile of site
func (s *LocalStore) PutPatternProfile(site string, profile *models.SiteSelectorProfile) error {
	if s == nil || s.db == nil || s.patternUpsertPS == nil {
		return ErrStoreNotInited
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			util.Warn("rollback failed", "err", err)
		}
	}()

	if _, err := tx.Stmt(s.patternClearPS).Exec(site); err != nil {
		return fmt.Errorf("clear patterns: %w", err)
	}

	if profile != nil {
		upsert := tx.Stmt(s.patternUpsertPS)
		for purpose, entry := range profile.Entries {
			updated := entry.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			if _, err := upsert.Exec(
				site,
				purpose.String(),
				entry.Selector,
				entry.Confidence,
				entry.MatchCount,
				entry.Hits,
				updated.Unix(),
			); err != nil {
				return fmt.Errorf("store %s pattern: %w", purpose, err)
			}
		}
	}

	return tx.Commit()
}

// GetCatalogEntry looks a title up by its normalized form
func (s *LocalStore) GetCatalogEntry(title string) (*models.CatalogEntry, error) {
	if s == nil || s.db == nil || s.catalogGetPS == nil {
		return nil, ErrStoreNotInited
	}

	var (
		entry    models.CatalogEntry
		site     sql.NullString
		episodes string
		ts       int64
	)
	err := s.catalogGetPS.QueryRow(util.NormalizeTitle(title)).Scan(
		&entry.Title,
		&entry.Link,
		&site,
		&episodes,
		&ts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if err := json.Unmarshal([]byte(episodes), &entry.Episodes); err != nil {
		return nil, fmt.Errorf("decode episodes: %w", err)
	}
	entry.Site = site.String
	entry.UpdatedAt = time.Unix(ts, 0)
	return &entry, nil
}

// PutCatalogEntry stores entry under the normalized form of title
func (s *LocalStore) PutCatalogEntry(title string, entry *models.CatalogEntry) error {
	if s == nil || s.db == nil || s.catalogUpsertPS == nil {
		return ErrStoreNotInited
	}
	if entry == nil {
		return nil
	}

	episodes, err := json.Marshal(entry.Episodes)
	if err != nil {
		return fmt.Errorf("encode episodes: %w", err)
	}
	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.catalogUpsertPS.Exec(
		util.NormalizeTitle(title),
		entry.Title,
		entry.Link,
		entry.Site,
		string(episodes),
		updated.Unix(),
	)
	return err
}

// Close releases the statements and the database
func (s *LocalStore) Close() error {
	if s == nil || s.db == nil {
		return ErrStoreNotInited
	}
	var finalErr error

	closeStmt := func(stmt *sql.Stmt, name string) {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				finalErr = fmt.Errorf("%s statement close error: %w", name, err)
			}
		}
	}

	closeStmt(s.patternUpsertPS, "pattern upsert")
	closeStmt(s.patternGetPS, "pattern get")
	closeStmt(s.patternClearPS, "pattern clear")
	closeStmt(s.catalogUpsertPS, "catalog upsert")
	closeStmt(s.catalogGetPS, "catalog get")

	if err := s.db.Close(); err != nil {
		finalErr = fmt.Errorf("database close error: %w", err)
	}
	s.db = nil
	return finalErr
}
