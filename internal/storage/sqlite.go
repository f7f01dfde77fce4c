package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding client-side state: the geocode
// cache and the profile submission history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "taskui.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Geocode cache ---

// GetGeocode returns the cached entry for country, or ErrNotFound.
func (s *Store) GetGeocode(country string) (GeocodeEntry, error) {
	var e GeocodeEntry
	var resolvedAt string
	err := s.db.QueryRow(`
		SELECT country, lat, lng, resolved_at FROM geocode_cache WHERE country = ?`, country,
	).Scan(&e.Country, &e.Lat, &e.Lng, &resolvedAt)
	if err == sql.ErrNoRows {
		return GeocodeEntry{}, ErrNotFound
	}
	if err != nil {
		return GeocodeEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, resolvedAt)
	if err != nil {
		return GeocodeEntry{}, fmt.Errorf("parsing resolved_at: %w", err)
	}
	e.ResolvedAt = t
	return e, nil
}

// PutGeocode inserts or replaces the entry for e.Country.
func (s *Store) PutGeocode(e GeocodeEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO geocode_cache (country, lat, lng, resolved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(country) DO UPDATE SET lat = excluded.lat, lng = excluded.lng, resolved_at = excluded.resolved_at`,
		e.Country, e.Lat, e.Lng, e.ResolvedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ClearGeocodeCache deletes every cached entry and returns how many were removed.
func (s *Store) ClearGeocodeCache() (int64, error) {
	res, err := s.db.Exec("DELETE FROM geocode_cache")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Submissions ---

// submittedLayout is fixed-width so that submitted_at sorts as text.
const submittedLayout = "2006-01-02T15:04:05.000000000Z"

func (s *Store) SaveSubmission(sub Submission) error {
	photo := 0
	if sub.PhotoUploaded {
		photo = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, profile_id, submitted_at, status, country, photo_uploaded, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ProfileID, sub.SubmittedAt.UTC().Format(submittedLayout), sub.Status,
		sub.Country, photo, sub.Error,
	)
	return err
}

// ListSubmissions returns the most recent submissions first. An empty
// profileID lists every profile.
func (s *Store) ListSubmissions(profileID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, profile_id, submitted_at, status, country, photo_uploaded, error FROM submissions`
	args := []any{}
	if profileID != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, profileID)
	}
	query += ` ORDER BY submitted_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Submission
	for rows.Next() {
		var sub Submission
		var submittedAt string
		var photo int
		if err := rows.Scan(&sub.ID, &sub.ProfileID, &submittedAt, &sub.Status, &sub.Country, &photo, &sub.Error); err != nil {
			return nil, err
		}
		t, err := time.Parse(submittedLayout, submittedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing submitted_at: %w", err)
		}
		sub.SubmittedAt = t
		sub.PhotoUploaded = photo == 1
		result = append(result, sub)
	}
	return result, rows.Err()
}
