package credential

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return store, nil
}

func (s *SqliteStore) Init() error {
	// Credentials table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			fingerprint TEXT PRIMARY KEY,
			issuer_address TEXT NOT NULL,
			student_identifier TEXT NOT NULL,
			student_name TEXT NOT NULL,
			course_name TEXT NOT NULL,
			content_id TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			is_revoked BOOLEAN NOT NULL DEFAULT 0,
			ledger_tx_id TEXT NOT NULL DEFAULT '',
			block_height INTEGER NOT NULL DEFAULT 0,
			revocation_tx_id TEXT NOT NULL DEFAULT '',
			revoked_at INTEGER NOT NULL DEFAULT 0,
			is_local_only BOOLEAN NOT NULL DEFAULT 0,
			state TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}

	// Issuers table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS issuers (
			address TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			is_authorized BOOLEAN NOT NULL,
			authorized_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create issuers table: %w", err)
	}

	// Configuration table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create configuration table: %w", err)
	}

	// Secrets table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS secrets (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create secrets table: %w", err)
	}

	// Pause status table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pause_status (
			id INTEGER PRIMARY KEY,
			is_paused BOOLEAN NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create pause_status table: %w", err)
	}

	// Pause attempts table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pause_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_type TEXT NOT NULL,
			attempted_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create pause_attempts table: %w", err)
	}

	// Initialize pause status if not exists
	var count int
	err = s.db.QueryRow("SELECT COUNT(*) FROM pause_status").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check pause status: %w", err)
	}
	if count == 0 {
		_, err = s.db.Exec("INSERT INTO pause_status (id, is_paused, last_updated) VALUES (1, 0, ?)", time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to initialize pause status: %w", err)
		}
	}

	return nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// SaveCredential inserts or replaces a credential record.
func (s *SqliteStore) SaveCredential(rec Record) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO credentials (
			fingerprint, issuer_address, student_identifier, student_name, course_name, content_id,
			issued_at, is_revoked, ledger_tx_id, block_height, revocation_tx_id, revoked_at, is_local_only, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.IssuerAddress, rec.StudentIdentifier, rec.StudentName, rec.CourseName, rec.ContentID,
		rec.IssuedAt, rec.IsRevoked, rec.LedgerTxID, int64(rec.BlockHeight), rec.RevocationTxID, rec.RevokedAt, rec.IsLocalOnly, string(rec.State),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// GetCredentials retrieves all credentials, newest first.
func (s *SqliteStore) GetCredentials() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT fingerprint, issuer_address, student_identifier, student_name, course_name, content_id,
			issued_at, is_revoked, ledger_tx_id, block_height, revocation_tx_id, revoked_at, is_local_only, state
		FROM credentials ORDER BY issued_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query for credentials: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close credentials query", "err", closeErr)
		}
	}()

	var records []Record
	for rows.Next() {
		var (
			rec         Record
			blockHeight int64
			state       string
		)
		if err := rows.Scan(
			&rec.Fingerprint, &rec.IssuerAddress, &rec.StudentIdentifier, &rec.StudentName, &rec.CourseName, &rec.ContentID,
			&rec.IssuedAt, &rec.IsRevoked, &rec.LedgerTxID, &blockHeight, &rec.RevocationTxID, &rec.RevokedAt, &rec.IsLocalOnly, &state,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		rec.BlockHeight = uint64(blockHeight)
		rec.State = State(state)
		rec.IsValid = !rec.IsRevoked
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveIssuer inserts or replaces an issuer.
func (s *SqliteStore) SaveIssuer(iss Issuer) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO issuers (address, display_name, is_authorized, authorized_at) VALUES (?, ?, ?, ?)",
		iss.Address, iss.DisplayName, iss.IsAuthorized, iss.AuthorizedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save issuer %s: %w", iss.Address, err)
	}
	return nil
}

// GetIssuers retrieves all issuers.
func (s *SqliteStore) GetIssuers() ([]Issuer, error) {
	rows, err := s.db.Query("SELECT address, display_name, is_authorized, authorized_at FROM issuers ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("failed to query for issuers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close issuers query", "err", closeErr)
		}
	}()

	var issuers []Issuer
	for rows.Next() {
		var (
			iss          Issuer
			authorizedAt int64
		)
		if err := rows.Scan(&iss.Address, &iss.DisplayName, &iss.IsAuthorized, &authorizedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issuer row: %w", err)
		}
		iss.AuthorizedAt = time.UnixMilli(authorizedAt)
		issuers = append(issuers, iss)
	}

	return issuers, rows.Err()
}

// GetConfigValue retrieves a configuration value.
func (s *SqliteStore) GetConfigValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM configuration WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get config value for key %s: %w", key, err)
	}
	return value, nil
}

// SetConfigValue sets a configuration value.
func (s *SqliteStore) SetConfigValue(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO configuration (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set config value for key %s: %w", key, err)
	}
	return nil
}

// GetSecret retrieves a stored (hashed) secret.
func (s *SqliteStore) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM secrets WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get secret for key %s: %w", key, err)
	}
	return value, nil
}

// SetSecret sets a secret value.
func (s *SqliteStore) SetSecret(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO secrets (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set secret for key %s: %w", key, err)
	}
	return nil
}

// GetPauseStatus retrieves the pause flag.
func (s *SqliteStore) GetPauseStatus() (bool, error) {
	var paused bool
	err := s.db.QueryRow("SELECT is_paused FROM pause_status WHERE id = 1").Scan(&paused)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get pause status: %w", err)
	}
	return paused, nil
}

// SetPauseStatus sets the pause flag.
func (s *SqliteStore) SetPauseStatus(paused bool) error {
	_, err := s.db.Exec("UPDATE pause_status SET is_paused = ?, last_updated = ? WHERE id = 1", paused, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set pause status: %w", err)
	}
	return nil
}

// RecordPauseAttempt records a keyed pause or resume request.
func (s *SqliteStore) RecordPauseAttempt(kind string) error {
	_, err := s.db.Exec("INSERT INTO pause_attempts (attempt_type, attempted_at) VALUES (?, ?)", kind, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record pause attempt: %w", err)
	}
	return nil
}

// GetRecentPauseAttempts counts attempts of kind within the given duration.
func (s *SqliteStore) GetRecentPauseAttempts(kind string, within time.Duration) (int, error) {
	cutoff := time.Now().Add(-within).UnixMilli()
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pause_attempts WHERE attempt_type = ? AND attempted_at >= ?",
		kind, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get recent pause attempts: %w", err)
	}
	return count, nil
}

// CleanupOldPauseAttempts removes old pause attempts.
func (s *SqliteStore) CleanupOldPauseAttempts(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	_, err := s.db.Exec("DELETE FROM pause_attempts WHERE attempted_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old pause attempts: %w", err)
	}
	return nil
}
