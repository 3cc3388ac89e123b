// ABOUTME: SQLite implementation of the credential Store using modernc.org/sqlite
// ABOUTME: Persists credentials with their key collections, automatic schema creation

package credential

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/2389/identity-vault/internal/securearea"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "credstore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite credential store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			id          TEXT PRIMARY KEY,
			secure_area TEXT NOT NULL,
			attributes  BLOB NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS authentication_keys (
			id             TEXT PRIMARY KEY,
			credential_id  TEXT NOT NULL,
			domain         TEXT NOT NULL,
			handle         TEXT NOT NULL,
			public_key     BLOB,
			usage_count    INTEGER NOT NULL DEFAULT 0,
			valid_from     TEXT NOT NULL,
			valid_until    TEXT NOT NULL,
			replacement_id TEXT,
			issuer_data    BLOB,
			app_data       BLOB,
			FOREIGN KEY (credential_id) REFERENCES credentials(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_auth_keys_cred_domain
			ON authentication_keys(credential_id, domain);

		CREATE TABLE IF NOT EXISTS pending_authentication_keys (
			id              TEXT PRIMARY KEY,
			credential_id   TEXT NOT NULL,
			domain          TEXT NOT NULL,
			handle          TEXT NOT NULL,
			public_key      BLOB,
			replacement_for TEXT,
			app_data        BLOB,
			FOREIGN KEY (credential_id) REFERENCES credentials(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_pending_keys_cred_domain
			ON pending_authentication_keys(credential_id, domain);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveCredential upserts the whole aggregate in one transaction: the
// credential row is replaced and the key collections rewritten.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred *Credential) error {
	attrs, err := cbor.Marshal(cred.Attributes)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (id, secure_area, attributes, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET secure_area=excluded.secure_area, attributes=excluded.attributes
	`, cred.ID, cred.SecureArea, attrs, cred.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM authentication_keys WHERE credential_id = ?`, cred.ID); err != nil {
		return fmt.Errorf("clearing authentication keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_authentication_keys WHERE credential_id = ?`, cred.ID); err != nil {
		return fmt.Errorf("clearing pending keys: %w", err)
	}

	for _, k := range cred.authKeys {
		appData, err := cbor.Marshal(k.ApplicationData)
		if err != nil {
			return fmt.Errorf("encoding key %s application data: %w", k.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO authentication_keys
				(id, credential_id, domain, handle, public_key, usage_count, valid_from, valid_until, replacement_id, issuer_data, app_data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, k.ID, cred.ID, k.Domain, string(k.Handle), k.PublicKey, k.UsageCount,
			k.ValidFrom.UTC().Format(time.RFC3339), k.ValidUntil.UTC().Format(time.RFC3339),
			nullString(k.ReplacementID), k.IssuerData, appData)
		if err != nil {
			return fmt.Errorf("inserting authentication key %s: %w", k.ID, err)
		}
	}

	for _, k := range cred.pendingKeys {
		appData, err := cbor.Marshal(k.ApplicationData)
		if err != nil {
			return fmt.Errorf("encoding pending key %s application data: %w", k.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_authentication_keys
				(id, credential_id, domain, handle, public_key, replacement_for, app_data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, k.ID, cred.ID, k.Domain, string(k.Handle), k.PublicKey,
			nullString(k.ReplacementForID), appData)
		if err != nil {
			return fmt.Errorf("inserting pending key %s: %w", k.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential save: %w", err)
	}

	s.logger.Debug("credential saved",
		"credential_id", cred.ID,
		"keys", len(cred.authKeys),
		"pending", len(cred.pendingKeys))
	return nil
}

// GetCredential loads a credential aggregate.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	var cred Credential
	var attrs []byte
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, secure_area, attributes, created_at FROM credentials WHERE id = ?
	`, id).Scan(&cred.ID, &cred.SecureArea, &attrs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	if err := cbor.Unmarshal(attrs, &cred.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339, createdAt); err != nil {
		s.logger.Warn("failed to parse credential created_at", "id", cred.ID, "error", err)
	} else {
		cred.CreatedAt = parsed
	}

	if err := s.loadAuthKeys(ctx, &cred); err != nil {
		return nil, err
	}
	if err := s.loadPendingKeys(ctx, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *SQLiteStore) loadAuthKeys(ctx context.Context, cred *Credential) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, handle, public_key, usage_count, valid_from, valid_until, replacement_id, issuer_data, app_data
		FROM authentication_keys WHERE credential_id = ?
	`, cred.ID)
	if err != nil {
		return fmt.Errorf("querying authentication keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k AuthenticationKey
		var handle, validFrom, validUntil string
		var replacementID sql.NullString
		var appData []byte
		if err := rows.Scan(&k.ID, &k.Domain, &handle, &k.PublicKey, &k.UsageCount,
			&validFrom, &validUntil, &replacementID, &k.IssuerData, &appData); err != nil {
			return fmt.Errorf("scanning authentication key: %w", err)
		}
		k.Handle = securearea.KeyHandle(handle)
		if k.ValidFrom, err = time.Parse(time.RFC3339, validFrom); err != nil {
			return fmt.Errorf("parsing valid_from for key %s: %w", k.ID, err)
		}
		if k.ValidUntil, err = time.Parse(time.RFC3339, validUntil); err != nil {
			return fmt.Errorf("parsing valid_until for key %s: %w", k.ID, err)
		}
		if replacementID.Valid {
			k.ReplacementID = replacementID.String
		}
		if err := cbor.Unmarshal(appData, &k.ApplicationData); err != nil {
			return fmt.Errorf("decoding key %s application data: %w", k.ID, err)
		}
		cred.authKeys = append(cred.authKeys, &k)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadPendingKeys(ctx context.Context, cred *Credential) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, handle, public_key, replacement_for, app_data
		FROM pending_authentication_keys WHERE credential_id = ?
	`, cred.ID)
	if err != nil {
		return fmt.Errorf("querying pending keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k PendingAuthenticationKey
		var handle string
		var replacementFor sql.NullString
		var appData []byte
		if err := rows.Scan(&k.ID, &k.Domain, &handle, &k.PublicKey, &replacementFor, &appData); err != nil {
			return fmt.Errorf("scanning pending key: %w", err)
		}
		k.Handle = securearea.KeyHandle(handle)
		if replacementFor.Valid {
			k.ReplacementForID = replacementFor.String
		}
		if err := cbor.Unmarshal(appData, &k.ApplicationData); err != nil {
			return fmt.Errorf("decoding pending key %s application data: %w", k.ID, err)
		}
		cred.pendingKeys = append(cred.pendingKeys, &k)
	}
	return rows.Err()
}

// ListCredentialIDs returns all credential IDs in the store.
func (s *SQLiteStore) ListCredentialIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM credentials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning credential id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCredential removes a credential and, via cascade, its keys.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
