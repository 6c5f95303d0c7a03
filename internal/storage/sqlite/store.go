package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petalstack/florae/internal/storage"
	"github.com/petalstack/florae/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Record time-to-live per class. The ledger can always be re-synced, so the
// local cache expires rather than growing without bound.
const (
	floraTTL      = 12 * time.Hour
	inviteTTL     = 6 * time.Hour
	preferenceTTL = 24 * time.Hour
)

var (
	ErrNotFound = errors.New("not found")
)

// GroupStore is the SQLite-backed store for one local identity.
type GroupStore struct {
	db        *sql.DB
	accountID types.AccountID
	dbPath    string
	now       func() time.Time
}

// OpenGroupStore opens (or creates) the store for one identity under
// basePath. Each identity gets its own database file; switching identities
// swaps the entire visible data set.
func OpenGroupStore(basePath string, accountID types.AccountID) (*GroupStore, error) {
	dir := filepath.Join(basePath, "identities", string(accountID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}

	dbPath := filepath.Join(dir, "flora.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single local writer; keep the pool tiny.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &GroupStore{
		db:        db,
		accountID: accountID,
		dbPath:    dbPath,
		now:       time.Now,
	}, nil
}

func (s *GroupStore) Close() error {
	return s.db.Close()
}

func (s *GroupStore) AccountID() types.AccountID {
	return s.accountID
}

func (s *GroupStore) DBPath() string {
	return s.dbPath
}

// SetNowFunc overrides the store's clock. Tests use it to drive expiry.
func (s *GroupStore) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *GroupStore) stamp(ttl time.Duration) (updatedAt, expiresAt string) {
	now := s.now().UTC()
	return now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339)
}

func (s *GroupStore) nowString() string {
	return s.now().UTC().Format(time.RFC3339)
}

// PutFlora upserts a flora record, refreshing its expiry.
func (s *GroupStore) PutFlora(ctx context.Context, flora *types.Flora) error {
	record, err := flora.Serialize()
	if err != nil {
		return fmt.Errorf("serialize flora %s: %w", flora.ID, err)
	}

	updatedAt, expiresAt := s.stamp(floraTTL)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO floras (id, record, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record,
		   expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		string(flora.ID), record, expiresAt, updatedAt)
	return err
}

// GetFlora returns the flora with the given id, or ErrNotFound if unknown
// or expired.
func (s *GroupStore) GetFlora(ctx context.Context, id types.TopicID) (*types.Flora, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM floras WHERE id = ? AND expires_at > ?`,
		string(id), s.nowString()).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var flora types.Flora
	if err := flora.Deserialize(record); err != nil {
		return nil, fmt.Errorf("deserialize flora %s: %w", id, err)
	}
	return &flora, nil
}

// ListFloras returns all unexpired floras, most recently updated first.
func (s *GroupStore) ListFloras(ctx context.Context) ([]types.Flora, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM floras WHERE expires_at > ? ORDER BY updated_at DESC`,
		s.nowString())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var floras []types.Flora
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var flora types.Flora
		if err := flora.Deserialize(record); err != nil {
			return nil, fmt.Errorf("deserialize flora record: %w", err)
		}
		floras = append(floras, flora)
	}
	return floras, rows.Err()
}

func (s *GroupStore) DeleteFlora(ctx context.Context, id types.TopicID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM floras WHERE id = ?`, string(id))
	return err
}

// PutInvite upserts an invite on its deterministic id. Re-receipt of the
// same invitation replaces the prior record.
func (s *GroupStore) PutInvite(ctx context.Context, invite *types.Invite) error {
	record, err := invite.Serialize()
	if err != nil {
		return fmt.Errorf("serialize invite %s: %w", invite.ID, err)
	}

	updatedAt, expiresAt := s.stamp(inviteTTL)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invites (id, record, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record,
		   expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		invite.ID, record, expiresAt, updatedAt)
	return err
}

func (s *GroupStore) GetInvite(ctx context.Context, id string) (*types.Invite, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM invites WHERE id = ? AND expires_at > ?`,
		id, s.nowString()).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var invite types.Invite
	if err := invite.Deserialize(record); err != nil {
		return nil, fmt.Errorf("deserialize invite %s: %w", id, err)
	}
	return &invite, nil
}

// ListInvites returns all unexpired invites, most recently received first.
func (s *GroupStore) ListInvites(ctx context.Context) ([]types.Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM invites WHERE expires_at > ? ORDER BY updated_at DESC`,
		s.nowString())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []types.Invite
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var invite types.Invite
		if err := invite.Deserialize(record); err != nil {
			return nil, fmt.Errorf("deserialize invite record: %w", err)
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

func (s *GroupStore) DeleteInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM invites WHERE id = ?`, id)
	return err
}

// SetMuted upserts the mute preference for a flora. The record is created
// lazily on first toggle.
func (s *GroupStore) SetMuted(ctx context.Context, floraID types.TopicID, muted bool) error {
	updatedAt, expiresAt := s.stamp(preferenceTTL)
	val := 0
	if muted {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (flora_id, muted, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(flora_id) DO UPDATE SET muted = excluded.muted,
		   expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		string(floraID), val, expiresAt, updatedAt)
	return err
}

// GetPreference returns the preference for a flora. An absent or expired
// record reads as the default (not muted), not as an error.
func (s *GroupStore) GetPreference(ctx context.Context, floraID types.TopicID) (*types.Preference, error) {
	var muted int
	err := s.db.QueryRowContext(ctx,
		`SELECT muted FROM preferences WHERE flora_id = ? AND expires_at > ?`,
		string(floraID), s.nowString()).Scan(&muted)
	if err == sql.ErrNoRows {
		return &types.Preference{FloraID: floraID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.Preference{FloraID: floraID, Muted: muted == 1}, nil
}

// PurgeExpired deletes every record past its expiry.
func (s *GroupStore) PurgeExpired(ctx context.Context) error {
	now := s.nowString()
	for _, table := range []string{"floras", "invites", "preferences"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, table), now); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

// Ensure GroupStore implements storage.GroupStore at compile time.
var _ storage.GroupStore = (*GroupStore)(nil)
