// Package store persists sessions of sealed minute records in sqlite. The
// minutes table is append-only: records enter in chain order and are never
// updated, so the stored session replays byte-for-byte into the verifier.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/rules"
)

// ErrNotFound is returned for lookups of unknown sessions.
var ErrNotFound = errors.New("store: not found")

// AppendError reports an out-of-order append. The database is unchanged.
type AppendError struct {
	Got  int
	Want int
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("store: append idx %d, next is %d", e.Got, e.Want)
}

// Session is one recording session owned by a device.
type Session struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Locale    string    `json:"locale"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	NMinutes  int       `json:"n_minutes"`
}

type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the sqlite database at path and brings the
// schema up to date. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-locked errors under concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragmas: %w", err)
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateSession registers a new session and returns it with a fresh uuid.
func (s *Store) CreateSession(ctx context.Context, deviceID, locale, note string) (Session, error) {
	if locale == "" {
		locale = "default"
	}
	sess := Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Locale:    locale,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (id, device_id, locale, note, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.DeviceID, sess.Locale, sess.Note, sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// GetSession fetches one session with its minute count.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.QueryRowContext(ctx, `
		SELECT s.id, s.device_id, s.locale, s.note, s.created_at,
		       (SELECT COUNT(*) FROM minutes m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.DeviceID, &sess.Locale, &sess.Note, &sess.CreatedAt, &sess.NMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT s.id, s.device_id, s.locale, s.note, s.created_at,
		       (SELECT COUNT(*) FROM minutes m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.created_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.Locale, &sess.Note, &sess.CreatedAt, &sess.NMinutes); err != nil {
			return nil, fmt.Errorf("store: list sessions: %w", err)
		}
		sess.CreatedAt = sess.CreatedAt.UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendRecord appends one sealed record to a session. The record's idx must
// be exactly the current minute count; anything else is an AppendError and
// leaves the session untouched.
func (s *Store) AppendRecord(ctx context.Context, sessionID string, rec minute.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM minutes WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	if rec.Idx != next {
		return &AppendError{Got: rec.Idx, Want: next}
	}

	var laeq, freq, mod sql.NullFloat64
	if rec.Audio != nil {
		laeq = sql.NullFloat64{Float64: rec.Audio.LAeqDB, Valid: true}
	}
	if rec.Light != nil {
		freq = sql.NullFloat64{Float64: rec.Light.TLMFreqHz, Valid: true}
		mod = sql.NullFloat64{Float64: rec.Light.TLMModPercent, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO minutes (session_id, idx, ts, laeq_db, tlm_freq_hz, tlm_mod_percent, chain_hash, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Idx, rec.TS.UTC(), laeq, freq, mod, rec.Chain.Hash, string(raw))
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return tx.Commit()
}

// Records returns a session's records in chain order, rebuilt from the
// stored JSON so descriptor values round-trip exactly.
func (s *Store) Records(ctx context.Context, sessionID string) ([]minute.Record, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT record_json FROM minutes WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: records: %w", err)
	}
	defer rows.Close()

	var out []minute.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: records: %w", err)
		}
		var rec minute.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("store: records: decode idx %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastChainHash returns the chain hash and idx of a session's newest record.
// ok is false for an empty session.
func (s *Store) LastChainHash(ctx context.Context, sessionID string) (hash string, idx int, ok bool, err error) {
	row := s.QueryRowContext(ctx,
		`SELECT chain_hash, idx FROM minutes WHERE session_id = ? ORDER BY idx DESC LIMIT 1`, sessionID)
	err = row.Scan(&hash, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("store: last chain hash: %w", err)
	}
	return hash, idx, true, nil
}

// SaveFlags replaces a session's stored rule findings with the outcome of a
// fresh evaluation.
func (s *Store) SaveFlags(ctx context.Context, sessionID string, flags []rules.Flag) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save flags: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_flags WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: save flags: %w", err)
	}
	now := time.Now().UTC()
	for _, f := range flags {
		evidence, err := json.Marshal(f.Evidence)
		if err != nil {
			return fmt.Errorf("store: save flags: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rule_flags (session_id, rule_id, severity, detail, evidence_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, f.RuleID, string(f.Severity), f.Detail, string(evidence), now)
		if err != nil {
			return fmt.Errorf("store: save flags: %w", err)
		}
	}
	return tx.Commit()
}

// Flags returns a session's stored rule findings in insertion order.
func (s *Store) Flags(ctx context.Context, sessionID string) ([]rules.Flag, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT rule_id, severity, detail, evidence_json
		FROM rule_flags WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: flags: %w", err)
	}
	defer rows.Close()

	var out []rules.Flag
	for rows.Next() {
		var f rules.Flag
		var severity, evidence string
		if err := rows.Scan(&f.RuleID, &severity, &f.Detail, &evidence); err != nil {
			return nil, fmt.Errorf("store: flags: %w", err)
		}
		f.Severity = rules.Severity(severity)
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, fmt.Errorf("store: flags: decode evidence: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
