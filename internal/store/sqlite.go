// Package store persists the intake ledger's state.
//
// The layout is deliberately key-addressed: the full entry sequence and
// the configured cup size live under two logical keys in one table, and
// every save writes both inside a single transaction. A crash can never
// leave an updated entry list next to a stale cup size or vice versa.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"vocht/internal/core"

	_ "modernc.org/sqlite"
)

const (
	keyEntries = "entries"
	keyCupSize = "cupSize"

	// envelopeVersion tags the serialized entry list so the layout can
	// be migrated later. The original storage had no version tag.
	envelopeVersion = 1
)

// entriesEnvelope is the serialized form of the entry sequence. Total
// travels along purely as a cache; Load always recomputes it from the
// entries and only uses the stored value to detect drift.
type entriesEnvelope struct {
	Version int          `json:"version"`
	Entries []core.Entry `json:"entries"`
	TotalML float64      `json:"totalMl"`
}

// SQLite is the durable EntryStore backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the ledger database at dbPath
// and runs pending schema migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load returns the last durably committed ledger state. Missing keys
// are not an error: a never-written store loads as an empty entry list
// and an absent cup size.
func (s *SQLite) Load(ctx context.Context) (entries []core.Entry, cupSize float64, cupSet bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM ledger_state WHERE key IN (?, ?)`, keyEntries, keyCupSize)
	if err != nil {
		return nil, 0, false, wrapPersistence("load ledger state", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, 0, false, wrapPersistence("scan ledger state", err)
		}
		switch key {
		case keyEntries:
			entries, err = decodeEntries(ctx, value)
			if err != nil {
				return nil, 0, false, err
			}
		case keyCupSize:
			size, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, 0, false, wrapPersistence("decode cup size", err)
			}
			cupSize, cupSet = size, true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, wrapPersistence("load ledger state", err)
	}

	return entries, cupSize, cupSet, nil
}

// Save persists the entry sequence and cup size together. Both records
// are written in one transaction; an absent cup size removes the record
// so a later Load reports it as unset.
func (s *SQLite) Save(ctx context.Context, entries []core.Entry, cupSize float64, cupSet bool) error {
	payload, err := json.Marshal(entriesEnvelope{
		Version: envelopeVersion,
		Entries: entries,
		TotalML: core.TotalOf(entries),
	})
	if err != nil {
		return wrapPersistence("encode entries", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPersistence("begin save", err)
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, keyEntries, string(payload)); err != nil {
		return wrapPersistence("save entries", err)
	}

	if cupSet {
		if err := upsert(ctx, tx, keyCupSize, strconv.FormatFloat(cupSize, 'f', -1, 64)); err != nil {
			return wrapPersistence("save cup size", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ledger_state WHERE key = ?`, keyCupSize); err != nil {
			return wrapPersistence("remove cup size", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapPersistence("commit save", err)
	}
	return nil
}

// Clear removes all ledger records in one transaction.
func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPersistence("begin clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ledger_state WHERE key IN (?, ?)`, keyEntries, keyCupSize); err != nil {
		return wrapPersistence("clear ledger state", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapPersistence("commit clear", err)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

func decodeEntries(ctx context.Context, value string) ([]core.Entry, error) {
	var env entriesEnvelope
	if err := json.Unmarshal([]byte(value), &env); err == nil && env.Version > 0 {
		if recomputed := core.TotalOf(env.Entries); recomputed != env.TotalML {
			slog.WarnContext(ctx, "Stored total drifted from entries, using recomputed sum",
				"stored_total_ml", env.TotalML,
				"recomputed_total_ml", recomputed)
		}
		return env.Entries, nil
	}

	// Legacy layout: a bare JSON array without the version envelope.
	var entries []core.Entry
	if err := json.Unmarshal([]byte(value), &entries); err != nil {
		return nil, wrapPersistence("decode entries", err)
	}
	return entries, nil
}

func wrapPersistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, err)
}

var _ = errors.Is // boundary checks use errors.Is against core.ErrPersistence
