// Package repo is the SQLite store behind the mission ledger, the wallet and
// the progression tracker.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stakeproof/internal/ledger"
	"stakeproof/internal/progress"
	"stakeproof/internal/wallet"
)

var (
	_ ledger.Store   = Repo{}
	_ wallet.Wallet  = Repo{}
	_ progress.Store = Repo{}
)

// Repo wraps a migrated database. Accounts open lazily with StartingBalance.
type Repo struct {
	DB              *sql.DB
	StartingBalance int64
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// tsLayout keeps a fixed-width fraction so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// jsonColumn encodes v, storing NULL for nil pointers.
func jsonColumn[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeColumn[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
