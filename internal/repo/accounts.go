package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stakeproof/internal/domain"
	"stakeproof/internal/wallet"
)

func (r Repo) openAccount(ctx context.Context, q querier, userID string) (domain.Account, error) {
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO accounts(user_id,balance) VALUES (?,?)`, userID, r.StartingBalance); err != nil {
		return domain.Account{}, err
	}
	a := domain.Account{UserID: userID}
	err := q.QueryRowContext(ctx, `SELECT balance,reputation,total_votes,correct_votes FROM accounts WHERE user_id=?`, userID).
		Scan(&a.Balance, &a.Reputation, &a.TotalVotes, &a.CorrectVotes)
	return a, err
}

func writeAccount(ctx context.Context, q querier, a domain.Account) error {
	_, err := q.ExecContext(ctx, `UPDATE accounts SET balance=?, reputation=?, total_votes=?, correct_votes=? WHERE user_id=?`,
		a.Balance, a.Reputation, a.TotalVotes, a.CorrectVotes, a.UserID)
	return err
}

func (r Repo) Account(ctx context.Context, userID string) (domain.Account, error) {
	return r.openAccount(ctx, r.DB, userID)
}

// change runs fn against one account inside a transaction and stores the result.
func (r Repo) change(ctx context.Context, userID string, fn func(a *domain.Account) error) (domain.Account, error) {
	var out domain.Account
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		a, err := r.openAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			out = a
			return err
		}
		out = a
		return writeAccount(ctx, tx, a)
	})
	return out, err
}

func (r Repo) Credit(ctx context.Context, userID string, amount int64) (domain.Account, error) {
	if err := wallet.ValidAmount(amount); err != nil {
		return domain.Account{}, err
	}
	return r.change(ctx, userID, func(a *domain.Account) error {
		a.Balance += amount
		return nil
	})
}

func (r Repo) Debit(ctx context.Context, userID string, amount int64) (domain.Account, error) {
	if err := wallet.ValidAmount(amount); err != nil {
		return domain.Account{}, err
	}
	return r.change(ctx, userID, func(a *domain.Account) error {
		if a.Balance < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientFunds, userID, a.Balance, amount)
		}
		a.Balance -= amount
		return nil
	})
}

func (r Repo) AdjustReputation(ctx context.Context, userID string, delta int) (domain.Account, error) {
	return r.change(ctx, userID, func(a *domain.Account) error {
		a.Reputation += delta
		return nil
	})
}

// Settle applies every entry in one transaction. The key is recorded in the
// same transaction, so a key that was already applied commits nothing.
func (r Repo) Settle(ctx context.Context, key string, entries []wallet.Entry) error {
	if err := wallet.ValidKey(key); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO settlements(key,applied_at) VALUES (?,?)`, key, formatTime(time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("record settlement %s: %w", key, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return nil
		}
		for _, e := range entries {
			a, err := r.openAccount(ctx, tx, e.UserID)
			if err != nil {
				return err
			}
			wallet.Apply(&a, e)
			if err := writeAccount(ctx, tx, a); err != nil {
				return fmt.Errorf("settle %s: %w", e.UserID, err)
			}
		}
		return nil
	})
}

func (r Repo) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,balance,reputation,total_votes,correct_votes FROM accounts ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.UserID, &a.Balance, &a.Reputation, &a.TotalVotes, &a.CorrectVotes); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
