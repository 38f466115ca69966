package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stakeproof/internal/domain"
)

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	return getProfile(ctx, r.DB, userID)
}

func getProfile(ctx context.Context, q querier, userID string) (domain.UserProfile, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT profile_json FROM profiles WHERE user_id=?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	var p domain.UserProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return p, nil
}

// UpdateProfile reads and upserts the profile inside one immediate transaction.
func (r Repo) UpdateProfile(ctx context.Context, userID string, fn func(p *domain.UserProfile) error) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getProfile(ctx, tx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			p, err = domain.NewProfile(userID), nil
		}
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UserID = userID
		if err := saveProfile(ctx, tx, p); err != nil {
			return fmt.Errorf("save profile %s: %w", userID, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	return out, nil
}

func saveProfile(ctx context.Context, q querier, p domain.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO profiles(user_id,profile_json,updated_at) VALUES (?,?,?)
ON CONFLICT(user_id) DO UPDATE SET profile_json=excluded.profile_json, updated_at=excluded.updated_at`,
		p.UserID, string(data), formatTime(time.Now()))
	return err
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT profile_json FROM profiles ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.UserProfile{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p domain.UserProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
