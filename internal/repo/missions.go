package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stakeproof/internal/domain"
	"stakeproof/internal/ledger"
)

const missionColumns = `id,owner_id,title,description,category,difficulty,stake,points,template_id,visibility,status,progress,starts_at,ends_at,submitted_for_review,final_evaluation_json,created_at`

func (r Repo) CreateMission(ctx context.Context, m domain.Mission) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM missions WHERE id=?`, m.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: mission %s already exists", domain.ErrValidation, m.ID)
		}
		eval, err := jsonColumn(m.FinalEvaluation)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.OwnerID, m.Title, nullable(m.Description), nullable(m.Category), m.Difficulty, m.Stake, m.Points,
			nullable(m.TemplateID), m.Visibility, m.Status, m.Progress, formatTime(m.StartsAt), formatTime(m.EndsAt),
			m.SubmittedForReview, eval, formatTime(m.CreatedAt)); err != nil {
			return err
		}
		return insertEvidence(ctx, tx, m)
	})
}

// UpdateMission reads, changes and rewrites the mission inside one transaction. The
// connection begins it IMMEDIATE, so writers in other processes sharing the
// database file wait on busy_timeout instead of interleaving with the read.
func (r Repo) UpdateMission(ctx context.Context, id string, fn func(m *domain.Mission) error) (domain.Mission, error) {
	var out domain.Mission
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMission(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}
		if m.ID != id {
			return fmt.Errorf("%w: mission id changed from %s to %s", domain.ErrValidation, id, m.ID)
		}
		if err := saveMission(ctx, tx, m); err != nil {
			return fmt.Errorf("save mission %s: %w", id, err)
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Mission{}, err
	}
	return out, nil
}

// saveMission rewrites the mission row and replaces its evidence and votes.
func saveMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	eval, err := jsonColumn(m.FinalEvaluation)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE missions SET owner_id=?, title=?, description=?, category=?, difficulty=?, stake=?, points=?, template_id=?, visibility=?, status=?, progress=?, starts_at=?, ends_at=?, submitted_for_review=?, final_evaluation_json=? WHERE id=?`,
		m.OwnerID, m.Title, nullable(m.Description), nullable(m.Category), m.Difficulty, m.Stake, m.Points,
		nullable(m.TemplateID), m.Visibility, m.Status, m.Progress, formatTime(m.StartsAt), formatTime(m.EndsAt),
		m.SubmittedForReview, eval, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", m.ID, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_votes WHERE evidence_id IN (SELECT id FROM evidence WHERE mission_id=?)`, m.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE mission_id=?`, m.ID); err != nil {
		return err
	}
	return insertEvidence(ctx, tx, m)
}

func insertEvidence(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	for i, ev := range m.Evidence {
		ai, err := jsonColumn(ev.AI)
		if err != nil {
			return err
		}
		verdict, err := jsonColumn(ev.Verdict)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,mission_id,seq,submitted_at,media,media_ref,description,status,ai_json,verdict_json) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			ev.ID, m.ID, i, formatTime(ev.SubmittedAt), ev.Media, nullable(ev.MediaRef), nullable(ev.Description), ev.Status, ai, verdict); err != nil {
			return fmt.Errorf("insert evidence %s: %w", ev.ID, err)
		}
		for j, v := range ev.Votes {
			if _, err := tx.ExecContext(ctx, `INSERT INTO evidence_votes(evidence_id,voter_id,choice,cast_at,seq) VALUES (?,?,?,?,?)`,
				ev.ID, v.VoterID, v.Choice, formatTime(v.CastAt), j); err != nil {
				return fmt.Errorf("insert vote on %s: %w", ev.ID, err)
			}
		}
	}
	return nil
}

func scanMission(row interface{ Scan(...any) error }) (domain.Mission, error) {
	var m domain.Mission
	var description, category, templateID, eval sql.NullString
	var startsAt, endsAt, createdAt string
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Title, &description, &category, &m.Difficulty, &m.Stake, &m.Points,
		&templateID, &m.Visibility, &m.Status, &m.Progress, &startsAt, &endsAt, &m.SubmittedForReview, &eval, &createdAt); err != nil {
		return m, err
	}
	m.Description = description.String
	m.Category = category.String
	m.TemplateID = templateID.String
	var err error
	if m.StartsAt, err = parseTime(startsAt); err != nil {
		return m, err
	}
	if m.EndsAt, err = parseTime(endsAt); err != nil {
		return m, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return m, err
	}
	if m.FinalEvaluation, err = decodeColumn[domain.FinalEvaluation](eval); err != nil {
		return m, fmt.Errorf("mission %s final evaluation: %w", m.ID, err)
	}
	return m, nil
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return getMission(ctx, r.DB, id)
}

func getMission(ctx context.Context, q querier, id string) (domain.Mission, error) {
	m, err := scanMission(q.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mission{}, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Mission{}, err
	}
	if m.Evidence, err = loadEvidence(ctx, q, id); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

func loadEvidence(ctx context.Context, q querier, missionID string) ([]domain.Evidence, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,submitted_at,media,media_ref,description,status,ai_json,verdict_json FROM evidence WHERE mission_id=? ORDER BY seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Evidence
	for rows.Next() {
		ev := domain.Evidence{MissionID: missionID}
		var submittedAt string
		var mediaRef, description, ai, verdict sql.NullString
		if err := rows.Scan(&ev.ID, &submittedAt, &ev.Media, &mediaRef, &description, &ev.Status, &ai, &verdict); err != nil {
			return nil, err
		}
		if ev.SubmittedAt, err = parseTime(submittedAt); err != nil {
			return nil, err
		}
		ev.MediaRef = mediaRef.String
		ev.Description = description.String
		if ev.AI, err = decodeColumn[domain.AIVerification](ai); err != nil {
			return nil, fmt.Errorf("evidence %s assessment: %w", ev.ID, err)
		}
		if ev.Verdict, err = decodeColumn[domain.FinalVerdict](verdict); err != nil {
			return nil, fmt.Errorf("evidence %s verdict: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for i := range out {
		if out[i].Votes, err = loadVotes(ctx, q, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadVotes(ctx context.Context, q querier, evidenceID string) ([]domain.EvidenceVote, error) {
	rows, err := q.QueryContext(ctx, `SELECT voter_id,choice,cast_at FROM evidence_votes WHERE evidence_id=? ORDER BY seq ASC`, evidenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EvidenceVote
	for rows.Next() {
		var v domain.EvidenceVote
		var castAt string
		if err := rows.Scan(&v.VoterID, &v.Choice, &castAt); err != nil {
			return nil, err
		}
		if v.CastAt, err = parseTime(castAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r Repo) MissionForEvidence(ctx context.Context, evidenceID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT mission_id FROM evidence WHERE id=?`, evidenceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("evidence %s: %w", evidenceID, domain.ErrNotFound)
	}
	return id, err
}

// ListMissions returns missions in creation order.
func (r Repo) ListMissions(ctx context.Context, f ledger.Filter) ([]domain.Mission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Visibility != "" {
		clauses = append(clauses, "visibility=?")
		args = append(args, f.Visibility)
	}
	if f.AwaitingAssessment {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM evidence e WHERE e.mission_id=missions.id AND e.ai_json IS NULL)")
	}
	query := fmt.Sprintf(`SELECT %s FROM missions WHERE %s ORDER BY rowid ASC`, missionColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for i := range out {
		if out[i].Evidence, err = loadEvidence(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r Repo) CreateJoin(ctx context.Context, j domain.JoinedMission) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM joined_missions WHERE source_mission_id=? AND user_id=?`, j.SourceMissionID, j.UserID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: user %s already joined mission %s", domain.ErrValidation, j.UserID, j.SourceMissionID)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO joined_missions(id,source_mission_id,mission_id,user_id,joined_at) VALUES (?,?,?,?,?)`,
			j.ID, j.SourceMissionID, j.MissionID, j.UserID, formatTime(j.JoinedAt))
		return err
	})
}

func (r Repo) ListJoins(ctx context.Context, sourceMissionID string) ([]domain.JoinedMission, error) {
	query := `SELECT id,source_mission_id,mission_id,user_id,joined_at FROM joined_missions`
	var args []any
	if sourceMissionID != "" {
		query += ` WHERE source_mission_id=?`
		args = append(args, sourceMissionID)
	}
	query += ` ORDER BY joined_at ASC, rowid ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.JoinedMission{}
	for rows.Next() {
		var j domain.JoinedMission
		var joinedAt string
		if err := rows.Scan(&j.ID, &j.SourceMissionID, &j.MissionID, &j.UserID, &joinedAt); err != nil {
			return nil, err
		}
		if j.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
