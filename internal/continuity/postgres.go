package continuity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists continuity records in postgres, one row set per
// project. Commits run in a single transaction with the project row
// locked, so concurrent sessions serialize on the commit path.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and pings it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

// Snapshot reads all project records inside one read-only transaction,
// so a commit landing mid-read cannot produce a torn view.
func (s *PostgresStore) Snapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	snap := NewSnapshot(projectID)

	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT last_episode FROM projects WHERE id = $1`, projectID).Scan(&snap.LastEpisode)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, &CorruptionError{Reason: "project row unreadable", Err: err}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, hint, introduced_ep, due_ep, payoff_ep FROM foreshadows WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, &CorruptionError{Reason: "foreshadow ledger unreadable", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var f ForeshadowRecord
		var payoff sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Hint, &f.IntroducedEp, &f.DueEp, &payoff); err != nil {
			return nil, &CorruptionError{Reason: "foreshadow record malformed", Err: err}
		}
		if payoff.Valid {
			v := int(payoff.Int64)
			f.PayoffEp = &v
		}
		snap.Foreshadows = append(snap.Foreshadows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptionError{Reason: "foreshadow ledger unreadable", Err: err}
	}

	arows, err := tx.QueryContext(ctx,
		`SELECT id, goal, keywords, anchor_ep, tolerance, found_ep, missed FROM anchors WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, &CorruptionError{Reason: "anchor registry unreadable", Err: err}
	}
	defer arows.Close()
	for arows.Next() {
		var a AnchorRecord
		var found sql.NullInt64
		if err := arows.Scan(&a.ID, &a.Goal, pq.Array(&a.Keywords), &a.AnchorEp, &a.Tolerance, &found, &a.Missed); err != nil {
			return nil, &CorruptionError{Reason: "anchor record malformed", Err: err}
		}
		if found.Valid {
			v := int(found.Int64)
			a.FoundEp = &v
		}
		snap.Anchors = append(snap.Anchors, a)
	}
	if err := arows.Err(); err != nil {
		return nil, &CorruptionError{Reason: "anchor registry unreadable", Err: err}
	}

	frows, err := tx.QueryContext(ctx,
		`SELECT character, attribute, value FROM immutable_facts WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, &CorruptionError{Reason: "fact set unreadable", Err: err}
	}
	defer frows.Close()
	for frows.Next() {
		var ch, attr, val string
		if err := frows.Scan(&ch, &attr, &val); err != nil {
			return nil, &CorruptionError{Reason: "fact record malformed", Err: err}
		}
		attrs, ok := snap.Facts[ch]
		if !ok {
			attrs = map[string]string{}
			snap.Facts[ch] = attrs
		}
		attrs[attr] = val
	}
	if err := frows.Err(); err != nil {
		return nil, &CorruptionError{Reason: "fact set unreadable", Err: err}
	}

	rrows, err := tx.QueryContext(ctx,
		`SELECT pair, kind, changed_ep FROM relations WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, &CorruptionError{Reason: "relation matrix unreadable", Err: err}
	}
	defer rrows.Close()
	for rrows.Next() {
		var e RelationEntry
		if err := rrows.Scan(&e.Pair, &e.Kind, &e.ChangedEp); err != nil {
			return nil, &CorruptionError{Reason: "relation record malformed", Err: err}
		}
		snap.Relations[e.Pair] = e
	}
	if err := rrows.Err(); err != nil {
		return nil, &CorruptionError{Reason: "relation matrix unreadable", Err: err}
	}

	drows, err := tx.QueryContext(ctx,
		`SELECT episode, story_date FROM episode_dates WHERE project_id = $1 ORDER BY episode`, projectID)
	if err != nil {
		return nil, &CorruptionError{Reason: "date ledger unreadable", Err: err}
	}
	defer drows.Close()
	for drows.Next() {
		var d DateEntry
		if err := drows.Scan(&d.Episode, &d.Date); err != nil {
			return nil, &CorruptionError{Reason: "date record malformed", Err: err}
		}
		snap.Dates = append(snap.Dates, d)
	}
	if err := drows.Err(); err != nil {
		return nil, &CorruptionError{Reason: "date ledger unreadable", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close snapshot tx: %w", err)
	}
	return snap, nil
}

// Commit applies one episode's mutations in a single transaction. The
// project row is locked for the duration so commits are strictly
// sequential per project regardless of caller concurrency.
func (s *PostgresStore) Commit(ctx context.Context, projectID string, m Mutations) (*Snapshot, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, last_episode) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`, projectID); err != nil {
		return nil, fmt.Errorf("ensure project row: %w", err)
	}
	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT last_episode FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&last); err != nil {
		return nil, &CorruptionError{Reason: "project row unreadable", Err: err}
	}
	if m.Episode <= last {
		return nil, &CorruptionError{Reason: "commit out of order",
			Detail: fmt.Sprintf("episode %d does not advance ledger at %d", m.Episode, last)}
	}

	if m.Date != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO episode_dates (project_id, episode, story_date) VALUES ($1, $2, $3)`,
			projectID, m.Episode, m.Date); err != nil {
			return nil, fmt.Errorf("append date ledger: %w", err)
		}
	}
	for _, f := range m.NewFacts {
		// write-once: an existing attribute is never overwritten
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO immutable_facts (project_id, character, attribute, value, asserted_ep)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, character, attribute) DO NOTHING`,
			projectID, f.Character, f.Attribute, f.Value, m.Episode); err != nil {
			return nil, fmt.Errorf("record fact: %w", err)
		}
	}
	for _, t := range m.Transitions {
		key := NormalizePair(t.Pair)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (project_id, pair, kind, changed_ep) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (project_id, pair) DO UPDATE SET kind = EXCLUDED.kind, changed_ep = EXCLUDED.changed_ep`,
			projectID, key, t.To, m.Episode); err != nil {
			return nil, fmt.Errorf("apply relation transition: %w", err)
		}
	}
	for _, id := range m.Payoffs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE foreshadows SET payoff_ep = $3 WHERE project_id = $1 AND id = $2 AND payoff_ep IS NULL`,
			projectID, id, m.Episode); err != nil {
			return nil, fmt.Errorf("record payoff: %w", err)
		}
	}
	for _, f := range m.NewForeshadows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO foreshadows (project_id, id, hint, introduced_ep, due_ep) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, id) DO NOTHING`,
			projectID, f.ID, f.Hint, f.IntroducedEp, f.DueEp); err != nil {
			return nil, fmt.Errorf("plant foreshadow: %w", err)
		}
	}
	for _, id := range m.AnchorsFound {
		if _, err := tx.ExecContext(ctx,
			`UPDATE anchors SET found_ep = $3 WHERE project_id = $1 AND id = $2 AND found_ep IS NULL`,
			projectID, id, m.Episode); err != nil {
			return nil, fmt.Errorf("mark anchor found: %w", err)
		}
	}
	for _, id := range m.AnchorsMissed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE anchors SET missed = TRUE WHERE project_id = $1 AND id = $2 AND found_ep IS NULL`,
			projectID, id); err != nil {
			return nil, fmt.Errorf("mark anchor missed: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET last_episode = $2, updated_at = NOW() WHERE id = $1`,
		projectID, m.Episode); err != nil {
		return nil, fmt.Errorf("advance ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.Snapshot(ctx, projectID)
}

func (s *PostgresStore) Seed(ctx context.Context, projectID string, seed Seed) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, last_episode) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`, projectID); err != nil {
		return fmt.Errorf("ensure project row: %w", err)
	}
	for _, a := range seed.Anchors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO anchors (project_id, id, goal, keywords, anchor_ep, tolerance, missed)
			 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
			 ON CONFLICT (project_id, id) DO NOTHING`,
			projectID, a.ID, a.Goal, pq.Array(a.Keywords), a.AnchorEp, a.Tolerance); err != nil {
			return fmt.Errorf("seed anchor %s: %w", a.ID, err)
		}
	}
	for _, f := range seed.Facts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO immutable_facts (project_id, character, attribute, value, asserted_ep)
			 VALUES ($1, $2, $3, $4, 0)
			 ON CONFLICT (project_id, character, attribute) DO NOTHING`,
			projectID, f.Character, f.Attribute, f.Value); err != nil {
			return fmt.Errorf("seed fact %s.%s: %w", f.Character, f.Attribute, err)
		}
	}
	for _, f := range seed.Foreshadows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO foreshadows (project_id, id, hint, introduced_ep, due_ep) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, id) DO NOTHING`,
			projectID, f.ID, f.Hint, f.IntroducedEp, f.DueEp); err != nil {
			return fmt.Errorf("seed foreshadow %s: %w", f.ID, err)
		}
	}
	for _, r := range seed.Relations {
		key := NormalizePair(r.Pair)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (project_id, pair, kind, changed_ep) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (project_id, pair) DO UPDATE SET kind = EXCLUDED.kind, changed_ep = EXCLUDED.changed_ep`,
			projectID, key, r.Kind, r.ChangedEp); err != nil {
			return fmt.Errorf("seed relation %s: %w", key, err)
		}
	}
	return tx.Commit()
}

var _ Store = (*PostgresStore)(nil)
