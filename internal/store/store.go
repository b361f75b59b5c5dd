// Package store keeps the history of collection runs in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/stats"
)

// ErrNotFound is returned when a run or user does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for runs
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new run store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunStarted records a run as running. A second call for the same id is a no-op.
func (s *Store) RunStarted(ctx context.Context, report *collector.Report) error {
	query := `
		INSERT INTO runs (id, trigger, cutoff, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}
	_, err = s.pool.Exec(ctx, query,
		runID, report.Trigger, report.Cutoff, report.Status, report.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RunFinished stores the final state of a run together with its ranking and
// per-user records, replacing anything stored for it before.
func (s *Store) RunFinished(ctx context.Context, report *collector.Report) error {
	sessions, err := json.Marshal(report.Sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	activities, err := json.Marshal(report.Activities)
	if err != nil {
		return fmt.Errorf("failed to encode activities: %w", err)
	}
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO runs (id, trigger, cutoff, status, error, started_at, finished_at, sessions, activities, summary)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8::jsonb, $9::jsonb, $10::jsonb)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				error = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at,
				sessions = EXCLUDED.sessions,
				activities = EXCLUDED.activities,
				summary = EXCLUDED.summary
		`
		_, err := tx.Exec(ctx, query,
			runID, report.Trigger, report.Cutoff, report.Status, report.Error,
			report.StartedAt, report.FinishedAt, sessions, activities, summary)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM run_stats WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("failed to clear run stats: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM run_posts WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("failed to clear run posts: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"run_stats"},
			[]string{"run_id", "rank", "identity", "patrol", "evaluation", "activity", "total"},
			pgx.CopyFromSlice(len(report.Stats), func(i int) ([]any, error) {
				st := report.Stats[i]
				return []any{runID, i + 1, st.Identity, st.Patrol, st.Evaluation, st.Activity, st.Total}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy run stats: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"run_posts"},
			[]string{"run_id", "source", "identity", "position", "posted_at", "message", "river"},
			pgx.CopyFromRows(postRows(runID, report)),
		)
		if err != nil {
			return fmt.Errorf("failed to copy run posts: %w", err)
		}
		return nil
	})
}

func postRows(runID uuid.UUID, report *collector.Report) [][]any {
	var rows [][]any
	for _, source := range stats.Sources {
		for _, user := range report.Users[source] {
			for i, post := range user.Posts {
				rows = append(rows, []any{runID, string(source), user.Identity, i, post.Time, post.Message, post.River})
			}
		}
	}
	return rows
}

// parseRunID maps malformed ids to ErrNotFound; no such run can exist.
func parseRunID(id string) (uuid.UUID, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return runID, nil
}

// runColumns is the standard column list for run queries
const runColumns = `id::text, trigger, cutoff, status, COALESCE(error, ''), started_at,
			finished_at, sessions, activities, summary`

func scanRun(row pgx.Row) (*collector.Report, error) {
	report := &collector.Report{}
	var finishedAt *time.Time
	var sessions, activities, summary []byte

	err := row.Scan(
		&report.RunID, &report.Trigger, &report.Cutoff, &report.Status, &report.Error, &report.StartedAt,
		&finishedAt, &sessions, &activities, &summary,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt != nil {
		report.FinishedAt = *finishedAt
	}
	if err := json.Unmarshal(sessions, &report.Sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	if err := json.Unmarshal(activities, &report.Activities); err != nil {
		return nil, fmt.Errorf("failed to decode activities: %w", err)
	}
	if err := json.Unmarshal(summary, &report.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	report.ActivitySummary = collector.SummarizeActivities(report.Activities)
	return report, nil
}

// ListRuns returns the most recent runs without their rankings
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*collector.Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf(`SELECT %s FROM runs ORDER BY started_at DESC LIMIT $1`, runColumns)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*collector.Report{}
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, report)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run with its ranking
func (s *Store) GetRun(ctx context.Context, id string) (*collector.Report, error) {
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE id = $1`, runColumns)

	runID, err := parseRunID(id)
	if err != nil {
		return nil, err
	}
	report, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	report.Stats, err = s.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// LatestRunID returns the id of the most recent finished run with results
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	query := `
		SELECT id::text FROM runs
		WHERE status IN ('succeeded', 'cancelled') AND finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT 1
	`
	var id string
	if err := s.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("finished run: %w", ErrNotFound)
		}
		return "", fmt.Errorf("failed to get latest run: %w", err)
	}
	return id, nil
}

// GetStats retrieves a run's ranking in rank order
func (s *Store) GetStats(ctx context.Context, runID string) ([]stats.ComprehensiveStat, error) {
	query := `
		SELECT identity, patrol, evaluation, activity, total
		FROM run_stats
		WHERE run_id = $1
		ORDER BY rank ASC
	`
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}
	defer rows.Close()

	out := []stats.ComprehensiveStat{}
	for rows.Next() {
		var st stats.ComprehensiveStat
		if err := rows.Scan(&st.Identity, &st.Patrol, &st.Evaluation, &st.Activity, &st.Total); err != nil {
			return nil, fmt.Errorf("failed to scan run stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetUserPosts retrieves identity's records in a run, grouped by source
func (s *Store) GetUserPosts(ctx context.Context, runID, identity string) (map[stats.Source]stats.UserAggregate, error) {
	query := `
		SELECT source, posted_at, message, river
		FROM run_posts
		WHERE run_id = $1 AND identity = $2
		ORDER BY source, position
	`
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, id, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get user posts: %w", err)
	}
	defer rows.Close()

	out := make(map[stats.Source]stats.UserAggregate)
	for rows.Next() {
		var source string
		var post stats.Post
		if err := rows.Scan(&source, &post.Time, &post.Message, &post.River); err != nil {
			return nil, fmt.Errorf("failed to scan user post: %w", err)
		}
		agg := out[stats.Source(source)]
		agg.Identity = identity
		agg.Count++
		agg.Posts = append(agg.Posts, post)
		out[stats.Source(source)] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user posts: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("user %s in run %s: %w", identity, runID, ErrNotFound)
	}
	return out, nil
}
