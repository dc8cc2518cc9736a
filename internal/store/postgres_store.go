package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"refinery.app/engine/internal/model"
)

// PostgresStore is the durable MemoryStore backed by a pgxpool.Pool. Entries
// are append-only; DeleteThread is the only bulk mutation.
type PostgresStore struct {
	pool            *pgxpool.Pool
	duplicateWindow int
}

// NewPostgresPool dials Postgres and returns a ready connection pool, mirroring
// the teacher's pool-sizing defaults (MaxConns 10, MinConns 2 when unset).
func NewPostgresPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	} else {
		poolCfg.MaxConns = 10
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// NewPostgresStore wraps an already-dialed pool. Schema is expected to exist
// (see Migrate for the DDL this store assumes).
func NewPostgresStore(pool *pgxpool.Pool, duplicateWindow int) *PostgresStore {
	if duplicateWindow <= 0 {
		duplicateWindow = DefaultDuplicateWindow
	}
	return &PostgresStore{pool: pool, duplicateWindow: duplicateWindow}
}

// Migrate creates the conversation_entries table if it does not exist. It is
// intentionally idempotent so it can run on every service start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_entries (
			entry_id            TEXT PRIMARY KEY,
			thread_id           TEXT NOT NULL,
			timestamp           TIMESTAMPTZ NOT NULL,
			user_query          TEXT NOT NULL,
			query_kind          TEXT NOT NULL,
			is_followup         BOOLEAN NOT NULL,
			processing_time_ms  BIGINT NOT NULL,
			specialist_outputs  JSONB,
			moderator_output    TEXT,
			final_answer        TEXT NOT NULL,
			route_decision      TEXT NOT NULL,
			duplicate           BOOLEAN NOT NULL DEFAULT FALSE,
			fingerprint         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_entries_thread
			ON conversation_entries (thread_id, timestamp DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrating conversation_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry model.ConversationEntry) error {
	outputs, err := json.Marshal(entry.SpecialistOutputs)
	if err != nil {
		return fmt.Errorf("marshaling specialist outputs: %w", err)
	}

	duplicate, err := s.isDuplicate(ctx, entry)
	if err != nil {
		return fmt.Errorf("checking duplicate fingerprint: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_entries
			(entry_id, thread_id, timestamp, user_query, query_kind, is_followup,
			 processing_time_ms, specialist_outputs, moderator_output, final_answer,
			 route_decision, duplicate, fingerprint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (entry_id) DO NOTHING
	`,
		entry.EntryID, entry.ThreadID, entry.Timestamp, entry.UserQuery, entry.QueryKind, entry.IsFollowup,
		entry.ProcessingTimeMS, outputs, nullableString(entry.ModeratorOutput), entry.FinalAnswer,
		entry.RouteDecision, duplicate, Fingerprint(entry.FinalAnswer),
	)
	if err != nil {
		return fmt.Errorf("appending conversation entry: %w", err)
	}
	return nil
}

// isDuplicate mirrors InMemoryStore's fingerprint check against the last
// duplicateWindow rows already committed to the thread.
func (s *PostgresStore) isDuplicate(ctx context.Context, entry model.ConversationEntry) (bool, error) {
	fp := Fingerprint(entry.FinalAnswer)
	if fp == "" {
		return false, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT fingerprint FROM conversation_entries
		WHERE thread_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, entry.ThreadID, s.duplicateWindow)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return false, err
		}
		if existing == fp {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *PostgresStore) List(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error) {
	query := `
		SELECT entry_id, thread_id, timestamp, user_query, query_kind, is_followup,
		       processing_time_ms, specialist_outputs, moderator_output, final_answer,
		       route_decision, duplicate
		FROM conversation_entries
		WHERE thread_id = $1
		ORDER BY timestamp DESC
	`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversation entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error) {
	query := `
		SELECT entry_id, thread_id, timestamp, user_query, query_kind, is_followup,
		       processing_time_ms, specialist_outputs, moderator_output, final_answer,
		       route_decision, duplicate
		FROM conversation_entries
		WHERE thread_id = $1 AND (user_query ILIKE $2 OR final_answer ILIKE $2)
		ORDER BY timestamp DESC, entry_id ASC
	`
	args := []any{threadID, "%" + text + "%"}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching conversation entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_entries WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("deleting thread: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT thread_id), COALESCE(MAX(timestamp), 'epoch'::timestamptz)
		FROM conversation_entries
	`)
	if err := row.Scan(&stats.TotalEntries, &stats.ThreadCount, &stats.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Stats{}, nil
		}
		return model.Stats{}, fmt.Errorf("loading stats: %w", err)
	}
	return stats, nil
}

func scanEntries(rows pgx.Rows) ([]model.ConversationEntry, error) {
	var entries []model.ConversationEntry
	for rows.Next() {
		var (
			e               model.ConversationEntry
			outputs         []byte
			moderatorOutput *string
		)
		if err := rows.Scan(
			&e.EntryID, &e.ThreadID, &e.Timestamp, &e.UserQuery, &e.QueryKind, &e.IsFollowup,
			&e.ProcessingTimeMS, &outputs, &moderatorOutput, &e.FinalAnswer,
			&e.RouteDecision, &e.Duplicate,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation entry: %w", err)
		}

		if len(outputs) > 0 {
			if err := json.Unmarshal(outputs, &e.SpecialistOutputs); err != nil {
				return nil, fmt.Errorf("unmarshaling specialist outputs: %w", err)
			}
		}
		if moderatorOutput != nil {
			e.ModeratorOutput = *moderatorOutput
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
