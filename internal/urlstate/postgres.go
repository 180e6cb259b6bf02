package urlstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const clockStateSchema = `
	CREATE TABLE IF NOT EXISTS clock_state (
		id              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		simulation_time TIMESTAMPTZ      NOT NULL,
		prop_rate       DOUBLE PRECISION NOT NULL,
		saved_at        TIMESTAMPTZ      NOT NULL
	)
`

// PostgresStore keeps the state in a single-row clock_state table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With("repository", "clock_state"),
	}
}

// EnsureSchema creates the clock_state table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, clockStateSchema); err != nil {
		return fmt.Errorf("failed to create clock_state table: %w", err)
	}
	return nil
}

// Save upserts the single state row.
func (s *PostgresStore) Save(ctx context.Context, st State) error {
	query := `
		INSERT INTO clock_state (id, simulation_time, prop_rate, saved_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET simulation_time = EXCLUDED.simulation_time,
		    prop_rate = EXCLUDED.prop_rate,
		    saved_at = EXCLUDED.saved_at
	`
	if _, err := s.pool.Exec(ctx, query, st.SimulationTime, st.PropRate, st.SavedAt); err != nil {
		return fmt.Errorf("failed to save clock state: %w", err)
	}
	return nil
}

// Load reads the state row. It returns ErrNoState if none was saved.
func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	query := `SELECT simulation_time, prop_rate, saved_at FROM clock_state WHERE id = 1`

	var st State
	err := s.pool.QueryRow(ctx, query).Scan(&st.SimulationTime, &st.PropRate, &st.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to load clock state: %w", err)
	}
	st.SimulationTime = st.SimulationTime.UTC()
	st.SavedAt = st.SavedAt.UTC()
	return st, nil
}
