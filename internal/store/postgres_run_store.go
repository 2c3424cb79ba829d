package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/solarprep/internal/domain"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	request JSONB NOT NULL,
	summary JSONB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresRunStore struct {
	db *sql.DB
}

var _ RunStore = (*PostgresRunStore)(nil)

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.Run) error {
	requestJSON, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	summaryJSON, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, status, source, destination, request, summary, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.Status,
		run.Request.Source,
		run.Request.Destination,
		requestJSON,
		summaryJSON,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.Run, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, request, summary, error, created_at, updated_at
		 FROM runs
		 WHERE id = $1`,
		id,
	)

	var (
		run         domain.Run
		requestJSON []byte
		summaryJSON []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Status,
		&requestJSON,
		&summaryJSON,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, false, nil
		}
		return domain.Run{}, false, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &run.Request); err != nil {
		return domain.Run{}, false, fmt.Errorf("unmarshal run request: %w", err)
	}
	if len(summaryJSON) > 0 {
		var summary domain.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return domain.Run{}, false, fmt.Errorf("unmarshal run summary: %w", err)
		}
		run.Summary = &summary
	}

	return run, true, nil
}

func (s *PostgresRunStore) UpdateStatus(ctx context.Context, id, status string) (domain.Run, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("update run status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresRunStore) Finish(ctx context.Context, id, status string, summary *domain.Summary, errMsg string) (domain.Run, error) {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return domain.Run{}, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, summary = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		summaryJSON,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("finish run: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresRunStore) reload(ctx context.Context, id string, res sql.Result) (domain.Run, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Run{}, ErrRunNotFound
	}

	run, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	return run, nil
}

// marshalSummary maps a nil summary to SQL NULL.
func marshalSummary(summary *domain.Summary) (any, error) {
	if summary == nil {
		return nil, nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return data, nil
}
