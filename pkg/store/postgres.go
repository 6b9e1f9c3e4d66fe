package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the production Store backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// slogGooseLogger adapts slog.Logger to the goose.Logger interface.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// NewPostgres connects to the database and applies pending migrations.
func NewPostgres(ctx context.Context, log *slog.Logger, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := runMigrations(ctx, log, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func runMigrations(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, sessionID, question string) (*Run, error) {
	var run Run
	err := p.pool.QueryRow(ctx, `
		INSERT INTO runs (session_id, question)
		VALUES ($1, $2)
		RETURNING id, session_id, status, question, answer, query, retry_count, row_count,
		          execution_error, export_path, started_at, completed_at
	`, sessionID, question).Scan(
		&run.ID, &run.SessionID, &run.Status, &run.Question, &run.Answer, &run.Query,
		&run.RetryCount, &run.RowCount, &run.ExecutionError, &run.ExportPath,
		&run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

func (p *Postgres) CompleteRun(ctx context.Context, id uuid.UUID, result *workflow.RunResult) error {
	exportPath := ""
	if result.Export != nil {
		exportPath = result.Export.Path
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, answer = $3, query = $4, retry_count = $5, row_count = $6,
		    execution_error = $7, export_path = $8, completed_at = now()
		WHERE id = $1
	`, id, StatusCompleted, result.Answer, result.Query, result.RetryCount,
		result.RowCount, result.ExecutionError, exportPath)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) FailRun(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, execution_error = $3, completed_at = now()
		WHERE id = $1
	`, id, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to fail run %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := p.pool.QueryRow(ctx, `
		SELECT id, session_id, status, question, answer, query, retry_count, row_count,
		       execution_error, export_path, started_at, completed_at
		FROM runs WHERE id = $1
	`, id).Scan(
		&run.ID, &run.SessionID, &run.Status, &run.Question, &run.Answer, &run.Query,
		&run.RetryCount, &run.RowCount, &run.ExecutionError, &run.ExportPath,
		&run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (p *Postgres) LatestRunForSession(ctx context.Context, sessionID string) (*Run, error) {
	var run Run
	err := p.pool.QueryRow(ctx, `
		SELECT id, session_id, status, question, answer, query, retry_count, row_count,
		       execution_error, export_path, started_at, completed_at
		FROM runs WHERE session_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, sessionID).Scan(
		&run.ID, &run.SessionID, &run.Status, &run.Question, &run.Answer, &run.Query,
		&run.RetryCount, &run.RowCount, &run.ExecutionError, &run.ExportPath,
		&run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run for session %s: %w", sessionID, err)
	}
	return &run, nil
}

func (p *Postgres) History(ctx context.Context, sessionID string, limit int) ([]workflow.ConversationMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent ORDER BY id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var history []workflow.ConversationMessage
	for rows.Next() {
		var msg workflow.ConversationMessage
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

func (p *Postgres) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (session_id, role, content) VALUES ($1, $2, $3)
	`, sessionID, role, content)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Store = (*Postgres)(nil)
