package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// jobRow mirrors the processing_jobs table.
type jobRow struct {
	ID           string          `db:"id"`
	WorkspaceID  string          `db:"workspace_id"`
	SourceRef    string          `db:"source_ref"`
	Filename     string          `db:"filename"`
	FileSize     int64           `db:"file_size"`
	Language     string          `db:"language"`
	State        string          `db:"state"`
	Progress     int             `db:"progress"`
	Attempt      int             `db:"attempt"`
	Logs         []byte          `db:"logs"`
	Transcript   json.RawMessage `db:"transcript"`
	Summary      json.RawMessage `db:"summary"`
	MeetingID    sql.NullString  `db:"meeting_id"`
	ErrorMessage sql.NullString  `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r *jobRow) toJob() (*Job, error) {
	job := &Job{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		SourceRef:   r.SourceRef,
		Filename:    r.Filename,
		FileSize:    r.FileSize,
		Language:    r.Language,
		State:       State(r.State),
		Progress:    r.Progress,
		Attempt:     r.Attempt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.MeetingID.Valid {
		job.MeetingID = r.MeetingID.String
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}
	if len(r.Logs) > 0 {
		if err := json.Unmarshal(r.Logs, &job.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode job logs: %w", err)
		}
	}
	if len(r.Transcript) > 0 {
		job.Transcript = &Transcript{}
		if err := json.Unmarshal(r.Transcript, job.Transcript); err != nil {
			return nil, fmt.Errorf("failed to decode job transcript: %w", err)
		}
	}
	if len(r.Summary) > 0 {
		job.Summary = &Summary{}
		if err := json.Unmarshal(r.Summary, job.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode job summary: %w", err)
		}
	}
	return job, nil
}

const jobColumns = `id, workspace_id, source_ref, filename, file_size, language,
	state, progress, attempt, logs, transcript, summary, meeting_id,
	error_message, created_at, updated_at`

// PostgresStore is the Postgres-backed job store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a job store on an existing database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, params CreateParams) (*Job, error) {
	if params.SourceRef == "" {
		return nil, fmt.Errorf("%w: source ref is required", ErrValidation)
	}
	if params.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrValidation)
	}

	language := params.Language
	if language == "" {
		language = "yue"
	}

	now := time.Now().UTC()
	logs, err := json.Marshal([]string{formatLogEntry(now, "job queued")})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job logs: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO processing_jobs (
			id, workspace_id, source_ref, filename, file_size, language,
			state, progress, attempt, logs, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $9, $9)
		RETURNING %s`, jobColumns)

	var row jobRow
	err = s.db.GetContext(ctx, &row, query,
		uuid.New().String(),
		params.WorkspaceID,
		params.SourceRef,
		params.Filename,
		params.FileSize,
		language,
		string(StateQueued),
		logs,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return row.toJob()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	query := fmt.Sprintf("SELECT %s FROM processing_jobs WHERE id = $1", jobColumns)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

func (s *PostgresStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM processing_jobs
		WHERE workspace_id = $1
		ORDER BY created_at DESC`, jobColumns)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, req TransitionRequest) (*Job, error) {
	if !CanTransition(req.Expected, req.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, req.Expected, req.To)
	}

	now := time.Now().UTC()
	sets := []string{"state = ?", "updated_at = ?"}
	args := []interface{}{string(req.To), now}

	if req.IncrementAttempt {
		sets = append(sets, "attempt = attempt + 1")
	}
	if req.ResetAttempt {
		sets = append(sets, "attempt = 0")
	}
	if req.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *req.Progress)
	}
	if req.LogEntry != "" {
		sets = append(sets, "logs = logs || to_jsonb(?::text)")
		args = append(args, formatLogEntry(now, req.LogEntry))
	}
	if req.ErrorMessage != "" {
		sets = append(sets, "error_message = ?")
		args = append(args, req.ErrorMessage)
	}
	if req.Transcript != nil {
		encoded, err := json.Marshal(req.Transcript)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transcript: %w", err)
		}
		sets = append(sets, "transcript = ?")
		args = append(args, encoded)
	}
	if req.Summary != nil {
		encoded, err := json.Marshal(req.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode summary: %w", err)
		}
		sets = append(sets, "summary = ?")
		args = append(args, encoded)
	}
	if req.MeetingID != "" {
		sets = append(sets, "meeting_id = ?")
		args = append(args, req.MeetingID)
	}

	conditions := []string{"id = ?", "state = ?"}
	args = append(args, id, string(req.Expected))
	if req.ExpectedAttempt != nil {
		conditions = append(conditions, "attempt = ?")
		args = append(args, *req.ExpectedAttempt)
	}

	query := fmt.Sprintf(
		"UPDATE processing_jobs SET %s WHERE %s RETURNING %s",
		strings.Join(sets, ", "),
		strings.Join(conditions, " AND "),
		jobColumns,
	)
	query = s.db.Rebind(query)

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if err == nil {
		return row.toJob()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	// Zero rows means either the job is gone or another actor won the CAS.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job is %s attempt %d, expected %s",
		ErrConflict, current.State, current.Attempt, req.Expected)
}

func (s *PostgresStore) AppendLog(ctx context.Context, id string, entry string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET logs = logs || to_jsonb($2::text), updated_at = $3
		WHERE id = $1`,
		id, formatLogEntry(now, entry), now,
	)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id string, inState State, progress int, entry string) error {
	now := time.Now().UTC()

	var (
		query string
		args  []interface{}
	)
	if entry != "" {
		query = `
			UPDATE processing_jobs
			SET progress = GREATEST(progress, $3),
			    logs = logs || to_jsonb($4::text),
			    updated_at = $5
			WHERE id = $1 AND state = $2`
		args = []interface{}{id, string(inState), progress, formatLogEntry(now, entry), now}
	} else {
		query = `
			UPDATE processing_jobs
			SET progress = GREATEST(progress, $3), updated_at = $4
			WHERE id = $1 AND state = $2`
		args = []interface{}{id, string(inState), progress, now}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record job heartbeat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record job heartbeat: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job left state %s", ErrConflict, inState)
	}
	return nil
}

func (s *PostgresStore) ListStale(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM processing_jobs
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC`, jobColumns)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(names), olderThan); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
