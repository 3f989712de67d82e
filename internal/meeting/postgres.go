package meeting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

type meetingRow struct {
	ID          string          `db:"id"`
	WorkspaceID string          `db:"workspace_id"`
	JobID       string          `db:"job_id"`
	Title       string          `db:"title"`
	Template    string          `db:"template"`
	Tags        []byte          `db:"tags"`
	Language    string          `db:"language"`
	Transcript  json.RawMessage `db:"transcript"`
	Summary     json.RawMessage `db:"summary"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *meetingRow) toMeeting() (*Meeting, error) {
	m := &Meeting{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		JobID:       r.JobID,
		Title:       r.Title,
		Template:    r.Template,
		Language:    r.Language,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode meeting tags: %w", err)
		}
	}
	if len(r.Transcript) > 0 {
		m.Transcript = &pipeline.Transcript{}
		if err := json.Unmarshal(r.Transcript, m.Transcript); err != nil {
			return nil, fmt.Errorf("failed to decode meeting transcript: %w", err)
		}
	}
	if len(r.Summary) > 0 {
		m.Summary = &pipeline.Summary{}
		if err := json.Unmarshal(r.Summary, m.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode meeting summary: %w", err)
		}
	}
	return m, nil
}

const meetingColumns = `id, workspace_id, job_id, title, template, tags,
	language, transcript, summary, created_at, updated_at`

// PostgresStore is the Postgres-backed meeting store.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, m *Meeting) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode meeting tags: %w", err)
	}

	var transcript, summary []byte
	if m.Transcript != nil {
		if transcript, err = json.Marshal(m.Transcript); err != nil {
			return fmt.Errorf("failed to encode meeting transcript: %w", err)
		}
	}
	if m.Summary != nil {
		if summary, err = json.Marshal(m.Summary); err != nil {
			return fmt.Errorf("failed to encode meeting summary: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meetings (
			id, workspace_id, job_id, title, template, tags,
			language, transcript, summary, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		m.ID, m.WorkspaceID, m.JobID, m.Title, m.Template,
		tags, m.Language, transcript, summary, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Meeting, error) {
	query := fmt.Sprintf("SELECT %s FROM meetings WHERE id = $1", meetingColumns)

	var row meetingRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return row.toMeeting()
}

func (s *PostgresStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Meeting, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM meetings
		WHERE workspace_id = $1
		ORDER BY created_at DESC`, meetingColumns)

	var rows []meetingRow
	if err := s.db.SelectContext(ctx, &rows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}

	meetings := make([]*Meeting, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMeeting()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, params UpdateParams) (*Meeting, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if params.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *params.Title)
	}
	if params.Tags != nil {
		tags, err := json.Marshal(*params.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode meeting tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if params.Summary != nil {
		summary, err := json.Marshal(params.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode meeting summary: %w", err)
		}
		sets = append(sets, "summary = ?")
		args = append(args, summary)
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE meetings SET %s WHERE id = ? RETURNING %s",
		strings.Join(sets, ", "),
		meetingColumns,
	)
	query = s.db.Rebind(query)

	var row meetingRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update meeting: %w", err)
	}
	return row.toMeeting()
}
