package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Postgres is a Store backed by a pgx connection pool. The schema is created
// by Migrate.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// Postgres keeps microseconds; truncating keeps returned records equal to
	// what a later read sees.
	return &Postgres{pool: pool, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}, nil
}

const sessionColumns = `id, user_id, call_id, status, started_at, ended_at, created_at, updated_at`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.CallID, &s.Status, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFoundRecord
		}
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *types.Session) error {
	if s == nil || s.UserID == "" {
		return fmt.Errorf("create session: user id is required")
	}
	prepareSession(s, p.now())
	_, err := p.pool.Exec(ctx,
		`INSERT INTO coach_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.CallID, s.Status, s.StartedAt, s.EndedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create session %s: %w", s.ID, core.ErrDuplicateRecord)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s, err := scanSession(p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM coach_sessions WHERE id = $1`, id))
	if err != nil && !errors.Is(err, core.ErrNotFoundRecord) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, err
}

func (p *Postgres) UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus) (*types.Session, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM coach_sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, core.ErrNotFoundRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !types.CanTransition(s.Status, status) {
		return nil, fmt.Errorf("%s -> %s: %w", s.Status, status, core.ErrInvalidTransition)
	}
	if s.Status == status {
		return s, nil
	}
	applyStatus(s, status, p.now())
	if _, err := tx.Exec(ctx,
		`UPDATE coach_sessions SET status = $2, started_at = $3, ended_at = $4, updated_at = $5 WHERE id = $1`,
		s.ID, s.Status, s.StartedAt, s.EndedAt, s.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, userID string, limit int) ([]types.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM coach_sessions WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		userID, limitOr(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]types.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendTranscript(ctx context.Context, t *types.Transcript) error {
	if t == nil {
		return fmt.Errorf("append transcript: nil transcript")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = p.now()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO coach_transcripts (id, session_id, ts, speaker, text) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.SessionID, t.Timestamp, t.Speaker, t.Text,
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", mapFK(err))
	}
	return nil
}

func (p *Postgres) ListTranscripts(ctx context.Context, sessionID string, limit int) ([]types.Transcript, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, session_id, ts, speaker, text FROM (
			SELECT seq, id, session_id, ts, speaker, text FROM coach_transcripts
			WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq`,
		sessionID, limitOr(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()
	out := make([]types.Transcript, 0)
	for rows.Next() {
		var t types.Transcript
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Timestamp, &t.Speaker, &t.Text); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendSuggestions(ctx context.Context, in []types.Suggestion) error {
	if len(in) == 0 {
		return nil
	}
	now := p.now()
	batch := &pgx.Batch{}
	for i := range in {
		s := &in[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		batch.Queue(
			`INSERT INTO coach_suggestions (id, session_id, ts, type, priority, title, body, resolved, source)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.SessionID, s.Timestamp, s.Type, s.Priority, s.Title, s.Body, s.Resolved, s.Source,
		)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append suggestions: %w", mapFK(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const suggestionColumns = `id, session_id, ts, type, priority, title, body, resolved, source`

func scanSuggestion(row pgx.Row) (*types.Suggestion, error) {
	var s types.Suggestion
	if err := row.Scan(&s.ID, &s.SessionID, &s.Timestamp, &s.Type, &s.Priority, &s.Title, &s.Body, &s.Resolved, &s.Source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFoundRecord
		}
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) ListSuggestions(ctx context.Context, sessionID string, limit int) ([]types.Suggestion, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+suggestionColumns+` FROM (
			SELECT seq, `+suggestionColumns+` FROM coach_suggestions
			WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq`,
		sessionID, limitOr(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()
	out := make([]types.Suggestion, 0)
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) SetSuggestionResolved(ctx context.Context, sessionID, suggestionID string, resolved bool) (*types.Suggestion, error) {
	s, err := scanSuggestion(p.pool.QueryRow(ctx,
		`UPDATE coach_suggestions SET resolved = $3 WHERE session_id = $1 AND id = $2 RETURNING `+suggestionColumns,
		sessionID, suggestionID, resolved,
	))
	if err != nil && !errors.Is(err, core.ErrNotFoundRecord) {
		return nil, fmt.Errorf("resolve suggestion: %w", err)
	}
	return s, err
}

func (p *Postgres) Call(ctx context.Context, callID string) (*types.Call, error) {
	var (
		c           types.Call
		scheduledAt *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, title, description, scheduled_at FROM coach_calls WHERE id = $1`, callID,
	).Scan(&c.ID, &c.Title, &c.Description, &scheduledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFoundRecord
		}
		return nil, fmt.Errorf("get call: %w", err)
	}
	if scheduledAt != nil {
		c.ScheduledAt = *scheduledAt
	}
	return &c, nil
}

// ResolveCallContext joins the call's company, opportunity and contacts.
// Missing links yield nil fields rather than errors.
func (p *Postgres) ResolveCallContext(ctx context.Context, callID string) (*types.CRMContext, error) {
	var (
		companyName, industry *string
		employees             *int32
		oppName, oppStage     *string
		amount                *float64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT co.name, co.industry, co.employees, op.name, op.stage, op.amount
		 FROM coach_calls c
		 LEFT JOIN coach_companies co ON co.id = c.company_id
		 LEFT JOIN coach_opportunities op ON op.id = c.opportunity_id
		 WHERE c.id = $1`, callID,
	).Scan(&companyName, &industry, &employees, &oppName, &oppStage, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFoundRecord
		}
		return nil, fmt.Errorf("resolve call context: %w", err)
	}

	out := &types.CRMContext{}
	if companyName != nil {
		out.Company = &types.Company{Name: *companyName, Industry: deref(industry)}
		if employees != nil {
			out.Company.Employees = int(*employees)
		}
	}
	if oppName != nil {
		out.Opportunity = &types.Opportunity{Name: *oppName, Stage: deref(oppStage)}
		if amount != nil {
			out.Opportunity.Amount = *amount
		}
	}

	rows, err := p.pool.Query(ctx, `SELECT name, title, role FROM coach_contacts WHERE call_id = $1 ORDER BY name`, callID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c types.Contact
		if err := rows.Scan(&c.Name, &c.Title, &c.Role); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out.Contacts = append(out.Contacts, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapFK turns a foreign-key violation on session_id into ErrNotFoundRecord.
func mapFK(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return core.ErrNotFoundRecord
	}
	return err
}
