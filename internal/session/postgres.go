package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openscreen/triage/internal/assessment"
	"github.com/openscreen/triage/internal/fieldmap"
)

// PostgresStore persists sessions in PostgreSQL. The strategy snapshot,
// extracted data, and assessment result travel as JSONB so the schema does
// not chase every strategy revision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS screening_sessions (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			strategy JSONB NOT NULL,
			context JSONB,
			extracted JSONB,
			assessment JSONB,
			turns INT NOT NULL DEFAULT 0,
			eligible BOOLEAN NOT NULL DEFAULT FALSE,
			diagnostics JSONB,
			started_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_screening_sessions_patient ON screening_sessions (patient_id, started_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	strategyJSON, err := json.Marshal(sess.Strategy)
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	extractedJSON, err := json.Marshal(sess.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted: %w", err)
	}
	var assessmentJSON []byte
	if sess.Assessment != nil {
		if assessmentJSON, err = json.Marshal(sess.Assessment); err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
	}
	diagnosticsJSON, err := json.Marshal(sess.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO screening_sessions
			(id, patient_id, strategy_id, kind, status, strategy, context, extracted,
			 assessment, turns, eligible, diagnostics, started_at, last_activity_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			extracted = EXCLUDED.extracted,
			assessment = EXCLUDED.assessment,
			turns = EXCLUDED.turns,
			eligible = EXCLUDED.eligible,
			diagnostics = EXCLUDED.diagnostics,
			last_activity_at = EXCLUDED.last_activity_at,
			completed_at = EXCLUDED.completed_at`,
		sess.ID, sess.PatientID, sess.StrategyID, sess.Kind, sess.Status,
		strategyJSON, contextJSON, extractedJSON, assessmentJSON,
		sess.Turns, sess.Eligible, diagnosticsJSON,
		sess.StartedAt, sess.LastActivityAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, patient_id, strategy_id, kind, status, strategy, context, extracted,
			assessment, turns, eligible, diagnostics, started_at, last_activity_at, completed_at
		 FROM screening_sessions WHERE id=$1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, patient_id, strategy_id, kind, status, strategy, context, extracted,
			assessment, turns, eligible, diagnostics, started_at, last_activity_at, completed_at
		 FROM screening_sessions WHERE patient_id=$1 ORDER BY started_at DESC LIMIT $2`,
		patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0, limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess            Session
		strategyJSON    []byte
		contextJSON     []byte
		extractedJSON   []byte
		assessmentJSON  []byte
		diagnosticsJSON []byte
	)
	err := row.Scan(
		&sess.ID, &sess.PatientID, &sess.StrategyID, &sess.Kind, &sess.Status,
		&strategyJSON, &contextJSON, &extractedJSON, &assessmentJSON,
		&sess.Turns, &sess.Eligible, &diagnosticsJSON,
		&sess.StartedAt, &sess.LastActivityAt, &sess.CompletedAt,
	)
	if err != nil {
		return Session{}, err
	}

	if err := json.Unmarshal(strategyJSON, &sess.Strategy); err != nil {
		return Session{}, fmt.Errorf("decode strategy: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &sess.Context); err != nil {
			return Session{}, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &sess.Extracted); err != nil {
			return Session{}, fmt.Errorf("decode extracted: %w", err)
		}
	}
	if len(assessmentJSON) > 0 {
		var res assessment.Result
		if err := json.Unmarshal(assessmentJSON, &res); err != nil {
			return Session{}, fmt.Errorf("decode assessment: %w", err)
		}
		sess.Assessment = &res
	}
	if len(diagnosticsJSON) > 0 {
		if err := json.Unmarshal(diagnosticsJSON, &sess.Diagnostics); err != nil {
			return Session{}, fmt.Errorf("decode diagnostics: %w", err)
		}
	}
	return sess, nil
}

// PostgresMessageStore is the transcript log backed by PostgreSQL.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageStore(ctx context.Context, databaseURL string) (*PostgresMessageStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			sources JSONB,
			confidence DOUBLE PRECISION,
			entities JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init message schema failed on %q: %w", stmt, err)
		}
	}

	return &PostgresMessageStore{pool: pool}, nil
}

func (s *PostgresMessageStore) Append(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	sourcesJSON, err := json.Marshal(m.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	entitiesJSON, err := json.Marshal(m.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_messages (id, session_id, role, kind, content, sources, confidence, entities, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SessionID, m.Role, m.Kind, m.Content, sourcesJSON, m.Confidence, entitiesJSON, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, kind, content, sources, confidence, entities, created_at
		 FROM session_messages WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m            Message
			sourcesJSON  []byte
			entitiesJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Kind, &m.Content, &sourcesJSON, &m.Confidence, &entitiesJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &m.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		if len(entitiesJSON) > 0 {
			var entities map[string]fieldmap.Value
			if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
				return nil, fmt.Errorf("decode entities: %w", err)
			}
			m.Entities = entities
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresMessageStore) Close() error {
	s.pool.Close()
	return nil
}
