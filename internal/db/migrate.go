package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(v string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", v)
	}
}

type Config struct {
	Driver string
	DSN    string
	Pool   PoolConfig
}

// Open connects to the configured backend and reports its dialect.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	var conn *sql.DB
	switch dialect {
	case SQLite:
		conn, err = OpenSQLite(ctx, cfg.DSN)
	default:
		conn, err = OpenPostgresPool(ctx, cfg.DSN, cfg.Pool)
	}
	if err != nil {
		return nil, "", err
	}
	return conn, dialect, nil
}

// Migrate creates the schema if it does not exist. It is safe to run on every start.
func Migrate(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	stmts := schema(dialect)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrate tx: %w", err)
	}
	return nil
}

func schema(dialect Dialect) []string {
	jsonType, tsType, boolFalse := "JSONB", "TIMESTAMPTZ", "FALSE"
	if dialect == SQLite {
		jsonType, tsType, boolFalse = "TEXT", "DATETIME", "0"
	}
	r := strings.NewReplacer("{json}", jsonType, "{ts}", tsType, "{false}", boolFalse)

	raw := []string{
		`CREATE TABLE IF NOT EXISTS subjects (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at {ts} NOT NULL,
			UNIQUE (owner_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			content {json} NOT NULL,
			points INTEGER NOT NULL CHECK (points > 0),
			bloom_level TEXT,
			subject_id TEXT REFERENCES subjects(id) ON DELETE SET NULL,
			is_shared BOOLEAN NOT NULL DEFAULT {false},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_owner ON questions (owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS exams (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'closed')),
			time_limit_minutes INTEGER CHECK (time_limit_minutes IS NULL OR time_limit_minutes > 0),
			lock_on_tab_leave BOOLEAN NOT NULL DEFAULT {false},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exams_owner ON exams (owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS exam_sections (
			id TEXT PRIMARY KEY,
			exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT,
			order_index INTEGER NOT NULL CHECK (order_index >= 0),
			UNIQUE (exam_id, order_index)
		)`,
		`CREATE TABLE IF NOT EXISTS exam_questions (
			exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
			question_id TEXT NOT NULL REFERENCES questions(id),
			section_id TEXT REFERENCES exam_sections(id) ON DELETE CASCADE,
			order_index INTEGER NOT NULL CHECK (order_index >= 0),
			PRIMARY KEY (exam_id, question_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_exam_questions_section_order
			ON exam_questions (section_id, order_index) WHERE section_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_exam_questions_flat_order
			ON exam_questions (exam_id, order_index) WHERE section_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_exam_questions_question ON exam_questions (question_id)`,
		`CREATE TABLE IF NOT EXISTS exam_sessions (
			id TEXT PRIMARY KEY,
			exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
			student_name TEXT NOT NULL,
			student_email TEXT NOT NULL,
			started_at {ts} NOT NULL,
			submitted_at {ts},
			is_locked BOOLEAN NOT NULL DEFAULT {false},
			tab_leave_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (exam_id, student_email)
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
			question_id TEXT NOT NULL REFERENCES questions(id),
			content {json} NOT NULL,
			points_awarded INTEGER CHECK (points_awarded IS NULL OR points_awarded >= 0),
			updated_at {ts} NOT NULL,
			UNIQUE (session_id, question_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_question ON answers (question_id)`,
		`CREATE TABLE IF NOT EXISTS teacher_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_by TEXT NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL REFERENCES teacher_groups(id) ON DELETE CASCADE,
			teacher_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
			joined_at {ts} NOT NULL,
			PRIMARY KEY (group_id, teacher_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_teacher ON group_members (teacher_id)`,
		`CREATE TABLE IF NOT EXISTS group_invitations (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL REFERENCES teacher_groups(id) ON DELETE CASCADE,
			invited_email TEXT NOT NULL,
			invited_by TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'declined')),
			created_at {ts} NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_group_invitations_pending
			ON group_invitations (group_id, invited_email) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS question_shares (
			question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			group_id TEXT NOT NULL REFERENCES teacher_groups(id) ON DELETE CASCADE,
			shared_by TEXT NOT NULL,
			shared_at {ts} NOT NULL,
			PRIMARY KEY (question_id, group_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_question_shares_group ON question_shares (group_id)`,
	}

	out := make([]string, len(raw))
	for i, stmt := range raw {
		out[i] = r.Replace(stmt)
	}
	return out
}
