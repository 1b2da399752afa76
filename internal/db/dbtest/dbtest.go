// Package dbtest opens migrated in-memory databases for service tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"examhub/internal/db"
)

func New(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(ctx, conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedQuestion inserts a question row without going through validation.
func SeedQuestion(t testing.TB, conn *sql.DB, id, ownerID, qType, content string, points int) {
	t.Helper()
	now := time.Now().UTC()
	if _, err := conn.Exec(`
		INSERT INTO questions (id, owner_id, type, title, content, points, is_shared, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
	`, id, ownerID, qType, "Question "+id, content, points, now); err != nil {
		t.Fatalf("seed question %s: %v", id, err)
	}
}

// SeedExam inserts an exam in the given status.
func SeedExam(t testing.TB, conn *sql.DB, id, ownerID, status string, lockOnTabLeave bool) {
	t.Helper()
	now := time.Now().UTC()
	if _, err := conn.Exec(`
		INSERT INTO exams (id, owner_id, title, status, lock_on_tab_leave, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, ownerID, "Exam "+id, status, lockOnTabLeave, now); err != nil {
		t.Fatalf("seed exam %s: %v", id, err)
	}
}

// Assign places a question in an exam. An empty sectionID means unsectioned.
func Assign(t testing.TB, conn *sql.DB, examID, questionID, sectionID string, order int) {
	t.Helper()
	var section any
	if sectionID != "" {
		section = sectionID
	}
	if _, err := conn.Exec(`
		INSERT INTO exam_questions (exam_id, question_id, section_id, order_index)
		VALUES ($1, $2, $3, $4)
	`, examID, questionID, section, order); err != nil {
		t.Fatalf("assign %s to %s: %v", questionID, examID, err)
	}
}

// SeedGroup creates a teacher group. The first member owns it, the rest
// join as plain members.
func SeedGroup(t testing.TB, conn *sql.DB, id string, members ...string) {
	t.Helper()
	now := time.Now().UTC()
	if _, err := conn.Exec(`
		INSERT INTO teacher_groups (id, name, created_by, created_at) VALUES ($1, $2, $3, $4)
	`, id, "Group "+id, members[0], now); err != nil {
		t.Fatalf("seed group %s: %v", id, err)
	}
	for i, m := range members {
		role := "member"
		if i == 0 {
			role = "owner"
		}
		if _, err := conn.Exec(`
			INSERT INTO group_members (group_id, teacher_id, role, joined_at) VALUES ($1, $2, $3, $4)
		`, id, m, role, now); err != nil {
			t.Fatalf("seed member %s of %s: %v", m, id, err)
		}
	}
}

// Share publishes a question to a group.
func Share(t testing.TB, conn *sql.DB, questionID, groupID, sharedBy string) {
	t.Helper()
	if _, err := conn.Exec(`
		INSERT INTO question_shares (question_id, group_id, shared_by, shared_at) VALUES ($1, $2, $3, $4)
	`, questionID, groupID, sharedBy, time.Now().UTC()); err != nil {
		t.Fatalf("share %s with %s: %v", questionID, groupID, err)
	}
	if _, err := conn.Exec(`UPDATE questions SET is_shared = TRUE WHERE id = $1`, questionID); err != nil {
		t.Fatalf("flag %s shared: %v", questionID, err)
	}
}
