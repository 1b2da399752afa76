package question

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"examhub/internal/apperr"
	"examhub/internal/db/dbtest"
)

const mcContent = `{"question":"2+2?","options":[{"id":"a","text":"3","is_correct":false},{"id":"b","text":"4","is_correct":true}]}`

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(dbtest.New(t))
}

func TestServiceCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	created, err := svc.Create(ctx, CreateInput{
		OwnerID:    "teacher-a",
		Type:       "multiple_choice",
		Title:      " Arithmetic ",
		Content:    json.RawMessage(mcContent),
		Points:     2,
		BloomLevel: "k1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "Arithmetic" || created.BloomLevel != "K1" || created.IsShared {
		t.Fatalf("unexpected created question %+v", created)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mc, ok := got.Content.(MultipleChoice)
	if !ok || len(mc.Options) != 2 || !mc.Options[1].IsCorrect {
		t.Fatalf("content not round-tripped: %+v", got.Content)
	}

	_, err = svc.Update(ctx, UpdateInput{ID: created.ID, CreateInput: CreateInput{
		OwnerID: "teacher-b", Type: "essay", Title: "x", Content: json.RawMessage(`{"question":"q"}`), Points: 1,
	}})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign owner, got %v", err)
	}

	updated, err := svc.Update(ctx, UpdateInput{ID: created.ID, CreateInput: CreateInput{
		OwnerID: "teacher-a", Type: "essay", Title: "Reflect", Content: json.RawMessage(`{"question":"Why?","max_words":200}`), Points: 5,
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Type != TypeEssay || updated.Points != 5 || updated.BloomLevel != "" {
		t.Fatalf("unexpected updated question %+v", updated)
	}
}

func TestServiceCreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	tests := []struct {
		name string
		in   CreateInput
		kind error
	}{
		{name: "zero points", in: CreateInput{OwnerID: "t", Type: "multiple_choice", Title: "x", Content: json.RawMessage(mcContent)}, kind: apperr.ErrValidation},
		{name: "bad content", in: CreateInput{OwnerID: "t", Type: "kprim", Title: "x", Content: json.RawMessage(mcContent), Points: 1}, kind: apperr.ErrValidation},
		{name: "missing title", in: CreateInput{OwnerID: "t", Type: "multiple_choice", Content: json.RawMessage(mcContent), Points: 1}, kind: apperr.ErrValidation},
		{name: "unknown subject", in: CreateInput{OwnerID: "t", Type: "multiple_choice", Title: "x", Content: json.RawMessage(mcContent), Points: 1, SubjectID: "nope"}, kind: apperr.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.in); !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestServiceListFilters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	if _, err := svc.Create(ctx, CreateInput{OwnerID: "a", Type: "multiple_choice", Title: "m", Content: json.RawMessage(mcContent), Points: 1}); err != nil {
		t.Fatalf("create mc: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: "a", Type: "essay", Title: "e", Content: json.RawMessage(`{"question":"q"}`), Points: 1}); err != nil {
		t.Fatalf("create essay: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: "b", Type: "essay", Title: "other", Content: json.RawMessage(`{"question":"q"}`), Points: 1}); err != nil {
		t.Fatalf("create foreign: %v", err)
	}

	all, err := svc.List(ctx, ListFilter{OwnerID: "a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 own questions, got %d", len(all))
	}
	essays, err := svc.List(ctx, ListFilter{OwnerID: "a", Type: "essay"})
	if err != nil {
		t.Fatalf("list essays: %v", err)
	}
	if len(essays) != 1 || essays[0].Title != "e" {
		t.Fatalf("expected one essay, got %+v", essays)
	}
}

func TestServiceCopyRequiresSharing(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	svc := NewService(conn)

	if _, err := conn.ExecContext(ctx, `INSERT INTO subjects (id, owner_id, name, created_at) VALUES ('s1', 'a', 'Math', $1)`, time.Now().UTC()); err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	src, err := svc.Create(ctx, CreateInput{OwnerID: "a", Type: "multiple_choice", Title: "Sum", Content: json.RawMessage(mcContent), Points: 3, SubjectID: "s1", BloomLevel: "K2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Copy(ctx, src.ID, "b"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden copy of private question, got %v", err)
	}
	dbtest.SeedGroup(t, conn, "g1", "a", "b")
	dbtest.SeedGroup(t, conn, "g2", "c")
	dbtest.Share(t, conn, src.ID, "g1", "a")
	dbtest.Share(t, conn, src.ID, "g2", "a")

	shared, err := svc.ListShared(ctx, "b")
	if err != nil || len(shared) != 1 {
		t.Fatalf("expected one shared question, got %d err=%v", len(shared), err)
	}
	if _, err := svc.Copy(ctx, src.ID, "d"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected teachers outside the groups to be refused, got %v", err)
	}

	cp, err := svc.Copy(ctx, src.ID, "b")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if cp.OwnerID != "b" || cp.SubjectID != nil || cp.IsShared || cp.Title != "Sum (Kopie)" || cp.BloomLevel != "K2" {
		t.Fatalf("unexpected copy %+v", cp)
	}

	var srcRaw, cpRaw string
	if err := conn.QueryRowContext(ctx, `SELECT content FROM questions WHERE id = $1`, src.ID).Scan(&srcRaw); err != nil {
		t.Fatalf("load source content: %v", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT content FROM questions WHERE id = $1`, cp.ID).Scan(&cpRaw); err != nil {
		t.Fatalf("load copy content: %v", err)
	}
	if srcRaw != cpRaw {
		t.Fatalf("copied content differs: %s vs %s", srcRaw, cpRaw)
	}
}

func TestServiceDeleteInUse(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	svc := NewService(conn)

	q, err := svc.Create(ctx, CreateInput{OwnerID: "a", Type: "essay", Title: "e", Content: json.RawMessage(`{"question":"q"}`), Points: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now().UTC()
	if _, err := conn.ExecContext(ctx, `INSERT INTO exams (id, owner_id, title, status, created_at, updated_at) VALUES ('e1', 'a', 'Exam', 'draft', $1, $1)`, now); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO exam_questions (exam_id, question_id, order_index) VALUES ('e1', $1, 0)`, q.ID); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	if err := svc.Delete(ctx, "a", q.ID); !errors.Is(err, ErrQuestionInUse) {
		t.Fatalf("expected in-use conflict, got %v", err)
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM exam_questions`); err != nil {
		t.Fatalf("clear assignment: %v", err)
	}
	if err := svc.Delete(ctx, "a", q.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, q.ID); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestServiceGetForFollowsGroupMembership(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	svc := NewService(conn)
	dbtest.SeedQuestion(t, conn, "q1", "a", "multiple_choice", mcContent, 2)
	dbtest.SeedGroup(t, conn, "g1", "a", "b")
	dbtest.SeedGroup(t, conn, "g2", "c", "d")
	dbtest.Share(t, conn, "q1", "g1", "a")

	tests := []struct {
		viewer string
		want   error
	}{
		{viewer: "a"},
		{viewer: "b"},
		{viewer: "c", want: ErrNotOwner},
		{viewer: "d", want: ErrNotOwner},
	}
	for _, tc := range tests {
		t.Run(tc.viewer, func(t *testing.T) {
			_, err := svc.GetFor(ctx, tc.viewer, "q1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if list, err := svc.ListShared(ctx, "c"); err != nil || len(list) != 0 {
		t.Fatalf("expected nothing shared with c, got %d err=%v", len(list), err)
	}
	if list, err := svc.ListShared(ctx, "a"); err != nil || len(list) != 0 {
		t.Fatalf("own questions are not listed as shared, got %d err=%v", len(list), err)
	}
}
