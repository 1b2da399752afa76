package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"examhub/internal/apperr"
	"examhub/internal/db"
	"examhub/internal/question"
)

type execQueryable interface {
	queryable
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func requireQuestionOwner(ctx context.Context, q queryable, questionID, teacherID string) error {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT owner_id FROM questions WHERE id = $1`, questionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return question.ErrQuestionNotFound
	}
	if err != nil {
		return fmt.Errorf("load question owner: %w", err)
	}
	if owner != teacherID {
		return question.ErrNotOwner
	}
	return nil
}

// refreshShared keeps the question's is_shared flag in step with its shares.
func refreshShared(ctx context.Context, q execQueryable, questionID string) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE questions
		SET is_shared = EXISTS (SELECT 1 FROM question_shares WHERE question_id = $1)
		WHERE id = $1
	`, questionID); err != nil {
		return fmt.Errorf("refresh shared flag: %w", err)
	}
	return nil
}

// ShareQuestion makes the actor's question visible to every member of the
// given groups. The actor must belong to each group. Sharing again is a no-op.
func (s *Service) ShareQuestion(ctx context.Context, actorID, questionID string, groupIDs []string) ([]Share, error) {
	if len(groupIDs) == 0 {
		return nil, apperr.Invalid("group_ids", "must name at least one group")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin share tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireQuestionOwner(ctx, tx, questionID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	for i, gid := range groupIDs {
		gid = strings.TrimSpace(gid)
		if gid == "" {
			return nil, apperr.Invalidf("group_ids", "entry %d is empty", i)
		}
		if _, err := s.role(ctx, tx, gid, actorID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_shares (question_id, group_id, shared_by, shared_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (question_id, group_id) DO NOTHING
		`, questionID, gid, actorID, now); err != nil {
			return nil, fmt.Errorf("insert share: %w", err)
		}
	}
	if err := refreshShared(ctx, tx, questionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit share tx: %w", err)
	}
	return s.listShares(ctx, questionID)
}

func (s *Service) UnshareQuestion(ctx context.Context, actorID, questionID, groupID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unshare tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireQuestionOwner(ctx, tx, questionID, actorID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM question_shares WHERE question_id = $1 AND group_id = $2
	`, questionID, groupID); err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	if err := refreshShared(ctx, tx, questionID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unshare tx: %w", err)
	}
	return nil
}

// ListShares tells the owner which groups see a question.
func (s *Service) ListShares(ctx context.Context, actorID, questionID string) ([]Share, error) {
	if err := requireQuestionOwner(ctx, s.db, questionID, actorID); err != nil {
		return nil, err
	}
	return s.listShares(ctx, questionID)
}

func (s *Service) listShares(ctx context.Context, questionID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT qs.question_id, qs.group_id, g.name, qs.shared_by, qs.shared_at
		FROM question_shares qs
		JOIN teacher_groups g ON g.id = qs.group_id
		WHERE qs.question_id = $1
		ORDER BY g.name, g.id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	out := make([]Share, 0)
	for rows.Next() {
		var sh Share
		if err := rows.Scan(&sh.QuestionID, &sh.GroupID, &sh.GroupName, &sh.SharedBy, db.ScanTime(&sh.SharedAt)); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return out, nil
}

// ListGroupQuestions returns the questions shared with one group, newest
// share first. Members only.
func (s *Service) ListGroupQuestions(ctx context.Context, teacherID, groupID string) ([]question.Question, error) {
	if _, err := s.role(ctx, s.db, groupID, teacherID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+question.Columns("q")+`
		FROM question_shares qs
		JOIN questions q ON q.id = qs.question_id
		WHERE qs.group_id = $1
		ORDER BY qs.shared_at DESC, q.id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group questions: %w", err)
	}
	defer rows.Close()

	out := make([]question.Question, 0)
	for rows.Next() {
		q, err := question.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group questions: %w", err)
	}
	return out, nil
}
