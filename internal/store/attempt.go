package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/practice-lms/practice/internal/model"
)

// CreateAttempt starts a new attempt for a student.
func (s *Store) CreateAttempt(studentID int64, assignmentTitle string) (int64, error) {
	if assignmentTitle == "" {
		assignmentTitle = "Practice"
	}
	res, err := s.db.Exec(
		`INSERT INTO attempts (assignment_title, student_id, started_at) VALUES (?, ?, ?)`,
		assignmentTitle, studentID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAttempt returns an attempt by ID, or nil.
func (s *Store) GetAttempt(id int64) (*model.Attempt, error) {
	var a model.Attempt
	err := s.db.QueryRow(
		`SELECT id, assignment_title, student_id, started_at, completed_at FROM attempts WHERE id = ?`, id,
	).Scan(&a.ID, &a.AssignmentTitle, &a.StudentID, &a.StartedAt, &a.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CompleteAttempt stamps completed_at on an attempt.
func (s *Store) CompleteAttempt(id int64) error {
	_, err := s.db.Exec(`UPDATE attempts SET completed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ListAttempts returns all attempts, newest first.
func (s *Store) ListAttempts() ([]model.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, assignment_title, student_id, started_at, completed_at FROM attempts ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.AssignmentTitle, &a.StudentID, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListAttemptsForStudent returns a student's attempts, oldest first.
func (s *Store) ListAttemptsForStudent(studentID int64) ([]model.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, assignment_title, student_id, started_at, completed_at
		 FROM attempts WHERE student_id = ? ORDER BY id`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.AssignmentTitle, &a.StudentID, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// InsertAttemptItem stores one graded answer.
func (s *Store) InsertAttemptItem(item model.AttemptItem) (int64, error) {
	submitted, err := json.Marshal(item.Submitted)
	if err != nil {
		return 0, err
	}
	tagsSnap, err := json.Marshal(orEmptyList(item.TagsSnapshot))
	if err != nil {
		return 0, err
	}
	diagSnap, err := json.Marshal(orEmptyList(item.DiagSnapshot))
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO attempt_items (attempt_id, student_id, question_id, question_version,
		 submitted, is_correct, tags_snapshot, diag_snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.AttemptID, item.StudentID, item.QuestionID, item.QuestionVersion,
		string(submitted), item.IsCorrect, string(tagsSnap), string(diagSnap), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanAttemptItem(row interface{ Scan(...any) error }) (model.AttemptItem, error) {
	var it model.AttemptItem
	var submitted, tagsSnap, diagSnap string
	err := row.Scan(&it.ID, &it.AttemptID, &it.StudentID, &it.QuestionID, &it.QuestionVersion,
		&submitted, &it.IsCorrect, &tagsSnap, &diagSnap, &it.CreatedAt)
	if err != nil {
		return it, err
	}
	if err := json.Unmarshal([]byte(submitted), &it.Submitted); err != nil {
		return it, fmt.Errorf("item %d: decode submitted: %w", it.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsSnap), &it.TagsSnapshot); err != nil {
		return it, fmt.Errorf("item %d: decode tags snapshot: %w", it.ID, err)
	}
	if err := json.Unmarshal([]byte(diagSnap), &it.DiagSnapshot); err != nil {
		return it, fmt.Errorf("item %d: decode diag snapshot: %w", it.ID, err)
	}
	return it, nil
}

const attemptItemCols = `id, attempt_id, student_id, question_id, question_version,
	submitted, is_correct, tags_snapshot, diag_snapshot, created_at`

// ListItemsForStudent returns all of a student's attempt items ordered by
// question then insertion order, so the last row per question is the
// latest answer.
func (s *Store) ListItemsForStudent(studentID int64) ([]model.AttemptItem, error) {
	rows, err := s.db.Query(
		`SELECT `+attemptItemCols+` FROM attempt_items
		 WHERE student_id = ? ORDER BY question_id, id`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.AttemptItem
	for rows.Next() {
		it, err := scanAttemptItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListItemsForAttempt returns the items of one attempt in insertion order.
func (s *Store) ListItemsForAttempt(attemptID int64) ([]model.AttemptItem, error) {
	rows, err := s.db.Query(
		`SELECT `+attemptItemCols+` FROM attempt_items WHERE attempt_id = ? ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.AttemptItem
	for rows.Next() {
		it, err := scanAttemptItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LatestWrongQuestions returns the questions whose latest attempt item for
// this student is incorrect. Questions answered correctly later drop out.
func (s *Store) LatestWrongQuestions(studentID int64) ([]model.Question, error) {
	items, err := s.ListItemsForStudent(studentID)
	if err != nil {
		return nil, err
	}

	// Keep the last item seen per question; ListItemsForStudent orders by
	// (question_id, id) so later rows overwrite earlier ones.
	latest := make(map[int64]model.AttemptItem)
	var order []int64
	for _, it := range items {
		if _, seen := latest[it.QuestionID]; !seen {
			order = append(order, it.QuestionID)
		}
		latest[it.QuestionID] = it
	}

	var wrong []model.Question
	for _, qid := range order {
		if latest[qid].IsCorrect {
			continue
		}
		q, err := s.GetQuestion(qid)
		if err != nil {
			return nil, err
		}
		wrong = append(wrong, q)
	}
	return wrong, nil
}

// InsertAttemptView logs one view-time slice. Negative durations clamp to 0.
func (s *Store) InsertAttemptView(attemptID, questionID, viewMS int64) (int64, error) {
	if viewMS < 0 {
		viewMS = 0
	}
	res, err := s.db.Exec(
		`INSERT INTO attempt_views (attempt_id, question_id, view_ms, created_at) VALUES (?, ?, ?, ?)`,
		attemptID, questionID, viewMS, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListViewsForAttempt returns the raw view slices of one attempt.
func (s *Store) ListViewsForAttempt(attemptID int64) ([]model.AttemptView, error) {
	rows, err := s.db.Query(
		`SELECT id, attempt_id, question_id, view_ms, created_at
		 FROM attempt_views WHERE attempt_id = ? ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []model.AttemptView
	for rows.Next() {
		var v model.AttemptView
		if err := rows.Scan(&v.ID, &v.AttemptID, &v.QuestionID, &v.ViewMS, &v.CreatedAt); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func orEmptyList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
