package store

import (
	"testing"

	"github.com/practice-lms/practice/internal/model"
)

func TestAttemptLifecycle(t *testing.T) {
	s := newTestStore(t)
	studentID := insertTestStudent(t, s, "alice")

	id, err := s.CreateAttempt(studentID, "")
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	a, err := s.GetAttempt(id)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if a == nil || a.AssignmentTitle != "Practice" {
		t.Fatalf("attempt = %+v, want default title Practice", a)
	}
	if a.CompletedAt != nil {
		t.Errorf("new attempt already completed")
	}

	if err := s.CompleteAttempt(id); err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
	a, _ = s.GetAttempt(id)
	if a.CompletedAt == nil {
		t.Errorf("completed_at not set")
	}

	// Unknown attempt is nil, not an error.
	a, err = s.GetAttempt(9999)
	if err != nil || a != nil {
		t.Errorf("unknown attempt = %+v, %v", a, err)
	}

	second, _ := s.CreateAttempt(studentID, "Homework 3")
	list, err := s.ListAttemptsForStudent(studentID)
	if err != nil {
		t.Fatalf("ListAttemptsForStudent: %v", err)
	}
	if len(list) != 2 || list[0].ID != id || list[1].ID != second {
		t.Errorf("attempts = %+v, want oldest first", list)
	}
}

func TestAttemptItemsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	studentID := insertTestStudent(t, s, "bob")
	qid := insertTestQuestion(t, s, "q", "math", "algebra")
	attemptID, _ := s.CreateAttempt(studentID, "")

	itemID, err := s.InsertAttemptItem(model.AttemptItem{
		AttemptID:       attemptID,
		StudentID:       studentID,
		QuestionID:      qid,
		QuestionVersion: 1,
		Submitted:       model.Answer{Choice: "A"},
		IsCorrect:       false,
		TagsSnapshot:    []string{"algebra", "math"},
		DiagSnapshot:    []string{"sign-error"},
	})
	if err != nil {
		t.Fatalf("InsertAttemptItem: %v", err)
	}
	if itemID == 0 {
		t.Fatalf("zero item id")
	}

	items, err := s.ListItemsForAttempt(attemptID)
	if err != nil {
		t.Fatalf("ListItemsForAttempt: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	it := items[0]
	if it.Submitted.Choice != "A" || it.IsCorrect {
		t.Errorf("item = %+v", it)
	}
	if len(it.TagsSnapshot) != 2 || len(it.DiagSnapshot) != 1 {
		t.Errorf("snapshots = %v / %v", it.TagsSnapshot, it.DiagSnapshot)
	}
}

func TestLatestWrongQuestions(t *testing.T) {
	s := newTestStore(t)
	studentID := insertTestStudent(t, s, "carol")
	q1 := insertTestQuestion(t, s, "q1")
	q2 := insertTestQuestion(t, s, "q2")
	q3 := insertTestQuestion(t, s, "q3")
	attemptID, _ := s.CreateAttempt(studentID, "")

	add := func(qid int64, correct bool) {
		t.Helper()
		if _, err := s.InsertAttemptItem(model.AttemptItem{
			AttemptID: attemptID, StudentID: studentID, QuestionID: qid, IsCorrect: correct,
		}); err != nil {
			t.Fatalf("InsertAttemptItem: %v", err)
		}
	}

	// q1: wrong then corrected. q2: wrong. q3: correct then wrong again.
	add(q1, false)
	add(q1, true)
	add(q2, false)
	add(q3, true)
	add(q3, false)

	wrong, err := s.LatestWrongQuestions(studentID)
	if err != nil {
		t.Fatalf("LatestWrongQuestions: %v", err)
	}
	ids := map[int64]bool{}
	for _, q := range wrong {
		ids[q.ID] = true
	}
	if len(wrong) != 2 || !ids[q2] || !ids[q3] {
		t.Errorf("wrong questions = %v, want {q2, q3}", ids)
	}
	if ids[q1] {
		t.Errorf("corrected question still listed as wrong")
	}
}

func TestAttemptViews(t *testing.T) {
	s := newTestStore(t)
	studentID := insertTestStudent(t, s, "dina")
	qid := insertTestQuestion(t, s, "q")
	attemptID, _ := s.CreateAttempt(studentID, "")

	if _, err := s.InsertAttemptView(attemptID, qid, 1500); err != nil {
		t.Fatalf("InsertAttemptView: %v", err)
	}
	// Negative durations clamp to zero.
	if _, err := s.InsertAttemptView(attemptID, qid, -50); err != nil {
		t.Fatalf("InsertAttemptView: %v", err)
	}

	views, err := s.ListViewsForAttempt(attemptID)
	if err != nil {
		t.Fatalf("ListViewsForAttempt: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}
	if views[0].ViewMS != 1500 || views[1].ViewMS != 0 {
		t.Errorf("view_ms = %d, %d", views[0].ViewMS, views[1].ViewMS)
	}
}
