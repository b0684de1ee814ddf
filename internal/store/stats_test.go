package store

import (
	"testing"

	"github.com/practice-lms/practice/internal/model"
)

// statsFixture builds two subject tags under one parent and one question
// in each; a third question carries only the parent tag.
func statsFixture(t *testing.T, s *Store) (studentID, qAlgebra, qGeometry, qOrphan int64) {
	t.Helper()
	studentID = insertTestStudent(t, s, "stats-student")

	parent, err := s.CreateTag("math", nil)
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if _, err := s.CreateTag("algebra", &parent); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if _, err := s.CreateTag("geometry", &parent); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	qAlgebra = insertTestQuestion(t, s, "alg", "algebra")
	qGeometry = insertTestQuestion(t, s, "geo", "geometry")
	qOrphan = insertTestQuestion(t, s, "orphan", "math")
	return
}

func TestStudentStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	studentID := insertTestStudent(t, s, "empty")

	stats, err := s.StudentStats(studentID)
	if err != nil {
		t.Fatalf("StudentStats: %v", err)
	}
	if !stats.OK || stats.ViewedCount != 0 || len(stats.Breakdown) != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
}

func TestStudentStatsBreakdown(t *testing.T) {
	s := newTestStore(t)
	studentID, qAlg, qGeo, qOrphan := statsFixture(t, s)
	attemptID, _ := s.CreateAttempt(studentID, "")

	view := func(qid, ms int64) {
		t.Helper()
		if _, err := s.InsertAttemptView(attemptID, qid, ms); err != nil {
			t.Fatalf("InsertAttemptView: %v", err)
		}
	}
	answer := func(qid int64, correct bool) {
		t.Helper()
		if _, err := s.InsertAttemptItem(model.AttemptItem{
			AttemptID: attemptID, StudentID: studentID, QuestionID: qid, IsCorrect: correct,
		}); err != nil {
			t.Fatalf("InsertAttemptItem: %v", err)
		}
	}

	// Algebra: two slices summed to 3s, answered wrong then right.
	view(qAlg, 1000)
	view(qAlg, 2000)
	answer(qAlg, false)
	answer(qAlg, true)
	// Geometry: 5s, wrong.
	view(qGeo, 5000)
	answer(qGeo, false)
	// Orphan question has only the parent tag and must be skipped.
	view(qOrphan, 9000)
	answer(qOrphan, true)

	stats, err := s.StudentStats(studentID)
	if err != nil {
		t.Fatalf("StudentStats: %v", err)
	}

	if len(stats.Breakdown) != 2 {
		t.Fatalf("breakdown = %+v, want algebra and geometry only", stats.Breakdown)
	}
	alg, geo := stats.Breakdown[0], stats.Breakdown[1]
	if alg.Label != "algebra" || geo.Label != "geometry" {
		t.Fatalf("labels = %q, %q", alg.Label, geo.Label)
	}
	if alg.ViewedCount != 1 || alg.CorrectViewedCount != 1 || alg.AccuracyPct != 100 {
		t.Errorf("algebra = %+v", alg)
	}
	if alg.AvgViewS != 3.0 {
		t.Errorf("algebra avg view = %v, want 3.0", alg.AvgViewS)
	}
	if geo.ViewedCount != 1 || geo.CorrectViewedCount != 0 || geo.AccuracyPct != 0 {
		t.Errorf("geometry = %+v", geo)
	}
	if geo.AvgViewS != 5.0 {
		t.Errorf("geometry avg view = %v, want 5.0", geo.AvgViewS)
	}

	// Overall numbers are the weighted aggregate of the breakdown.
	if stats.ViewedCount != 2 || stats.CorrectViewedCount != 1 {
		t.Errorf("overall counts = %d/%d", stats.CorrectViewedCount, stats.ViewedCount)
	}
	if stats.AccuracyPct != 50 {
		t.Errorf("overall accuracy = %d, want 50", stats.AccuracyPct)
	}
	if stats.AvgViewS != 4.0 {
		t.Errorf("overall avg view = %v, want 4.0", stats.AvgViewS)
	}
}

func TestStudentStatsViewedWithoutAnswer(t *testing.T) {
	s := newTestStore(t)
	studentID, qAlg, _, _ := statsFixture(t, s)
	attemptID, _ := s.CreateAttempt(studentID, "")

	// Viewed but never answered counts as viewed, not correct.
	if _, err := s.InsertAttemptView(attemptID, qAlg, 2000); err != nil {
		t.Fatalf("InsertAttemptView: %v", err)
	}

	stats, err := s.StudentStats(studentID)
	if err != nil {
		t.Fatalf("StudentStats: %v", err)
	}
	if stats.ViewedCount != 1 || stats.CorrectViewedCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AccuracyPct != 0 {
		t.Errorf("accuracy = %d, want 0", stats.AccuracyPct)
	}
}
