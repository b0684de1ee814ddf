package store

import (
	"math"
	"sort"
	"strings"

	"github.com/practice-lms/practice/internal/model"
)

// StudentStats aggregates a student's viewing and correctness data into
// per-subject slices. Each viewed question is attributed to exactly one
// child subject tag (the one with the lowest id) so no question is
// double-counted; questions with no child tag are skipped. The overall
// numbers are derived from the same slices, so they always agree with
// the breakdown.
func (s *Store) StudentStats(studentID int64) (model.StudentStats, error) {
	stats := model.StudentStats{OK: true, Breakdown: []model.SubjectStats{}}

	// Total viewing time per question, all attempts merged.
	rows, err := s.db.Query(
		`SELECT av.question_id, SUM(av.view_ms)
		 FROM attempt_views av
		 JOIN attempts a ON a.id = av.attempt_id
		 WHERE a.student_id = ?
		 GROUP BY av.question_id`, studentID,
	)
	if err != nil {
		return stats, err
	}
	perQuestionMS := make(map[int64]int64)
	for rows.Next() {
		var qid, ms int64
		if err := rows.Scan(&qid, &ms); err != nil {
			rows.Close()
			return stats, err
		}
		perQuestionMS[qid] = ms
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	if len(perQuestionMS) == 0 {
		return stats, nil
	}
	viewedIDs := make([]int64, 0, len(perQuestionMS))
	for qid := range perQuestionMS {
		viewedIDs = append(viewedIDs, qid)
	}

	// Latest correctness per viewed question. Item ids are monotonic, so
	// the row with MAX(id) per question is the latest answer.
	rows, err = s.db.Query(
		`SELECT ai.question_id, ai.is_correct
		 FROM attempt_items ai
		 JOIN (SELECT question_id, MAX(id) AS max_id
		       FROM attempt_items
		       WHERE student_id = ? AND question_id IN (`+placeholders(len(viewedIDs))+`)
		       GROUP BY question_id) last
		 ON last.max_id = ai.id`,
		append([]any{studentID}, toAnySlice(viewedIDs)...)...,
	)
	if err != nil {
		return stats, err
	}
	latestCorrect := make(map[int64]bool)
	for rows.Next() {
		var qid int64
		var ok bool
		if err := rows.Scan(&qid, &ok); err != nil {
			rows.Close()
			return stats, err
		}
		latestCorrect[qid] = ok
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	tagsByQuestion, err := s.TagsForQuestions(viewedIDs)
	if err != nil {
		return stats, err
	}

	type bucket struct {
		label   string
		viewed  int
		correct int
		totalMS int64
	}
	buckets := make(map[int64]*bucket)

	for _, qid := range viewedIDs {
		// Exactly one child tag per question, chosen deterministically.
		var child *model.Tag
		for i, t := range tagsByQuestion[qid] {
			if t.ParentID == nil {
				continue
			}
			if child == nil || t.ID < child.ID {
				child = &tagsByQuestion[qid][i]
			}
		}
		if child == nil {
			continue
		}
		b := buckets[child.ID]
		if b == nil {
			b = &bucket{label: child.Name}
			buckets[child.ID] = b
		}
		b.viewed++
		b.totalMS += perQuestionMS[qid]
		if latestCorrect[qid] {
			b.correct++
		}
	}

	for _, b := range buckets {
		if b.viewed <= 0 {
			continue
		}
		stats.Breakdown = append(stats.Breakdown, model.SubjectStats{
			Label:              b.label,
			ViewedCount:        b.viewed,
			CorrectViewedCount: b.correct,
			AccuracyPct:        int(math.Round(float64(b.correct) * 100 / float64(b.viewed))),
			AvgViewS:           round2(float64(b.totalMS) / float64(b.viewed) / 1000),
		})
	}
	sort.Slice(stats.Breakdown, func(i, j int) bool {
		return strings.ToLower(stats.Breakdown[i].Label) < strings.ToLower(stats.Breakdown[j].Label)
	})

	var totalMS float64
	for _, b := range stats.Breakdown {
		stats.ViewedCount += b.ViewedCount
		stats.CorrectViewedCount += b.CorrectViewedCount
		totalMS += b.AvgViewS * 1000 * float64(b.ViewedCount)
	}
	if stats.ViewedCount > 0 {
		stats.AccuracyPct = int(math.Round(float64(stats.CorrectViewedCount) * 100 / float64(stats.ViewedCount)))
		stats.AvgViewS = round2(totalMS / float64(stats.ViewedCount) / 1000)
	}
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
