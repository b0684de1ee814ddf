package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/practice-lms/practice/internal/model"
)

// ExportAllResults builds export-ready attempt histories for every student
// that has at least one attempt.
func (s *Store) ExportAllResults() (model.ResultsExport, error) {
	export := model.ResultsExport{ExportedAt: time.Now()}

	users, err := s.ListUsers()
	if err != nil {
		return export, fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		attempts, err := s.ListAttemptsForStudent(u.ID)
		if err != nil {
			return export, fmt.Errorf("list attempts for user %d: %w", u.ID, err)
		}
		if len(attempts) == 0 {
			continue
		}

		profile, err := s.GetProfile(u.ID)
		if err != nil {
			return export, fmt.Errorf("get profile for user %d: %w", u.ID, err)
		}
		sid := model.FormatSID(u.ID)
		if profile != nil && profile.SID != "" {
			sid = profile.SID
		}

		result := model.StudentResult{
			SID:      sid,
			Username: u.Username,
			FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		}

		for _, a := range attempts {
			items, err := s.ListItemsForAttempt(a.ID)
			if err != nil {
				return export, fmt.Errorf("list items for attempt %d: %w", a.ID, err)
			}
			ar := model.AttemptResult{
				AssignmentTitle: a.AssignmentTitle,
				StartedAt:       a.StartedAt,
				CompletedAt:     a.CompletedAt,
			}
			for _, it := range items {
				ar.Items = append(ar.Items, model.ItemResult{
					QuestionID:      it.QuestionID,
					QuestionVersion: it.QuestionVersion,
					Submitted:       it.Submitted,
					IsCorrect:       it.IsCorrect,
					Tags:            it.TagsSnapshot,
					Diagnostics:     it.DiagSnapshot,
					At:              it.CreatedAt,
				})
				result.TotalSeen++
				if it.IsCorrect {
					result.TotalOK++
				}
			}
			result.Attempts = append(result.Attempts, ar)
		}

		export.Students = append(export.Students, result)
	}

	return export, nil
}
