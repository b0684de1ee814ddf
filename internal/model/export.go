package model

import "time"

// ResultsExport is the top-level JSON structure for the results export.
type ResultsExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Students   []StudentResult `json:"students"`
}

// StudentResult holds one student's attempt history for export.
type StudentResult struct {
	SID       string          `json:"sid"`
	Username  string          `json:"username"`
	FullName  string          `json:"full_name"`
	Attempts  []AttemptResult `json:"attempts"`
	TotalSeen int             `json:"total_seen"`
	TotalOK   int             `json:"total_correct"`
}

// AttemptResult is one attempt with its graded items.
type AttemptResult struct {
	AssignmentTitle string       `json:"assignment_title"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	Items           []ItemResult `json:"items"`
}

// ItemResult is a single graded answer for export.
type ItemResult struct {
	QuestionID      int64     `json:"question_id"`
	QuestionVersion int       `json:"question_version"`
	Submitted       Answer    `json:"submitted"`
	IsCorrect       bool      `json:"is_correct"`
	Tags            []string  `json:"tags"`
	Diagnostics     []string  `json:"diagnostics,omitempty"`
	At              time.Time `json:"at"`
}
