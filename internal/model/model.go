package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsTeacher reports whether the user has teacher-level access.
// Admins count as teachers everywhere a teacher is required.
func (u *User) IsTeacher() bool {
	return u != nil && (u.Role == UserRoleTeacher || u.Role == UserRoleAdmin)
}

// StudentProfile is auto-created alongside each user.
type StudentProfile struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	SID         string     `json:"sid"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Grade       string     `json:"grade,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	// Subjects restrict which question tags the student can draw from.
	// Empty means no restriction.
	Subjects []Tag `json:"subjects,omitempty"`
}

// FormatSID builds the human-friendly student ID for a user id, e.g. "S000123".
func FormatSID(userID int64) string {
	return fmt.Sprintf("S%06d", userID)
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Classroom groups students under an owning teacher.
type Classroom struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

// Enrollment links a student to a classroom. The pair is unique.
type Enrollment struct {
	ID          int64 `json:"id"`
	ClassroomID int64 `json:"classroom_id"`
	StudentID   int64 `json:"student_id"`
}

// Tag is a subject label. A nil ParentID marks a top-level subject group.
type Tag struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// SubjectGroup is a subject tag together with its direct child topics,
// the shape the student dashboard renders.
type SubjectGroup struct {
	Subject  Tag   `json:"subject"`
	Children []Tag `json:"children"`
}

// QuestionType enumerates the supported answer formats.
type QuestionType string

const (
	TypeMCQ     QuestionType = "mcq"
	TypeNumeric QuestionType = "numeric"
	TypeShort   QuestionType = "short"
	TypeAlgebra QuestionType = "algebra"
)

// ValidQuestionType reports whether t is one of the known question types.
func ValidQuestionType(t QuestionType) bool {
	switch t {
	case TypeMCQ, TypeNumeric, TypeShort, TypeAlgebra:
		return true
	}
	return false
}

// Answer is the JSON answer payload, both for submissions and for the
// stored correct key. Which fields matter depends on the question type.
type Answer struct {
	Choice    string   `json:"choice,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// UnmarshalJSON accepts numeric fields as JSON numbers or strings.
// Form-derived clients send "3.14"; an unparseable value stays nil and
// grades as wrong rather than failing the whole submission.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw struct {
		Choice    string          `json:"choice"`
		Value     json.RawMessage `json:"value"`
		Tolerance json.RawMessage `json:"tolerance"`
		Text      string          `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Choice = raw.Choice
	a.Text = raw.Text
	a.Value = parseLooseFloat(raw.Value)
	a.Tolerance = parseLooseFloat(raw.Tolerance)
	return nil
}

func parseLooseFloat(raw json.RawMessage) *float64 {
	s := string(raw)
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Question is a single item in the question bank. The stem holds
// LaTeX/Markdown source; math stays in TeX delimiters for the frontend.
type Question struct {
	ID             int64             `json:"id"`
	Type           QuestionType      `json:"type"`
	Stem           string            `json:"stem_md"`
	Choices        map[string]string `json:"choices,omitempty"`
	Correct        Answer            `json:"-"`
	Version        int               `json:"version"`
	Tags           []string          `json:"tags"`
	DiagnosticKeys map[string]string `json:"-"`
	CreatedBy      *int64            `json:"-"`
	CreatedAt      time.Time         `json:"-"`

	// Rendered LaTeX asset bookkeeping.
	ContentHash      string `json:"-"`
	AssetHash        string `json:"-"`
	AssetRelpath     string `json:"-"`
	AssetFormat      string `json:"-"`
	NeedsAssetRender bool   `json:"-"`
}

// ComputeContentHash hashes the render-relevant parts of a question:
// stem, choices, and type. Choices are serialized with sorted keys so
// the hash is stable across map iteration order.
func (q *Question) ComputeContentHash() string {
	keys := make([]string, 0, len(q.Choices))
	for k := range q.Choices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, q.Choices[k]})
	}
	data, _ := json.Marshal(map[string]any{
		"stem_md": q.Stem,
		"type":    string(q.Type),
		"choices": ordered,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Attempt is one practice run by a student.
type Attempt struct {
	ID              int64      `json:"id"`
	AssignmentTitle string     `json:"assignment_title"`
	StudentID       int64      `json:"student_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// AttemptItem records a single graded answer inside an attempt.
// Tag and diagnostic snapshots freeze the question's state at answer time.
type AttemptItem struct {
	ID              int64     `json:"id"`
	AttemptID       int64     `json:"attempt_id"`
	StudentID       int64     `json:"student_id"`
	QuestionID      int64     `json:"question_id"`
	QuestionVersion int       `json:"question_version"`
	Submitted       Answer    `json:"submitted"`
	IsCorrect       bool      `json:"is_correct"`
	TagsSnapshot    []string  `json:"tags_snapshot"`
	DiagSnapshot    []string  `json:"diag_snapshot,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AttemptView is one view-time slice for a question within an attempt.
// Multiple slices for the same question are summed when aggregating.
type AttemptView struct {
	ID         int64     `json:"id"`
	AttemptID  int64     `json:"attempt_id"`
	QuestionID int64     `json:"question_id"`
	ViewMS     int64     `json:"view_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubjectStats is the per-subject slice of a student's statistics.
type SubjectStats struct {
	Label              string  `json:"label"`
	ViewedCount        int     `json:"viewed_count"`
	CorrectViewedCount int     `json:"correct_viewed_count"`
	AccuracyPct        int     `json:"accuracy_pct"`
	AvgViewS           float64 `json:"avg_view_s"`
}

// StudentStats is the full stats payload for one student.
// Overall numbers are the weighted aggregate of the breakdown slices,
// so they always match what a breakdown table shows.
type StudentStats struct {
	OK                 bool           `json:"ok"`
	ViewedCount        int            `json:"viewed_count"`
	CorrectViewedCount int            `json:"correct_viewed_count"`
	AccuracyPct        int            `json:"accuracy_pct"`
	AvgViewS           float64        `json:"avg_view_s"`
	Breakdown          []SubjectStats `json:"breakdown"`
}

// ServerConfig holds runtime server parameters set via CLI flags.
type ServerConfig struct {
	MediaRoot      string // directory for rendered question assets
	TexCacheDir    string // snippet render cache
	FallbackFont   string // TTF used for the non-LaTeX PDF fallback; empty disables it
	DefaultSample  int    // question count when the request does not say
	SecureCookies  bool   // set Secure flag on cookies (disable for local dev)
	Lang           string // UI language for API messages
	AllowRegister  bool   // open student self-registration
	CompileTimeout time.Duration
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
