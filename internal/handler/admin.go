package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/practice-lms/practice/internal/i18n"
	"github.com/practice-lms/practice/internal/model"
	"github.com/practice-lms/practice/internal/store"
)

func (h *Handler) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email     string `json:"email" validate:"omitempty,email"`
	FirstName string `json:"first_name" validate:"max=64"`
	LastName  string `json:"last_name" validate:"max=64"`
	Password  string `json:"password" validate:"required,min=8"`
	Role      string `json:"role" validate:"required,oneof=student teacher admin"`
}

func (h *Handler) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	// Only admins may mint other admins.
	caller := model.UserFromContext(r.Context())
	if model.UserRole(req.Role) == model.UserRoleAdmin && caller.Role != model.UserRoleAdmin {
		jsonError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return
	}

	existing, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		jsonError(w, http.StatusConflict, appI18n.T(r.Context(), "UsernameTaken"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
		Role:         model.UserRole(req.Role),
		Active:       true,
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.store.GetUserByID(id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *Handler) handleAdminToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAdminListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.ListTags()
	if err != nil {
		slog.Error("failed to list tags", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

type createTagRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) handleAdminCreateTag(w http.ResponseWriter, r *http.Request) {
	var req createTagRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	id, err := h.store.CreateTag(req.Name, req.ParentID)
	if err != nil {
		slog.Error("failed to create tag", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tag": model.Tag{ID: id, Name: req.Name, ParentID: req.ParentID},
	})
}

func (h *Handler) handleAdminListClassrooms(w http.ResponseWriter, r *http.Request) {
	classrooms, err := h.store.ListClassrooms()
	if err != nil {
		slog.Error("failed to list classrooms", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classrooms": classrooms})
}

type createClassroomRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

func (h *Handler) handleAdminCreateClassroom(w http.ResponseWriter, r *http.Request) {
	var req createClassroomRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateClassroom(req.Name, user.ID)
	if err != nil {
		slog.Error("failed to create classroom", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"classroom": model.Classroom{ID: id, Name: req.Name, OwnerID: user.ID},
	})
}

func (h *Handler) handleAdminListEnrollments(w http.ResponseWriter, r *http.Request) {
	classroomID, ok := urlID(w, r, "classroomID")
	if !ok {
		return
	}
	enrollments, err := h.store.ListEnrollments(classroomID)
	if err != nil {
		slog.Error("failed to list enrollments", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollments": enrollments})
}

type enrollRequest struct {
	StudentID int64 `json:"student_id" validate:"required"`
}

func (h *Handler) handleAdminEnroll(w http.ResponseWriter, r *http.Request) {
	classroomID, ok := urlID(w, r, "classroomID")
	if !ok {
		return
	}
	var req enrollRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	classroom, err := h.store.GetClassroom(classroomID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if classroom == nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	student, err := h.store.GetUserByID(req.StudentID)
	if err != nil || student == nil || student.Role != model.UserRoleStudent {
		jsonError(w, http.StatusBadRequest, "not a student")
		return
	}

	if err := h.store.EnrollStudent(classroomID, req.StudentID); err != nil {
		slog.Error("failed to enroll student", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// adminQuestion exposes the answer key fields the public question JSON hides.
type adminQuestion struct {
	model.Question
	Correct        model.Answer      `json:"correct"`
	DiagnosticKeys map[string]string `json:"diagnostic_keys,omitempty"`
	AssetRelpath   string            `json:"asset_relpath,omitempty"`
	AssetFormat    string            `json:"asset_format,omitempty"`
}

func toAdminQuestion(q model.Question) adminQuestion {
	return adminQuestion{
		Question:       q,
		Correct:        q.Correct,
		DiagnosticKeys: q.DiagnosticKeys,
		AssetRelpath:   q.AssetRelpath,
		AssetFormat:    q.AssetFormat,
	}
}

func (h *Handler) handleAdminListQuestions(w http.ResponseWriter, r *http.Request) {
	var filter store.QuestionFilter
	if t := r.URL.Query().Get("type"); t != "" {
		if !model.ValidQuestionType(model.QuestionType(t)) {
			jsonError(w, http.StatusBadRequest, "unknown question type")
			return
		}
		filter.Type = model.QuestionType(t)
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		ids, err := h.store.DescendantTagIDs(tag)
		if err != nil {
			slog.Error("failed to resolve tag", "tag", tag, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if ids == nil {
			// Unknown tag matches nothing.
			ids = []int64{}
		}
		filter.TagIDs = ids
	}

	questions, err := h.store.ListQuestions(filter)
	if err != nil {
		slog.Error("failed to list questions", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]adminQuestion, 0, len(questions))
	for _, q := range questions {
		out = append(out, toAdminQuestion(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": out})
}

func (h *Handler) handleAdminGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "questionID")
	if !ok {
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": toAdminQuestion(q)})
}

type updateAnswerRequest struct {
	Type    string       `json:"type" validate:"required,oneof=mcq numeric short algebra"`
	Correct model.Answer `json:"correct"`
}

func (h *Handler) handleAdminUpdateAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "questionID")
	if !ok {
		return
	}
	var req updateAnswerRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.store.UpdateQuestionAnswer(id, model.QuestionType(req.Type), req.Correct); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
			return
		}
		slog.Error("failed to update answer", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": toAdminQuestion(q)})
}

func (h *Handler) handleAdminDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "questionID")
	if !ok {
		return
	}
	if err := h.store.DeleteQuestion(id); err != nil {
		// Answered questions are kept so attempt history stays intact.
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAdminListAttempts lists all attempts with their view telemetry.
func (h *Handler) handleAdminListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.store.ListAttempts()
	if err != nil {
		slog.Error("failed to list attempts", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type attemptWithViews struct {
		model.Attempt
		Views []model.AttemptView `json:"views"`
	}
	out := make([]attemptWithViews, 0, len(attempts))
	for _, a := range attempts {
		views, err := h.store.ListViewsForAttempt(a.ID)
		if err != nil {
			slog.Error("failed to list views", "attempt_id", a.ID, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		out = append(out, attemptWithViews{Attempt: a, Views: views})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}
