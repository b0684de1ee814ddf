package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/practice-lms/practice/internal/grading"
	appI18n "github.com/practice-lms/practice/internal/i18n"
	"github.com/practice-lms/practice/internal/model"
	"github.com/practice-lms/practice/internal/texrender"
)

type createAttemptRequest struct {
	AssignmentTitle string `json:"assignment_title" validate:"max=128"`
}

func (h *Handler) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var req createAttemptRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	id, err := h.store.CreateAttempt(user.ID, req.AssignmentTitle)
	if err != nil {
		slog.Error("failed to create attempt", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	attempt, err := h.store.GetAttempt(id)
	if err != nil || attempt == nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attempt": attempt})
}

// loadOwnedAttempt fetches the attempt and checks the caller may act on
// it: the owning student, or any teacher. A nil return means the error
// response has been written.
func (h *Handler) loadOwnedAttempt(w http.ResponseWriter, r *http.Request) *model.Attempt {
	id, ok := urlID(w, r, "attemptID")
	if !ok {
		return nil
	}
	attempt, err := h.store.GetAttempt(id)
	if err != nil {
		slog.Error("failed to get attempt", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if attempt == nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return nil
	}
	user := model.UserFromContext(r.Context())
	if attempt.StudentID != user.ID && !user.IsTeacher() {
		jsonError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return nil
	}
	return attempt
}

type submitItemRequest struct {
	QuestionID int64        `json:"question_id" validate:"required"`
	Answer     model.Answer `json:"answer"`
}

func (h *Handler) handleSubmitItem(w http.ResponseWriter, r *http.Request) {
	attempt := h.loadOwnedAttempt(w, r)
	if attempt == nil {
		return
	}
	if attempt.CompletedAt != nil {
		jsonError(w, http.StatusBadRequest, appI18n.T(r.Context(), "AttemptAlreadyCompleted"))
		return
	}

	var req submitItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	q, err := h.store.GetQuestion(req.QuestionID)
	if err != nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}

	isCorrect := grading.Evaluate(q, req.Answer)
	diag := grading.Diagnostics(q, req.Answer)

	itemID, err := h.store.InsertAttemptItem(model.AttemptItem{
		AttemptID:       attempt.ID,
		StudentID:       attempt.StudentID,
		QuestionID:      q.ID,
		QuestionVersion: q.Version,
		Submitted:       req.Answer,
		IsCorrect:       isCorrect,
		TagsSnapshot:    q.Tags,
		DiagSnapshot:    diag,
	})
	if err != nil {
		slog.Error("failed to insert attempt item", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"is_correct":      isCorrect,
		"attempt_item_id": itemID,
	})
}

func (h *Handler) handleCompleteAttempt(w http.ResponseWriter, r *http.Request) {
	attempt := h.loadOwnedAttempt(w, r)
	if attempt == nil {
		return
	}
	if attempt.CompletedAt != nil {
		jsonError(w, http.StatusBadRequest, appI18n.T(r.Context(), "AttemptAlreadyCompleted"))
		return
	}
	if err := h.store.CompleteAttempt(attempt.ID); err != nil {
		slog.Error("failed to complete attempt", "id", attempt.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type logViewRequest struct {
	QuestionID int64 `json:"question_id" validate:"required"`
	ViewMS     int64 `json:"view_ms"`
}

// handleLogView records one view-time slice. It is reached by
// navigator.sendBeacon on page unload, so only the session cookie guards
// it and the attempt ownership check is strict.
func (h *Handler) handleLogView(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	id, ok := urlID(w, r, "attemptID")
	if !ok {
		return
	}
	attempt, err := h.store.GetAttempt(id)
	if err != nil {
		slog.Error("failed to get attempt", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if attempt == nil || attempt.StudentID != user.ID {
		jsonError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return
	}

	var req logViewRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if _, err := h.store.InsertAttemptView(attempt.ID, req.QuestionID, req.ViewMS); err != nil {
		slog.Error("failed to insert attempt view", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// studentForRequest resolves the {studentID} parameter and checks access:
// students may only read their own data, teachers anyone's.
func (h *Handler) studentForRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	studentID, ok := urlID(w, r, "studentID")
	if !ok {
		return 0, false
	}
	user := model.UserFromContext(r.Context())
	if studentID != user.ID && !user.IsTeacher() {
		jsonError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return 0, false
	}
	return studentID, true
}

func (h *Handler) handleWrongQuestions(w http.ResponseWriter, r *http.Request) {
	studentID, ok := h.studentForRequest(w, r)
	if !ok {
		return
	}

	questions, err := h.store.LatestWrongQuestions(studentID)
	if err != nil {
		slog.Error("failed to list wrong questions", "student_id", studentID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"questions": questions, "count": len(questions)}
	if len(questions) == 0 {
		resp["message"] = appI18n.T(r.Context(), "NoWrongQuestions")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleWrongQuestionsPDF(w http.ResponseWriter, r *http.Request) {
	studentID, ok := h.studentForRequest(w, r)
	if !ok {
		return
	}

	questions, err := h.store.LatestWrongQuestions(studentID)
	if err != nil {
		slog.Error("failed to list wrong questions", "student_id", studentID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(questions) == 0 {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NoWrongQuestions"))
		return
	}

	sid := model.FormatSID(studentID)
	if profile, err := h.store.GetProfile(studentID); err == nil && profile != nil {
		sid = profile.SID
	}

	pdf, err := h.render.CompilePDF(r.Context(), texrender.PracticeDocument(sid, questions))
	if err != nil {
		slog.Warn("tex compile failed for practice sheet, using fallback", "error", err)
		if h.config.FallbackFont == "" {
			jsonError(w, http.StatusBadGateway, appI18n.T(r.Context(), "RenderUnavailable"))
			return
		}
		pdf, err = texrender.FallbackPDF(h.config.FallbackFont, sid, questions)
		if err != nil {
			slog.Error("fallback PDF failed", "error", err)
			jsonError(w, http.StatusBadGateway, appI18n.T(r.Context(), "RenderUnavailable"))
			return
		}
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=practice-%s.pdf", sid))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		slog.Error("write PDF response", "error", err)
	}
}
