package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/practice-lms/practice/internal/i18n"
	"github.com/practice-lms/practice/internal/model"
)

const maxExcludeIDs = 2000

// handleSampleQuestions returns a random sample of questions for practice.
// The tag filter includes descendant tags and is intersected with the
// student's subject restriction, so a student can never draw questions
// outside their subjects.
func (h *Handler) handleSampleQuestions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	limit := h.config.DefaultSample
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	excludeIDs, err := parseIDList(r.URL.Query().Get("exclude"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	// nil means unrestricted, a non-nil empty slice means no questions.
	var tagIDs []int64
	if tag := r.URL.Query().Get("tag"); tag != "" {
		ids, err := h.store.DescendantTagIDs(tag)
		if err != nil {
			slog.Error("failed to resolve tag", "tag", tag, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if ids == nil {
			ids = []int64{}
		}
		tagIDs = ids
	}

	if user.Role == model.UserRoleStudent {
		allowed, err := h.subjectRestriction(user.ID)
		if err != nil {
			slog.Error("failed to load subject restriction", "user_id", user.ID, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		tagIDs = intersectRestriction(tagIDs, allowed)
	}

	questions, err := h.store.SampleQuestions(tagIDs, excludeIDs, limit)
	if err != nil {
		slog.Error("failed to sample questions", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"questions": questions, "count": len(questions)}
	if len(questions) == 0 {
		resp["message"] = appI18n.T(r.Context(), "NoQuestionsAvailable")
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubjects returns the subject hierarchy the caller may draw from:
// the restriction subjects with their child topics for restricted
// students, every top-level subject otherwise.
func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var rootIDs []int64
	if user.Role == model.UserRoleStudent {
		profile, err := h.store.GetProfile(user.ID)
		if err != nil {
			slog.Error("failed to get profile", "user_id", user.ID, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if profile != nil {
			for _, subj := range profile.Subjects {
				rootIDs = append(rootIDs, subj.ID)
			}
		}
	}

	groups, err := h.store.SubjectGroups(rootIDs)
	if err != nil {
		slog.Error("failed to load subjects", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": groups})
}

// subjectRestriction returns the tag ids a student is allowed to draw
// from, or nil when the profile has no subject restriction.
func (h *Handler) subjectRestriction(userID int64) ([]int64, error) {
	profile, err := h.store.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	if profile == nil || len(profile.Subjects) == 0 {
		return nil, nil
	}
	var allowed []int64
	for _, subj := range profile.Subjects {
		ids, err := h.store.DescendantTagIDs(subj.Name)
		if err != nil {
			return nil, err
		}
		allowed = append(allowed, ids...)
	}
	if allowed == nil {
		allowed = []int64{}
	}
	return allowed, nil
}

// intersectRestriction combines a tag filter with a subject restriction.
// nil means "no constraint" on either side.
func intersectRestriction(filter, allowed []int64) []int64 {
	if allowed == nil {
		return filter
	}
	if filter == nil {
		return allowed
	}
	in := make(map[int64]bool, len(allowed))
	for _, id := range allowed {
		in[id] = true
	}
	out := []int64{}
	for _, id := range filter {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}

func parseIDList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > maxExcludeIDs {
		parts = parts[:maxExcludeIDs]
	}
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.New("invalid id list")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// handleQuestionAsset serves the pre-rendered image for a question.
func (h *Handler) handleQuestionAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "questionID")
	if !ok {
		return
	}
	format := chi.URLParam(r, "format")

	q, err := h.store.GetQuestion(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	if q.AssetRelpath == "" || q.AssetFormat != format {
		jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}

	// Assets are content-hash addressed, so they never change in place.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, filepath.Join(h.config.MediaRoot, filepath.FromSlash(q.AssetRelpath)))
}
