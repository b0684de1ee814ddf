// Package handler implements the JSON HTTP API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/practice-lms/practice/internal/model"
	"github.com/practice-lms/practice/internal/store"
	"github.com/practice-lms/practice/internal/texrender"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	render   *texrender.Renderer
	cache    *texrender.Cache
	validate *validator.Validate
	config   model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, r *texrender.Renderer, cfg model.ServerConfig) (*Handler, error) {
	v := validator.New()
	// Report errors under JSON field names, not Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    s,
		render:   r,
		cache:    &texrender.Cache{Dir: cfg.TexCacheDir},
		validate: v,
		config:   cfg,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	// View logging is sent via navigator.sendBeacon, which cannot carry
	// custom headers, so it sits outside the CSRF group.
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/attempts/{attemptID}/views", h.handleLogView)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		// In the CSRF group so a bare ping hands clients their first token.
		r.Get("/api/ping", h.handlePing)

		r.Post("/api/register", h.handleRegister)
		r.Post("/api/login", h.handleLogin)
		r.Post("/api/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/api/me", h.handleMe)
			r.Get("/api/questions", h.handleSampleQuestions)
			r.Get("/api/subjects", h.handleSubjects)
			r.Get("/questions/{questionID}/asset.{format}", h.handleQuestionAsset)

			r.Post("/api/attempts", h.handleCreateAttempt)
			r.Post("/api/attempts/{attemptID}/items", h.handleSubmitItem)
			r.Post("/api/attempts/{attemptID}/complete", h.handleCompleteAttempt)

			r.Get("/api/students/{studentID}/wrong-questions", h.handleWrongQuestions)
			r.Get("/api/students/{studentID}/wrong-questions/pdf", h.handleWrongQuestionsPDF)
			r.Get("/api/stats/me", h.handleMyStats)

			r.Get("/tex/pdf", h.handleTexPDF)
			r.Get("/tex/svg", h.handleTexSVG)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))

				r.Get("/users", h.handleAdminListUsers)
				r.Post("/users", h.handleAdminCreateUser)
				r.Post("/users/{userID}/toggle-active", h.handleAdminToggleUserActive)

				r.Get("/tags", h.handleAdminListTags)
				r.Post("/tags", h.handleAdminCreateTag)

				r.Get("/classrooms", h.handleAdminListClassrooms)
				r.Post("/classrooms", h.handleAdminCreateClassroom)
				r.Get("/classrooms/{classroomID}/enrollments", h.handleAdminListEnrollments)
				r.Post("/classrooms/{classroomID}/enrollments", h.handleAdminEnroll)

				r.Get("/questions", h.handleAdminListQuestions)
				r.Get("/questions/{questionID}", h.handleAdminGetQuestion)
				r.Post("/questions/{questionID}/answer", h.handleAdminUpdateAnswer)
				r.Delete("/questions/{questionID}", h.handleAdminDeleteQuestion)

				r.Get("/attempts", h.handleAdminListAttempts)
			})
		})
	})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// jsonError writes {"error": msg} with the given status.
func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody parses a JSON request body into v and runs struct validation.
// Validation failures are reported to the client as a field->message map.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		fields := map[string]string{}
		if ok := errorsAs(err, &verrs); ok {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return false
	}
	return true
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		*target = verrs
		return true
	}
	return false
}

// urlID parses a chi URL parameter as an int64 id. A second return of
// false means the error response has already been written.
func urlID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
