package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	appI18n "github.com/practice-lms/practice/internal/i18n"
	"github.com/practice-lms/practice/internal/texrender"
)

// handleTexPDF compiles a LaTeX snippet to PDF. Results are cached on
// disk keyed by the snippet source.
func (h *Handler) handleTexPDF(w http.ResponseWriter, r *http.Request) {
	tex := r.URL.Query().Get("tex")
	if tex == "" {
		jsonError(w, http.StatusBadRequest, "missing tex parameter")
		return
	}

	pdf, err := h.render.SnippetPDF(r.Context(), h.cache, tex)
	if err != nil {
		h.texError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		slog.Error("write PDF response", "error", err)
	}
}

// handleTexSVG compiles a snippet, or a question's display document when
// qid is given, to SVG with a PNG fallback. Output is immutable per
// source, so clients may cache it for a year.
func (h *Handler) handleTexSVG(w http.ResponseWriter, r *http.Request) {
	tex := r.URL.Query().Get("tex")
	if qid := r.URL.Query().Get("qid"); qid != "" {
		id, err := strconv.ParseInt(qid, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid qid")
			return
		}
		q, err := h.store.GetQuestion(id)
		if err != nil {
			jsonError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
			return
		}
		tex = texrender.QuestionDocument(&q)
	}
	if tex == "" {
		jsonError(w, http.StatusBadRequest, "missing tex parameter")
		return
	}

	res, err := h.render.SnippetImage(r.Context(), h.cache, tex)
	if err != nil {
		h.texError(w, r, err)
		return
	}

	switch res.Format {
	case "svg":
		w.Header().Set("Content-Type", "image/svg+xml")
	case "png":
		w.Header().Set("Content-Type", "image/png")
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, res.Path)
}

// texError maps render pipeline failures onto HTTP statuses. Compile
// errors return the TeX log so the client can show it.
func (h *Handler) texError(w http.ResponseWriter, r *http.Request, err error) {
	var compileErr *texrender.CompileError
	switch {
	case errors.Is(err, texrender.ErrForbidden):
		jsonError(w, http.StatusBadRequest, "forbidden tex primitive")
	case errors.Is(err, context.DeadlineExceeded):
		jsonError(w, http.StatusGatewayTimeout, appI18n.T(r.Context(), "RenderUnavailable"))
	case errors.As(err, &compileErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tex compile failed",
			"log":   compileErr.Log,
		})
	default:
		slog.Error("render failed", "error", err)
		jsonError(w, http.StatusBadGateway, appI18n.T(r.Context(), "RenderUnavailable"))
	}
}
