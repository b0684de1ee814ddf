package texrender

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/practice-lms/practice/internal/model"
)

const questionDocHeader = `\documentclass[border=6pt]{standalone}
\usepackage[T1]{fontenc}
\usepackage{lmodern}
\usepackage{amsmath,amssymb}
\usepackage{enumitem}
\usepackage{varwidth}
\begin{document}
\begin{varwidth}{0.9\textwidth}
`

const questionDocFooter = `\end{varwidth}
\end{document}
`

// QuestionDocument builds a standalone LaTeX document showing a question's
// stem and, for choice questions, its lettered options.
func QuestionDocument(q *model.Question) string {
	var b strings.Builder
	b.WriteString(questionDocHeader)
	b.WriteString(q.Stem)
	b.WriteString("\n")
	if len(q.Choices) > 0 {
		b.WriteString("\\begin{enumerate}[label=(\\Alph*),itemsep=2pt]\n")
		for _, key := range sortedKeys(q.Choices) {
			fmt.Fprintf(&b, "\\item %s\n", q.Choices[key])
		}
		b.WriteString("\\end{enumerate}\n")
	}
	b.WriteString(questionDocFooter)
	return b.String()
}

const practiceDocHeader = `\documentclass[12pt]{article}
\usepackage[T1]{fontenc}
\usepackage{lmodern}
\usepackage{amsmath,amssymb}
\usepackage{enumitem}
\usepackage[margin=2cm]{geometry}
\begin{document}
`

// PracticeDocument builds a printable worksheet of questions for a student,
// titled with the student ID.
func PracticeDocument(sid string, questions []model.Question) string {
	var b strings.Builder
	b.WriteString(practiceDocHeader)
	fmt.Fprintf(&b, "\\section*{Practice sheet for %s}\n", escapeText(sid))
	b.WriteString("\\begin{enumerate}[itemsep=10pt]\n")
	for _, q := range questions {
		fmt.Fprintf(&b, "\\item %s\n", q.Stem)
		if len(q.Choices) > 0 {
			b.WriteString("\\begin{enumerate}[label=(\\Alph*),itemsep=2pt]\n")
			for _, key := range sortedKeys(q.Choices) {
				fmt.Fprintf(&b, "\\item %s\n", q.Choices[key])
			}
			b.WriteString("\\end{enumerate}\n")
		}
	}
	b.WriteString("\\end{enumerate}\n\\end{document}\n")
	return b.String()
}

// RenderQuestionAsset renders the question's display image into
// mediaRoot/q/<id>/<contentHash>.<format> and returns the path relative to
// mediaRoot plus the image format.
func (r *Renderer) RenderQuestionAsset(ctx context.Context, q *model.Question, mediaRoot string) (relpath, format string, err error) {
	destDir := filepath.Join(mediaRoot, "q", fmt.Sprint(q.ID))
	res, err := r.RenderImage(ctx, QuestionDocument(q), destDir, q.ContentHash)
	if err != nil {
		return "", "", err
	}
	rel, err := filepath.Rel(mediaRoot, res.Path)
	if err != nil {
		return "", "", err
	}
	return filepath.ToSlash(rel), res.Format, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var textEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// escapeText escapes plain text for inclusion in a LaTeX document.
func escapeText(s string) string {
	return textEscaper.Replace(s)
}
