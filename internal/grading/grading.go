// Package grading evaluates submitted answers against a question's
// stored correct key.
package grading

import (
	"math"
	"strings"
	"unicode"

	"github.com/practice-lms/practice/internal/model"
)

const defaultTolerance = 1e-3

// Evaluate reports whether the submitted answer is correct for the
// given question. Unknown question types are always wrong.
func Evaluate(q model.Question, submitted model.Answer) bool {
	switch q.Type {
	case model.TypeMCQ:
		return submitted.Choice != "" && submitted.Choice == q.Correct.Choice
	case model.TypeNumeric:
		if submitted.Value == nil || q.Correct.Value == nil {
			return false
		}
		eps := defaultTolerance
		if q.Correct.Tolerance != nil {
			eps = *q.Correct.Tolerance
		}
		return math.Abs(*submitted.Value-*q.Correct.Value) <= eps
	case model.TypeShort, model.TypeAlgebra:
		return normalize(submitted.Text) == normalize(q.Correct.Text)
	}
	return false
}

// Diagnostics returns the diagnostic labels triggered by a submission.
// Only MCQ questions carry diagnostic keys; a wrong choice that maps to
// a key (e.g. "A" -> "forgets-chain-rule") produces that label.
func Diagnostics(q model.Question, submitted model.Answer) []string {
	if q.Type != model.TypeMCQ || len(q.DiagnosticKeys) == 0 {
		return nil
	}
	if label, ok := q.DiagnosticKeys[submitted.Choice]; ok {
		return []string{label}
	}
	return nil
}

// normalize lowercases and strips all whitespace so "x + 1" and "X+1"
// compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
