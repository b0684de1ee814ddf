package grading

import (
	"testing"

	"github.com/practice-lms/practice/internal/model"
)

func fp(v float64) *float64 { return &v }

func TestEvaluateMCQ(t *testing.T) {
	q := model.Question{
		Type:    model.TypeMCQ,
		Choices: map[string]string{"A": "1", "B": "2", "C": "3"},
		Correct: model.Answer{Choice: "B"},
	}

	if !Evaluate(q, model.Answer{Choice: "B"}) {
		t.Error("expected correct choice B to pass")
	}
	if Evaluate(q, model.Answer{Choice: "A"}) {
		t.Error("expected wrong choice A to fail")
	}
	if Evaluate(q, model.Answer{}) {
		t.Error("expected empty submission to fail")
	}
}

func TestEvaluateNumeric(t *testing.T) {
	tests := []struct {
		name      string
		correct   model.Answer
		submitted model.Answer
		want      bool
	}{
		{"exact", model.Answer{Value: fp(3.5)}, model.Answer{Value: fp(3.5)}, true},
		{"within default tolerance", model.Answer{Value: fp(3.5)}, model.Answer{Value: fp(3.5005)}, true},
		{"outside default tolerance", model.Answer{Value: fp(3.5)}, model.Answer{Value: fp(3.51)}, false},
		{"custom tolerance", model.Answer{Value: fp(100), Tolerance: fp(1)}, model.Answer{Value: fp(100.9)}, true},
		{"custom tolerance exceeded", model.Answer{Value: fp(100), Tolerance: fp(1)}, model.Answer{Value: fp(101.5)}, false},
		{"missing value", model.Answer{Value: fp(1)}, model.Answer{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := model.Question{Type: model.TypeNumeric, Correct: tt.correct}
			if got := Evaluate(q, tt.submitted); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateShortAndAlgebra(t *testing.T) {
	for _, typ := range []model.QuestionType{model.TypeShort, model.TypeAlgebra} {
		q := model.Question{Type: typ, Correct: model.Answer{Text: "x + 1"}}

		if !Evaluate(q, model.Answer{Text: "X+1"}) {
			t.Errorf("%s: expected whitespace/case-insensitive match", typ)
		}
		if !Evaluate(q, model.Answer{Text: "  x +\t1 "}) {
			t.Errorf("%s: expected all whitespace stripped", typ)
		}
		if Evaluate(q, model.Answer{Text: "x+2"}) {
			t.Errorf("%s: expected different text to fail", typ)
		}
	}
}

func TestEvaluateUnknownType(t *testing.T) {
	q := model.Question{Type: "essay", Correct: model.Answer{Text: "anything"}}
	if Evaluate(q, model.Answer{Text: "anything"}) {
		t.Error("unknown type must never grade correct")
	}
}

func TestDiagnostics(t *testing.T) {
	q := model.Question{
		Type:           model.TypeMCQ,
		Correct:        model.Answer{Choice: "C"},
		DiagnosticKeys: map[string]string{"A": "forgets-chain-rule", "B": "sign-error"},
	}

	got := Diagnostics(q, model.Answer{Choice: "A"})
	if len(got) != 1 || got[0] != "forgets-chain-rule" {
		t.Errorf("expected [forgets-chain-rule], got %v", got)
	}

	if got := Diagnostics(q, model.Answer{Choice: "C"}); got != nil {
		t.Errorf("expected nil for unmapped choice, got %v", got)
	}

	numeric := model.Question{Type: model.TypeNumeric, DiagnosticKeys: map[string]string{"A": "x"}}
	if got := Diagnostics(numeric, model.Answer{Choice: "A"}); got != nil {
		t.Errorf("expected nil for non-MCQ question, got %v", got)
	}
}
