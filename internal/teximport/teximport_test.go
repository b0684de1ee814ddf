package teximport

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/practice-lms/practice/internal/model"
)

const multiQuestionTex = `%% type: mcq
%% tags: Statistics, Probability
%% answer: C

\begin{document}
Shared table for all problems.

\begin{enumerate}[label=\textbf{A\arabic*}]
\item What is $2+2$?
\begin{enumerate}[label=(\Alph*)]
\item $3$ \item $4$ \item $5$ \item $6$
\end{enumerate}
\item \answer{B} Compute $\frac{d}{dx} x^2$.
\begin{enumerate}[label=(\Alph*)]
\item $x$
\item $2x$
\end{enumerate}
\item An open-ended question with no choices.
\end{enumerate}
\end{document}
`

func TestParseMultiQuestionEnumerate(t *testing.T) {
	qs := Parse(multiQuestionTex)
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}

	q0 := qs[0]
	if q0.Type != model.TypeMCQ {
		t.Errorf("expected type mcq, got %q", q0.Type)
	}
	if len(q0.Tags) != 2 || q0.Tags[0] != "Statistics" || q0.Tags[1] != "Probability" {
		t.Errorf("unexpected tags: %v", q0.Tags)
	}
	// Header answer applies when no inline marker is present.
	if q0.Answer != "C" {
		t.Errorf("expected answer C, got %q", q0.Answer)
	}
	if len(q0.Choices) != 4 {
		t.Fatalf("expected 4 choices, got %d: %v", len(q0.Choices), q0.Choices)
	}
	if q0.Choices["A"] != "$3$" || q0.Choices["D"] != "$6$" {
		t.Errorf("unexpected choices: %v", q0.Choices)
	}
	// Preamble before the enumerate is prepended to every stem.
	if want := "Shared table for all problems."; !contains(q0.Stem, want) {
		t.Errorf("stem missing preamble %q: %q", want, q0.Stem)
	}
	if !contains(q0.Stem, "What is $2+2$?") {
		t.Errorf("stem missing question text: %q", q0.Stem)
	}

	// Inline \answer{B} wins over the header answer and is stripped.
	q1 := qs[1]
	if q1.Answer != "B" {
		t.Errorf("expected inline answer B, got %q", q1.Answer)
	}
	if contains(q1.Stem, `\answer`) {
		t.Errorf("answer marker not stripped from stem: %q", q1.Stem)
	}
	if len(q1.Choices) != 2 {
		t.Errorf("expected 2 choices, got %v", q1.Choices)
	}

	// Item without nested enumerate has no choices.
	q2 := qs[2]
	if q2.Choices != nil {
		t.Errorf("expected no choices, got %v", q2.Choices)
	}
	if !contains(q2.Stem, "open-ended") {
		t.Errorf("unexpected stem: %q", q2.Stem)
	}
}

const choiceMacroTex = `%% tags: Algebra

Solve $x^2 = 4$ for positive $x$. \answer{B}
\choice[A]{$x = 1$}
\choice[B]{$x = 2$}
\choice[C]{$x = 4$}
`

func TestParseChoiceMacros(t *testing.T) {
	qs := Parse(choiceMacroTex)
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
	q := qs[0]
	if q.Type != model.TypeMCQ {
		t.Errorf("expected default type mcq, got %q", q.Type)
	}
	if len(q.Choices) != 3 || q.Choices["B"] != "$x = 2$" {
		t.Errorf("unexpected choices: %v", q.Choices)
	}
	if q.Answer != "B" {
		t.Errorf("expected answer B, got %q", q.Answer)
	}
	if len(q.Tags) != 1 || q.Tags[0] != "Algebra" {
		t.Errorf("unexpected tags: %v", q.Tags)
	}
}

func TestParseDefaults(t *testing.T) {
	qs := Parse("Just a bare question with no markup.")
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
	q := qs[0]
	if q.Answer != "A" {
		t.Errorf("expected default answer A, got %q", q.Answer)
	}
	if q.Choices != nil {
		t.Errorf("expected no choices, got %v", q.Choices)
	}
	if q.Stem != "Just a bare question with no markup." {
		t.Errorf("unexpected stem: %q", q.Stem)
	}
}

func TestParseMultibyteAnswerKey(t *testing.T) {
	tex := "%% answer: б\n\nВыберите вариант.\n\\choice[A]{да}\n\\choice[B]{нет}\n"
	qs := Parse(tex)
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
	got := qs[0].Answer
	if !utf8.ValidString(got) {
		t.Fatalf("answer is not valid UTF-8: %q", got)
	}
	if got != "Б" {
		t.Errorf("expected answer Б, got %q", got)
	}
}

func TestParseNonMCQAnswers(t *testing.T) {
	tests := []struct {
		name string
		tex  string
		typ  model.QuestionType
		want string
	}{
		{
			name: "numeric header answer kept verbatim",
			tex:  "%% type: numeric\n%% answer: 3.14\n\nEstimate $\\pi$ to two decimals.",
			typ:  model.TypeNumeric,
			want: "3.14",
		},
		{
			name: "short inline answer wins over header",
			tex:  "%% type: short\n%% answer: wrong\n\nName the capital of France. \\answer{Paris}",
			typ:  model.TypeShort,
			want: "Paris",
		},
		{
			name: "algebra answer not letter-normalized",
			tex:  "%% type: algebra\n%% answer: 2*x + 1\n\nDifferentiate $x^2 + x$.",
			typ:  model.TypeAlgebra,
			want: "2*x + 1",
		},
		{
			name: "missing answer stays empty for non-choice types",
			tex:  "%% type: numeric\n\nNo answer given.",
			typ:  model.TypeNumeric,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs := Parse(tt.tex)
			if len(qs) != 1 {
				t.Fatalf("expected 1 question, got %d", len(qs))
			}
			if qs[0].Type != tt.typ {
				t.Errorf("type = %q, want %q", qs[0].Type, tt.typ)
			}
			if qs[0].Answer != tt.want {
				t.Errorf("answer = %q, want %q", qs[0].Answer, tt.want)
			}
		})
	}
}

func TestParseUnclosedEnumerate(t *testing.T) {
	tex := `\begin{enumerate}
\item First question.
\item Second question.`
	qs := Parse(tex)
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions from unclosed enumerate, got %d", len(qs))
	}
	if qs[1].Stem != "Second question." {
		t.Errorf("unexpected second stem: %q", qs[1].Stem)
	}
}

func TestParseNestedDepthTracking(t *testing.T) {
	// The nested enumerate's \item lines must not be treated as questions.
	tex := `\begin{enumerate}
\item Outer one.
\begin{enumerate}
\item inner a
\item inner b
\end{enumerate}
\item Outer two.
\end{enumerate}`
	qs := Parse(tex)
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if len(qs[0].Choices) != 2 {
		t.Errorf("expected 2 choices on first question, got %v", qs[0].Choices)
	}
	if qs[1].Stem != "Outer two." {
		t.Errorf("unexpected second stem: %q", qs[1].Stem)
	}
}

func TestTagsFromFilename(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"Ch4_problems.tex", []string{"Ch4", "problems"}},
		{"/some/dir/Algebra-Review.tex", []string{"Algebra", "Review"}},
		{"plain.tex", []string{"plain"}},
	}
	for _, tt := range tests {
		got := TagsFromFilename(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("TagsFromFilename(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("TagsFromFilename(%q) = %v, want %v", tt.path, got, tt.want)
				break
			}
		}
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
