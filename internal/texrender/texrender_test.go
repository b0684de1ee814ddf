package texrender

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/practice-lms/practice/internal/model"
)

func TestCheckForbidden(t *testing.T) {
	tests := []struct {
		name string
		tex  string
		want bool
	}{
		{"plain math", `$x^2 + 1$`, false},
		{"write18", `\write18{rm -rf /}`, true},
		{"openout", `\openout3=evil.txt`, true},
		{"input file", `\input{/etc/passwd}`, true},
		{"shellesc", `\usepackage[enable]{shellesc}`, true},
		{"harmless input word", `input values below`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckForbidden(tt.tex)
			if got := err != nil; got != tt.want {
				t.Errorf("CheckForbidden(%q) err=%v, want forbidden=%v", tt.tex, err, tt.want)
			}
		})
	}
}

func TestWrapSnippet(t *testing.T) {
	wrapped := WrapSnippet(`$x=1$`)
	if !strings.Contains(wrapped, `\documentclass{standalone}`) {
		t.Errorf("snippet not wrapped: %q", wrapped)
	}
	if !strings.Contains(wrapped, `$x=1$`) {
		t.Errorf("snippet body missing: %q", wrapped)
	}

	full := "\\documentclass{article}\n\\begin{document}hi\\end{document}"
	if got := WrapSnippet(full); got != full {
		t.Errorf("complete document was rewrapped")
	}
}

func TestQuestionDocument(t *testing.T) {
	q := &model.Question{
		Type: model.TypeMCQ,
		Stem: `What is $2+2$?`,
		Choices: map[string]string{
			"B": "$5$",
			"A": "$4$",
		},
	}
	doc := QuestionDocument(q)
	if !strings.Contains(doc, `\begin{varwidth}`) {
		t.Errorf("missing varwidth wrapper")
	}
	if !strings.Contains(doc, `What is $2+2$?`) {
		t.Errorf("missing stem")
	}
	// Choices come out in key order regardless of map iteration.
	aIdx := strings.Index(doc, `\item $4$`)
	bIdx := strings.Index(doc, `\item $5$`)
	if aIdx < 0 || bIdx < 0 || aIdx > bIdx {
		t.Errorf("choices missing or out of order:\n%s", doc)
	}
}

func TestPracticeDocument(t *testing.T) {
	qs := []model.Question{
		{Stem: `Solve $x+1=2$.`},
		{Stem: `Pick one.`, Choices: map[string]string{"A": "yes", "B": "no"}},
	}
	doc := PracticeDocument("S000042", qs)
	if !strings.Contains(doc, "Practice sheet for S000042") {
		t.Errorf("missing title")
	}
	if !strings.Contains(doc, `Solve $x+1=2$.`) {
		t.Errorf("missing first question")
	}
	if !strings.Contains(doc, `label=(\Alph*)`) {
		t.Errorf("missing choice list")
	}
}

func TestEscapeText(t *testing.T) {
	got := escapeText("50% of $10 & more_stuff")
	for _, want := range []string{`\%`, `\$`, `\&`, `\_`} {
		if !strings.Contains(got, want) {
			t.Errorf("escapeText missing %q in %q", want, got)
		}
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache := &Cache{Dir: t.TempDir()}
	tex := `$e^{i\pi} = -1$`

	if pdf := cache.GetPDF(tex); pdf != nil {
		t.Fatalf("empty cache returned data")
	}
	if err := cache.PutPDF(tex, []byte("%PDF-fake")); err != nil {
		t.Fatal(err)
	}
	if got := cache.GetPDF(tex); string(got) != "%PDF-fake" {
		t.Errorf("GetPDF = %q", got)
	}

	// Different snippets get different keys.
	if cache.Key(tex) == cache.Key(tex+" ") {
		t.Errorf("distinct snippets share a cache key")
	}

	if _, ok := cache.GetImage(tex); ok {
		t.Fatalf("image reported cached without files")
	}
	svgPath := filepath.Join(cache.Dir, cache.Key(tex)+".svg")
	if err := os.WriteFile(svgPath, []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, ok := cache.GetImage(tex)
	if !ok || res.Format != "svg" || res.Path != svgPath {
		t.Errorf("GetImage = %+v, %v", res, ok)
	}
}

func TestMoveAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.svg")
	dest := filepath.Join(dir, "out", "dest.svg")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := moveAtomic(src, dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "payload" {
		t.Errorf("dest = %q, %v", data, err)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}
