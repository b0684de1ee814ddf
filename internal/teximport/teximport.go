// Package teximport extracts question records from LaTeX source files.
//
// Two layouts are supported: a top-level enumerate whose items each hold
// one question (with an optional nested enumerate carrying the lettered
// choices), and a single-question body using \choice[A]{...} macros.
// Files may begin with "%% key: value" header lines for type, tags, and
// the answer key.
package teximport

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/practice-lms/practice/internal/model"
)

// ParsedQuestion is one question extracted from a LaTeX file.
type ParsedQuestion struct {
	Type    model.QuestionType
	Stem    string
	Choices map[string]string
	Answer  string
	Tags    []string
}

var (
	headerRe      = regexp.MustCompile(`^%%\s*(\w+)\s*:\s*(.+)$`)
	choiceMacroRe = regexp.MustCompile(`(?s)\\choice\[([A-Z])\]\{(.+?)\}`)
	answerRe      = regexp.MustCompile(`\\answer\{([A-Z])\}`)
	documentRe    = regexp.MustCompile(`(?s)\\begin\{document\}(.*)\\end\{document\}`)
	openEnumRe    = regexp.MustCompile(`\\begin\{enumerate\}(?:\[[^\]]*\])?`)
	enumTokenRe   = regexp.MustCompile(`(\\begin\{enumerate\}(?:\[[^\]]*\])?)|(\\end\{enumerate\})|(\\item\b)`)
	itemSplitRe   = regexp.MustCompile(`\\item\b`)
	fileStemRe    = regexp.MustCompile(`[^\w]+`)
)

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ParseFile reads and parses one .tex file.
func ParseFile(path string) ([]ParsedQuestion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data)), nil
}

// Parse extracts questions from LaTeX source.
func Parse(text string) []ParsedQuestion {
	meta, body := splitHeaders(text)
	body = documentBody(body)

	var tags []string
	if raw := strings.Trim(strings.TrimSpace(meta["tags"]), "[]"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	qtype := model.QuestionType(strings.ToLower(meta["type"]))
	if qtype == "" {
		qtype = model.TypeMCQ
	}

	// Layout A: one top-level enumerate, one question per item. Any text
	// before the enumerate (shared tables, setup) is prepended to every stem.
	preamble, items := splitTopLevelItems(body)
	if len(items) > 0 {
		pre := strings.TrimSpace(preamble)
		out := make([]ParsedQuestion, 0, len(items))
		for _, it := range items {
			stem, choices, inlineAns := extractStemAndChoices(it)
			if pre != "" {
				stem = strings.TrimSpace(pre + "\n\n" + stem)
			}
			out = append(out, ParsedQuestion{
				Type:    qtype,
				Stem:    stem,
				Choices: choices,
				Answer:  answerFor(qtype, inlineAns, meta["answer"]),
				Tags:    tags,
			})
		}
		return out
	}

	// Layout B: single question, \choice macros.
	choices := map[string]string{}
	for _, m := range choiceMacroRe.FindAllStringSubmatch(body, -1) {
		choices[m[1]] = strings.TrimSpace(m[2])
	}
	stem, inlineAns := stripAnswerMarker(body)
	if len(choices) == 0 {
		choices = nil
	}
	return []ParsedQuestion{{
		Type:    qtype,
		Stem:    strings.TrimSpace(stem),
		Choices: choices,
		Answer:  answerFor(qtype, inlineAns, meta["answer"]),
		Tags:    tags,
	}}
}

// TagsFromFilename infers tags from a file name, e.g. "Ch4_problems.tex"
// yields ["Ch4", "problems"].
func TagsFromFilename(path string) []string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var tags []string
	for _, b := range fileStemRe.Split(stem, -1) {
		if b != "" {
			tags = append(tags, b)
		}
	}
	return tags
}

func splitHeaders(text string) (map[string]string, string) {
	meta := map[string]string{}
	lines := strings.Split(text, "\n")
	bodyStart := len(lines)
	for i, line := range lines {
		m := headerRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			bodyStart = i
			break
		}
		meta[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	return meta, strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
}

// documentBody keeps only the content between \begin{document} and
// \end{document} when the source is a full LaTeX document.
func documentBody(text string) string {
	if m := documentRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// splitTopLevelItems finds the first top-level enumerate and splits its
// direct \item's, tracking nesting depth so nested enumerates stay inside
// their parent item. Returns the text before the enumerate and the items.
func splitTopLevelItems(body string) (string, []string) {
	open := openEnumRe.FindStringIndex(body)
	if open == nil {
		return body, nil
	}
	preamble := body[:open[0]]

	depth := 0
	var items []string
	currentStart := -1
	closed := false

	for _, loc := range enumTokenRe.FindAllStringSubmatchIndex(body[open[0]:], -1) {
		abs := func(i int) int { return open[0] + i }
		switch {
		case loc[2] >= 0: // \begin{enumerate}
			depth++
		case loc[4] >= 0: // \end{enumerate}
			if depth == 1 {
				if currentStart >= 0 {
					items = append(items, body[currentStart:abs(loc[0])])
					currentStart = -1
				}
				closed = true
			}
			depth--
		case loc[6] >= 0: // \item
			if depth == 1 {
				if currentStart >= 0 {
					items = append(items, body[currentStart:abs(loc[0])])
				}
				currentStart = abs(loc[1])
			}
		}
		if closed {
			break
		}
	}
	// File ended without closing the enumerate.
	if currentStart >= 0 && !closed {
		items = append(items, body[currentStart:])
	}

	trimmed := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			trimmed = append(trimmed, it)
		}
	}
	return preamble, trimmed
}

// extractStemAndChoices splits one item into its stem (text before the
// first nested enumerate), lettered choices from that enumerate, and an
// optional inline \answer{X} marker.
func extractStemAndChoices(item string) (string, map[string]string, string) {
	open := openEnumRe.FindStringIndex(item)
	if open == nil {
		stem, ans := stripAnswerMarker(item)
		return strings.TrimSpace(stem), nil, ans
	}

	stem := item[:open[0]]
	rest := item[open[0]:]

	depth := 0
	blockStart, blockEnd := -1, -1
	for _, loc := range enumTokenRe.FindAllStringSubmatchIndex(rest, -1) {
		switch {
		case loc[2] >= 0:
			depth++
			if depth == 1 {
				blockStart = loc[1]
			}
		case loc[4] >= 0:
			if depth == 1 {
				blockEnd = loc[0]
			}
			depth--
		}
		if blockEnd >= 0 {
			break
		}
	}

	var choices map[string]string
	if blockStart >= 0 && blockEnd >= 0 {
		choices = parseChoices(rest[blockStart:blockEnd])
	}
	stem, ans := stripAnswerMarker(stem)
	return strings.TrimSpace(stem), choices, ans
}

// parseChoices splits a choices block on \item and letters the parts in
// order. Choices are often written on one line, so \item is not anchored
// at line start.
func parseChoices(block string) map[string]string {
	parts := itemSplitRe.Split(block, -1)
	out := map[string]string{}
	i := 0
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(letters) {
			out[string(letters[i])] = p
		} else {
			out[strconv.Itoa(i+1)] = p
		}
		i++
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stripAnswerMarker removes an inline \answer{C} and returns the key.
func stripAnswerMarker(s string) (string, string) {
	m := answerRe.FindStringSubmatchIndex(s)
	if m == nil {
		return s, ""
	}
	ans := s[m[2]:m[3]]
	return s[:m[0]] + s[m[1]:], ans
}

// answerFor picks the inline answer over the header answer. For choice
// questions the result is normalized to a single uppercase letter,
// defaulting to "A"; other types keep the raw answer text.
func answerFor(qtype model.QuestionType, inline, header string) string {
	ans := strings.TrimSpace(inline)
	if ans == "" {
		ans = strings.TrimSpace(header)
	}
	if qtype != model.TypeMCQ {
		return ans
	}
	if ans == "" {
		ans = "A"
	}
	r, _ := utf8.DecodeRuneInString(strings.ToUpper(ans))
	return string(r)
}
