package qml

import (
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokBlank tokenKind = iota
	tokText
	tokHeading
	tokOption
	tokBlockOpen
	tokBlockClose
)

type blockName string

const (
	blockRubric blockName = "rubric"
	blockLLM    blockName = "llm"
)

// token is one classified source line. Lines inside a fenced code block
// are always tokText.
type token struct {
	kind  tokenKind
	line  int
	raw   string
	block blockName
	// content is what follows the marker for headings and block openers.
	content string
}

var (
	blockOpenRe  = regexp.MustCompile(`^\s*\[(rubric|llm)\]\s*(.*)$`)
	blockCloseRe = regexp.MustCompile(`^\s*\[/(rubric|llm)\]\s*$`)
	optionLineRe = regexp.MustCompile(`^[-*+]\s+[A-Za-z]\*?\)`)
)

// lex splits body into tokens. firstLine is the 1-based line number of the
// first line of body in the original document.
func lex(body string, firstLine int) []token {
	lines := strings.Split(body, "\n")
	toks := make([]token, 0, len(lines))
	var fence string
	for i, raw := range lines {
		raw = strings.TrimRight(raw, "\r")
		t := token{line: firstLine + i, raw: raw, kind: tokText}
		trimmed := strings.TrimSpace(raw)

		if fence != "" {
			if strings.HasPrefix(trimmed, fence) && strings.Trim(trimmed, fence[:1]) == "" {
				fence = ""
			}
			toks = append(toks, t)
			continue
		}
		if f := fenceMarker(trimmed); f != "" {
			fence = f
			toks = append(toks, t)
			continue
		}

		switch {
		case trimmed == "":
			t.kind = tokBlank
		case strings.HasPrefix(raw, "## ") || raw == "##":
			t.kind = tokHeading
			t.content = strings.TrimPrefix(raw, "##")
		case optionLineRe.MatchString(raw):
			t.kind = tokOption
		default:
			if m := blockCloseRe.FindStringSubmatch(raw); m != nil {
				t.kind = tokBlockClose
				t.block = blockName(m[1])
			} else if m := blockOpenRe.FindStringSubmatch(raw); m != nil {
				t.kind = tokBlockOpen
				t.block = blockName(m[1])
				t.content = m[2]
			}
		}
		toks = append(toks, t)
	}
	return toks
}

// fenceMarker returns the opening run of a code fence, or "".
func fenceMarker(trimmed string) string {
	for _, c := range []string{"`", "~"} {
		if strings.HasPrefix(trimmed, c+c+c) {
			n := len(trimmed) - len(strings.TrimLeft(trimmed, c))
			return strings.Repeat(c, n)
		}
	}
	return ""
}
