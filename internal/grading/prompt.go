package grading

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/mdquiz/internal/model"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

const maxAnswerRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

type promptData struct {
	Question  string
	Rubric    string
	Answer    string
	MaxPoints int
}

// BuildPrompt renders the rater prompt for one short answer. A custom
// template may use {question}, {rubric}, {answer} and {max_points}, or the
// same names in double braces; without one the built-in template is used.
// The scoring rules are always prepended.
func BuildPrompt(customTemplate string, q model.Question, answer string) (string, error) {
	data := promptData{
		Question:  q.Text,
		Rubric:    q.Rubric,
		Answer:    sanitizeAnswer(answer),
		MaxPoints: q.MaxPoints(),
	}

	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, "scoring.tmpl", data); err != nil {
		return "", fmt.Errorf("render scoring rules: %w", err)
	}
	buf.WriteString("\n")

	if strings.TrimSpace(customTemplate) == "" {
		if err := prompts.ExecuteTemplate(&buf, "default.tmpl", data); err != nil {
			return "", fmt.Errorf("render default prompt: %w", err)
		}
		return buf.String(), nil
	}

	mp := strconv.Itoa(data.MaxPoints)
	r := strings.NewReplacer(
		"{{question}}", data.Question,
		"{{rubric}}", data.Rubric,
		"{{answer}}", data.Answer,
		"{{max_points}}", mp,
		"{question}", data.Question,
		"{rubric}", data.Rubric,
		"{answer}", data.Answer,
		"{max_points}", mp,
	)
	buf.WriteString(r.Replace(customTemplate))
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
