package qml

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterhellberg/duration"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/mdquiz/internal/model"
)

type frontMatter struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Description  string            `yaml:"description"`
	Duration     seconds           `yaml:"duration"`
	MinSubmit    seconds           `yaml:"min_submit"`
	PassScore    *int              `yaml:"pass_score"`
	LLM          *model.LLMConfig  `yaml:"llm"`
	Traits       map[string]string `yaml:"traits"`
	WelcomeImage string            `yaml:"welcome_image"`
	EndImage     string            `yaml:"end_image"`
	Extra        map[string]any    `yaml:",inline"`
}

// seconds decodes any duration notation accepted in front matter.
type seconds int64

func (s *seconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	n, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = seconds(n)
	return nil
}

var (
	clockRe  = regexp.MustCompile(`^(\d+):(\d{1,2})(?::(\d{1,2}))?$`)
	digitsRe = regexp.MustCompile(`^\d+$`)
	examIDRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	yamlLine = regexp.MustCompile(`line (\d+)`)
)

// MaxDuration is the longest duration accepted anywhere a duration is
// parsed, in seconds.
const MaxDuration = 366 * 24 * 60 * 60

// ParseDuration converts a duration in one of the supported notations to
// whole seconds: integer seconds, HH:MM:SS or MM:SS, ISO-8601 (PT1H30M) or
// a Go duration string (90m). Durations above MaxDuration are rejected.
func ParseDuration(s string) (int64, error) {
	n, err := parseSeconds(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxDuration {
		return 0, fmt.Errorf("duration %q is out of range (at most %d seconds)", s, MaxDuration)
	}
	return n, nil
}

func parseSeconds(s string) (int64, error) {
	switch {
	case s == "":
		return 0, nil
	case digitsRe.MatchString(s):
		return strconv.ParseInt(s, 10, 64)
	case clockRe.MatchString(s):
		m := clockRe.FindStringSubmatch(s)
		a, _ := strconv.ParseInt(m[1], 10, 64)
		b, _ := strconv.ParseInt(m[2], 10, 64)
		if a > MaxDuration/60 {
			return 0, fmt.Errorf("duration %q is out of range", s)
		}
		if m[3] == "" {
			if b >= 60 {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return a*60 + b, nil
		}
		c, _ := strconv.ParseInt(m[3], 10, 64)
		if b >= 60 || c >= 60 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return a*3600 + b*60 + c, nil
	case strings.HasPrefix(s, "P"):
		d, err := duration.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return int64(d / time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return int64(d / time.Second), nil
}

// splitFrontMatter separates an optional leading YAML block from the body.
// bodyLine is the 1-based line number where the body starts.
func splitFrontMatter(text string) (yamlText, body string, bodyLine int, perr *ParseError) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\r") != "---" {
		return "", text, 1, nil
	}
	for i := 1; i < len(lines); i++ {
		l := strings.TrimRight(lines[i], " \t\r")
		if l == "---" || l == "..." {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), i + 2, nil
		}
	}
	return "", "", 0, errorAt(ErrFrontMatterUnclosed, 1, 1, "front matter opened with --- is never closed")
}

// decodeFrontMatter fills meta from the YAML block. Line numbers in errors
// are shifted by one for the opening --- line.
func decodeFrontMatter(src string, text string) (model.ExamMeta, *model.LLMConfig, []Diagnostic, *ParseError) {
	var fm frontMatter
	var meta model.ExamMeta
	var diags []Diagnostic
	if strings.TrimSpace(src) != "" {
		if err := yaml.Unmarshal([]byte(src), &fm); err != nil {
			line := 1
			if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
				n, _ := strconv.Atoi(m[1])
				line = n + 1
			}
			kind := ErrFrontMatterInvalid
			var te *yaml.TypeError
			if errors.As(err, &te) || strings.Contains(err.Error(), "duration") {
				kind = ErrInvalidValue
			}
			return meta, nil, nil, errorAt(kind, line, 1, "front matter: %s", strings.TrimPrefix(err.Error(), "yaml: "))
		}
	}

	extra := make([]string, 0, len(fm.Extra))
	for k := range fm.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		diags = append(diags, Diagnostic{Line: 1, Msg: fmt.Sprintf("unknown front matter key %q ignored", k)})
	}

	if fm.ID == "" {
		sum := sha256.Sum256([]byte(text))
		fm.ID = "exam-" + hex.EncodeToString(sum[:])[:8]
	} else if !examIDRe.MatchString(fm.ID) {
		return meta, nil, nil, errorAt(ErrInvalidValue, 2, 1, "exam id %q may only contain letters, digits, '.', '_' and '-'", fm.ID)
	}
	if fm.PassScore != nil && *fm.PassScore < 0 {
		return meta, nil, nil, errorAt(ErrInvalidValue, 2, 1, "pass_score must not be negative")
	}
	if fm.LLM != nil {
		if t := fm.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
			return meta, nil, nil, errorAt(ErrInvalidValue, 2, 1, "llm.temperature must be between 0 and 2")
		}
		if fm.LLM.IsZero() {
			fm.LLM = nil
		}
	}

	meta = model.ExamMeta{
		ID:           fm.ID,
		Title:        strings.TrimSpace(fm.Title),
		Description:  strings.TrimSpace(fm.Description),
		Duration:     int64(fm.Duration),
		MinSubmit:    int64(fm.MinSubmit),
		PassScore:    fm.PassScore,
		TraitLabels:  fm.Traits,
		WelcomeImage: fm.WelcomeImage,
		EndImage:     fm.EndImage,
	}
	return meta, fm.LLM, diags, nil
}
