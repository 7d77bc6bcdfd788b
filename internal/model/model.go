package model

import (
	"fmt"
	"sort"
)

// QuestionType is the kind of a question.
type QuestionType string

const (
	TypeSingle   QuestionType = "single"
	TypeMultiple QuestionType = "multiple"
	TypeShort    QuestionType = "short"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeSingle, TypeMultiple, TypeShort:
		return true
	}
	return false
}

// Objective reports whether questions of this type are scored without a rater.
func (t QuestionType) Objective() bool {
	return t == TypeSingle || t == TypeMultiple
}

// Traits maps an open-vocabulary trait dimension to a signed delta.
type Traits map[string]int

// LLMConfig holds rater settings. Empty fields mean "not set".
type LLMConfig struct {
	Model          string   `json:"model,omitempty" yaml:"model"`
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature"`
	PromptTemplate string   `json:"prompt_template,omitempty" yaml:"prompt_template"`
}

// IsZero reports whether no field is set.
func (c *LLMConfig) IsZero() bool {
	return c == nil || (c.Model == "" && c.Temperature == nil && c.PromptTemplate == "")
}

// Merge returns global overlaid with override, key by key. A field missing
// from override falls back to global.
func (c *LLMConfig) Merge(override *LLMConfig) LLMConfig {
	var out LLMConfig
	if c != nil {
		out = *c
	}
	if override == nil {
		return out
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != nil {
		t := *override.Temperature
		out.Temperature = &t
	}
	if override.PromptTemplate != "" {
		out.PromptTemplate = override.PromptTemplate
	}
	return out
}

// Option is one choice of a single or multiple question.
type Option struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	Traits  Traits `json:"traits,omitempty"`
	Bonus   *int   `json:"bonus,omitempty"`
}

// Question is one item of an exam.
type Question struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	Type          QuestionType `json:"type"`
	Points        int          `json:"points"`
	Text          string       `json:"text"`
	Media         string       `json:"media,omitempty"`
	Traits        Traits       `json:"traits,omitempty"`
	Options       []Option     `json:"options,omitempty"`
	PartialCredit bool         `json:"partial_credit,omitempty"`
	Rubric        string       `json:"rubric,omitempty"`
	LLM           *LLMConfig   `json:"llm_override,omitempty"`
}

// MaxPoints is the highest score the question can award.
func (q Question) MaxPoints() int {
	return q.Points
}

// CorrectKeys returns the keys of correct options in declaration order.
func (q Question) CorrectKeys() []string {
	var keys []string
	for _, o := range q.Options {
		if o.Correct {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// Option returns the option with the given key.
func (q Question) Option(key string) (Option, bool) {
	for _, o := range q.Options {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// ExamMeta is the descriptive part of an exam.
type ExamMeta struct {
	ID           string            `json:"id"`
	Version      int               `json:"version,omitempty"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Preamble     string            `json:"preamble,omitempty"`
	Duration     int64             `json:"duration_seconds,omitempty"`
	MinSubmit    int64             `json:"min_submit_seconds,omitempty"`
	PassScore    *int              `json:"pass_score,omitempty"`
	TraitLabels  map[string]string `json:"traits,omitempty"`
	WelcomeImage string            `json:"welcome_image,omitempty"`
	EndImage     string            `json:"end_image,omitempty"`
}

// ExamSpec is the full, answer-revealing form of a published quiz.
type ExamSpec struct {
	Meta      ExamMeta   `json:"meta"`
	LLM       *LLMConfig `json:"llm,omitempty"`
	Questions []Question `json:"questions"`
}

// Question returns the question with the given id.
func (s *ExamSpec) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// ResolvedLLM merges the exam-wide LLM config with a question override.
func (s *ExamSpec) ResolvedLLM(q Question) LLMConfig {
	return s.LLM.Merge(q.LLM)
}

// MaxScore is the sum of every question's maximum points.
func (s *ExamSpec) MaxScore() int {
	total := 0
	for _, q := range s.Questions {
		total += q.MaxPoints()
	}
	return total
}

// PublicOption is an option as shown to candidates.
type PublicOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// PublicQuestion is a question with every answer-revealing field removed.
type PublicQuestion struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Type          QuestionType   `json:"type"`
	Points        int            `json:"points"`
	Text          string         `json:"text"`
	Media         string         `json:"media,omitempty"`
	Options       []PublicOption `json:"options,omitempty"`
	PartialCredit bool           `json:"partial_credit,omitempty"`
}

// PublicSpec is the redacted projection of an ExamSpec.
type PublicSpec struct {
	Meta      ExamMeta         `json:"meta"`
	Questions []PublicQuestion `json:"questions"`
}

// SortedTraitKeys returns trait keys in lexical order.
func SortedTraitKeys(t Traits) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a question type for logs and error messages.
func (q Question) String() string {
	return fmt.Sprintf("%s[%s]", q.ID, q.Type)
}
