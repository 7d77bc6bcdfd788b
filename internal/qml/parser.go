// Package qml parses the quiz Markdown dialect into exam specifications.
//
// A document is optional YAML front matter, a free-form preamble, and a
// sequence of "## " question headings. Parsing is all-or-nothing: the first
// grammar violation rejects the document with a *ParseError.
package qml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/mdquiz/internal/model"
)

var (
	headingRe = regexp.MustCompile(`^\s+(.+?)\s+\[([^\]]*)\](?:\s*\(([^)]*)\))?(?:\s*\{(.*)\})?\s*$`)
	optionRe  = regexp.MustCompile(`^[-*+]\s+([A-Za-z])(\*?)\)\s*(.*)$`)
	qidRe     = regexp.MustCompile(`^Q[0-9A-Za-z_-]+$`)
	qnumRe    = regexp.MustCompile(`^Q(\d+)$`)
	llmKVRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)
)

type parser struct {
	toks    []token
	pos     int
	diags   []Diagnostic
	seenIDs map[string]int
	autoSeq int
}

// Parse converts quiz text into an exam specification. The returned error,
// if any, is a *ParseError.
func Parse(text string) (*model.ExamSpec, []Diagnostic, error) {
	spec, diags, perr := parse(text)
	if perr != nil {
		return nil, nil, perr
	}
	return spec, diags, nil
}

func parse(text string) (*model.ExamSpec, []Diagnostic, *ParseError) {
	fmText, body, bodyLine, perr := splitFrontMatter(text)
	if perr != nil {
		return nil, nil, perr
	}
	meta, llm, diags, perr := decodeFrontMatter(fmText, text)
	if perr != nil {
		return nil, nil, perr
	}

	p := &parser{
		toks:    lex(body, bodyLine),
		diags:   diags,
		seenIDs: map[string]int{},
	}

	meta.Preamble = p.preamble()
	if meta.Title == "" {
		meta.Title = titleFrom(meta.Preamble)
	}

	spec := &model.ExamSpec{Meta: meta, LLM: llm}
	for p.pos < len(p.toks) {
		q, perr := p.question()
		if perr != nil {
			return nil, nil, perr
		}
		spec.Questions = append(spec.Questions, q)
	}
	if len(spec.Questions) == 0 {
		return nil, nil, errorAt(ErrNoQuestions, bodyLine, 1, "document has no \"## \" question headings")
	}

	if meta.PassScore != nil && *meta.PassScore > spec.MaxScore() {
		p.warn(1, "pass_score %d exceeds the maximum score %d", *meta.PassScore, spec.MaxScore())
	}
	if meta.MinSubmit > 0 && meta.Duration > 0 && meta.MinSubmit > meta.Duration {
		p.warn(1, "min_submit is longer than duration; only timeouts can submit")
	}
	return spec, p.diags, nil
}

func (p *parser) warn(line int, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{Line: line, Msg: fmt.Sprintf(format, args...)})
}

// preamble consumes everything before the first heading.
func (p *parser) preamble() string {
	var lines []string
	for p.pos < len(p.toks) && p.toks[p.pos].kind != tokHeading {
		lines = append(lines, p.toks[p.pos].raw)
		p.pos++
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func titleFrom(preamble string) string {
	for _, l := range strings.Split(preamble, "\n") {
		if t, ok := strings.CutPrefix(l, "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

type heading struct {
	label  string
	typ    model.QuestionType
	points *int
	attrs  headingAttrs
}

func parseHeading(t token) (heading, *ParseError) {
	var h heading
	m := headingRe.FindStringSubmatchIndex(t.content)
	if m == nil {
		if !strings.Contains(t.content, "[") {
			return h, errorAt(ErrMalformedHeading, t.line, 1, "heading needs a type: ## <label> [single|multiple|short] (points)")
		}
		return h, errorAt(ErrMalformedHeading, t.line, 1, "malformed question heading %q", strings.TrimSpace(t.raw))
	}
	// Columns: "##" is columns 1-2, so content byte i is column i+3.
	group := func(n int) (string, int, bool) {
		if m[2*n] < 0 {
			return "", 0, false
		}
		return t.content[m[2*n]:m[2*n+1]], m[2*n] + 3, true
	}

	h.label, _, _ = group(1)
	typ, typCol, _ := group(2)
	h.typ = model.QuestionType(strings.TrimSpace(typ))
	if !h.typ.Valid() {
		return h, errorAt(ErrUnknownType, t.line, typCol, "unknown question type %q (want single, multiple or short)", typ)
	}
	if pts, col, ok := group(3); ok {
		n, err := strconv.Atoi(strings.TrimSpace(pts))
		if err != nil || n <= 0 {
			return h, errorAt(ErrMissingPoints, t.line, col, "points must be a positive integer, got %q", pts)
		}
		h.points = &n
	}
	if inner, col, ok := group(4); ok {
		attrs, perr := parseHeadingAttrs(inner, t.line, col)
		if perr != nil {
			return h, perr
		}
		h.attrs = attrs
	}
	return h, nil
}

func (p *parser) assignID(label string, line int) (string, *ParseError) {
	var id string
	if qidRe.MatchString(label) {
		id = label
		if m := qnumRe.FindStringSubmatch(label); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > p.autoSeq {
				p.autoSeq = n
			}
		}
	} else {
		p.autoSeq++
		id = fmt.Sprintf("Q%d", p.autoSeq)
		for p.seenIDs[id] != 0 {
			p.autoSeq++
			id = fmt.Sprintf("Q%d", p.autoSeq)
		}
	}
	if first, dup := p.seenIDs[id]; dup {
		return "", errorAt(ErrDuplicateID, line, 4, "duplicate question id %q (first defined on line %d)", id, first)
	}
	p.seenIDs[id] = line
	return id, nil
}

type phase int

const (
	phaseStem phase = iota
	phaseOptions
	phaseBlocks
)

func (p *parser) question() (model.Question, *ParseError) {
	ht := p.toks[p.pos]
	p.pos++
	h, perr := parseHeading(ht)
	if perr != nil {
		return model.Question{}, perr
	}
	id, perr := p.assignID(h.label, ht.line)
	if perr != nil {
		return model.Question{}, perr
	}

	q := model.Question{
		ID:     id,
		Label:  h.label,
		Type:   h.typ,
		Media:  h.attrs.media,
		Traits: h.attrs.traits,
	}

	var stem []string
	ph := phaseStem
	var last *model.Option
	var hasRubric, hasLLM bool

	for p.pos < len(p.toks) && p.toks[p.pos].kind != tokHeading {
		t := p.toks[p.pos]
		p.pos++
		switch t.kind {
		case tokBlank:
			if ph == phaseStem {
				stem = append(stem, "")
			}
			last = nil
		case tokText:
			switch {
			case ph == phaseStem:
				stem = append(stem, t.raw)
			case ph == phaseOptions && last != nil && indented(t.raw):
				last.Text += "\n" + strings.TrimSpace(t.raw)
			case ph == phaseOptions:
				return q, errorAt(ErrUnexpectedText, t.line, 1, "unexpected text after the options of %s", id)
			default:
				return q, errorAt(ErrUnexpectedText, t.line, 1, "unexpected text after a block in %s", id)
			}
		case tokOption:
			if h.typ == model.TypeShort {
				return q, errorAt(ErrOptionsOnShort, t.line, 1, "short question %s cannot have options", id)
			}
			opt, perr := parseOption(t, q.Options)
			if perr != nil {
				return q, perr
			}
			q.Options = append(q.Options, opt)
			last = &q.Options[len(q.Options)-1]
			ph = phaseOptions
		case tokBlockOpen:
			if h.typ.Objective() {
				return q, errorAt(ErrBlockOnChoice, t.line, 1, "[%s] is only allowed on short questions", t.block)
			}
			lines, perr := p.block(t)
			if perr != nil {
				return q, perr
			}
			switch t.block {
			case blockRubric:
				if hasRubric {
					return q, errorAt(ErrDuplicateBlock, t.line, 1, "%s has more than one [rubric] block", id)
				}
				hasRubric = true
				q.Rubric = joinBlock(lines)
			case blockLLM:
				if hasLLM {
					return q, errorAt(ErrDuplicateBlock, t.line, 1, "%s has more than one [llm] block", id)
				}
				hasLLM = true
				cfg, perr := parseLLMBlock(lines)
				if perr != nil {
					return q, perr
				}
				if cfg == nil {
					p.warn(t.line, "empty [llm] block in %s", id)
				}
				q.LLM = cfg
			}
			ph = phaseBlocks
		case tokBlockClose:
			return q, errorAt(ErrStrayBlockClose, t.line, 1, "[/%s] without a matching [%s]", t.block, t.block)
		}
	}

	q.Text = strings.TrimSpace(strings.Join(stem, "\n"))
	if q.Text == "" {
		p.warn(ht.line, "question %s has no text", id)
	}
	if perr := p.finishQuestion(&q, h, ht.line, hasRubric); perr != nil {
		return q, perr
	}
	return q, nil
}

func (p *parser) finishQuestion(q *model.Question, h heading, line int, hasRubric bool) *ParseError {
	if h.attrs.partial != nil {
		if q.Type == model.TypeMultiple {
			q.PartialCredit = *h.attrs.partial
		} else {
			p.warn(line, "partial ignored on %s question %s", q.Type, q.ID)
		}
	}

	if q.Type == model.TypeShort {
		switch {
		case h.attrs.max != nil:
			q.Points = *h.attrs.max
			if h.points != nil && *h.points != *h.attrs.max {
				p.warn(line, "%s: max=%d overrides (%d)", q.ID, *h.attrs.max, *h.points)
			}
		case h.points != nil:
			q.Points = *h.points
		default:
			return errorAt(ErrMissingMaxPoints, line, 1, "short question %s needs max points: (N) or {max=N}", q.ID)
		}
		if !hasRubric {
			p.warn(line, "short question %s has no [rubric]", q.ID)
		}
		return nil
	}

	if h.points == nil {
		return errorAt(ErrMissingPoints, line, 1, "%s question %s needs points: (N)", q.Type, q.ID)
	}
	q.Points = *h.points
	if h.attrs.max != nil {
		p.warn(line, "max ignored on %s question %s", q.Type, q.ID)
	}
	if len(q.Options) == 0 {
		return errorAt(ErrMissingOptions, line, 1, "%s question %s has no options", q.Type, q.ID)
	}
	correct := len(q.CorrectKeys())
	switch {
	case correct == 0:
		return errorAt(ErrNoCorrectOption, line, 1, "%s has no correct option; mark one with X*)", q.ID)
	case q.Type == model.TypeSingle && correct > 1:
		return errorAt(ErrTooManyCorrect, line, 1, "single question %s has %d correct options", q.ID, correct)
	}
	return nil
}

func indented(raw string) bool {
	return strings.HasPrefix(raw, "  ") || strings.HasPrefix(raw, "\t")
}

func parseOption(t token, existing []model.Option) (model.Option, *ParseError) {
	m := optionRe.FindStringSubmatchIndex(t.raw)
	if m == nil {
		return model.Option{}, errorAt(ErrMalformedOption, t.line, 1, "malformed option line")
	}
	key := t.raw[m[2]:m[3]]
	keyCol := m[2] + 1
	if key < "A" || key > "Z" {
		return model.Option{}, errorAt(ErrMalformedOption, t.line, keyCol, "option key %q must be an uppercase letter", key)
	}
	for _, o := range existing {
		if o.Key == key {
			return model.Option{}, errorAt(ErrDuplicateOptionKey, t.line, keyCol, "duplicate option key %q", key)
		}
	}

	opt := model.Option{Key: key, Correct: m[5] > m[4]}
	text := t.raw[m[6]:m[7]]
	body, inner, attrCol, ok := trailingAttrs(text, m[6]+1)
	if ok {
		attrs, perr := parseOptionAttrs(inner, t.line, attrCol)
		if perr != nil {
			return model.Option{}, perr
		}
		opt.Traits = attrs.traits
		opt.Bonus = attrs.points
	}
	opt.Text = strings.TrimSpace(body)
	if opt.Text == "" {
		return model.Option{}, errorAt(ErrMalformedOption, t.line, keyCol, "option %s has no text", key)
	}
	return opt, nil
}

type blockLine struct {
	line int
	text string
}

// block reads lines up to the matching close marker.
func (p *parser) block(open token) ([]blockLine, *ParseError) {
	closer := "[/" + string(open.block) + "]"
	first := strings.TrimSpace(open.content)
	if body, ok := strings.CutSuffix(first, closer); ok {
		return []blockLine{{line: open.line, text: body}}, nil
	}
	var lines []blockLine
	if first != "" {
		lines = append(lines, blockLine{line: open.line, text: first})
	}
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind == tokHeading {
			break
		}
		p.pos++
		if t.kind == tokBlockClose && t.block == open.block {
			return lines, nil
		}
		lines = append(lines, blockLine{line: t.line, text: t.raw})
	}
	return nil, errorAt(ErrUnclosedBlock, open.line, 1, "[%s] is never closed with %s", open.block, closer)
}

func joinBlock(lines []blockLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// parseLLMBlock reads key=value settings. A block with any other kind of
// non-blank line is taken whole as the prompt template.
func parseLLMBlock(lines []blockLine) (*model.LLMConfig, *ParseError) {
	kv := true
	nonBlank := 0
	for _, l := range lines {
		s := strings.TrimSpace(l.text)
		if s == "" {
			continue
		}
		nonBlank++
		if !llmKVRe.MatchString(s) {
			kv = false
		}
	}
	if nonBlank == 0 {
		return nil, nil
	}
	if !kv {
		return &model.LLMConfig{PromptTemplate: joinBlock(lines)}, nil
	}

	cfg := &model.LLMConfig{}
	for _, l := range lines {
		s := strings.TrimSpace(l.text)
		if s == "" {
			continue
		}
		m := llmKVRe.FindStringSubmatch(s)
		key, val := m[1], strings.TrimSpace(m[2])
		switch key {
		case "model":
			cfg.Model = val
		case "temperature":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil || f < 0 || f > 2 {
				return nil, errorAt(ErrMalformedLLM, l.line, 1, "temperature must be a number between 0 and 2, got %q", val)
			}
			cfg.Temperature = &f
		case "prompt_template":
			cfg.PromptTemplate = val
		default:
			return nil, errorAt(ErrMalformedLLM, l.line, 1, "unknown [llm] key %q (want model, temperature or prompt_template)", key)
		}
	}
	return cfg, nil
}
