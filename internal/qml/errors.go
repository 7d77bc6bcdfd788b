package qml

import "fmt"

// ErrorKind identifies which grammar production rejected the input.
type ErrorKind string

const (
	ErrFrontMatterUnclosed ErrorKind = "front_matter_unclosed"
	ErrFrontMatterInvalid  ErrorKind = "front_matter_invalid"
	ErrInvalidValue        ErrorKind = "invalid_value"
	ErrMalformedHeading    ErrorKind = "malformed_heading"
	ErrUnknownType         ErrorKind = "unknown_type"
	ErrDuplicateID         ErrorKind = "duplicate_id"
	ErrMissingPoints       ErrorKind = "missing_points"
	ErrMissingMaxPoints    ErrorKind = "missing_max_points"
	ErrMalformedOption     ErrorKind = "malformed_option"
	ErrDuplicateOptionKey  ErrorKind = "duplicate_option_key"
	ErrMissingOptions      ErrorKind = "missing_options"
	ErrNoCorrectOption     ErrorKind = "no_correct_option"
	ErrTooManyCorrect      ErrorKind = "too_many_correct"
	ErrOptionsOnShort      ErrorKind = "options_on_short"
	ErrBlockOnChoice       ErrorKind = "block_on_choice"
	ErrDuplicateBlock      ErrorKind = "duplicate_block"
	ErrUnclosedBlock       ErrorKind = "unclosed_block"
	ErrStrayBlockClose     ErrorKind = "stray_block_close"
	ErrMalformedAttr       ErrorKind = "malformed_attribute"
	ErrMalformedLLM        ErrorKind = "malformed_llm_block"
	ErrUnexpectedText      ErrorKind = "unexpected_text"
	ErrNoQuestions         ErrorKind = "no_questions"
)

// ParseError rejects the whole input. Line and Column are 1-based.
type ParseError struct {
	Kind   ErrorKind `json:"kind"`
	Line   int       `json:"line"`
	Column int       `json:"column"`
	Msg    string    `json:"message"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

func errorAt(kind ErrorKind, line, col int, format string, args ...any) *ParseError {
	if col < 1 {
		col = 1
	}
	return &ParseError{Kind: kind, Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// Diagnostic is a non-fatal remark about the input.
type Diagnostic struct {
	Line int    `json:"line"`
	Msg  string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line, d.Msg)
}
