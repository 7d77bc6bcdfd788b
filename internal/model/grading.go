package model

import "time"

// QuestionResult is the score of one question.
type QuestionResult struct {
	QuestionID  string       `json:"question_id"`
	Type        QuestionType `json:"type"`
	Score       int          `json:"score"`
	MaxPoints   int          `json:"max_points"`
	Reason      string       `json:"reason,omitempty"`
	NeedsReview bool         `json:"needs_review,omitempty"`
}

// RaterExchange records one short question's conversation with the rater.
type RaterExchange struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Model    string `json:"model,omitempty"`
}

// Profile aggregates trait deltas and option bonuses earned by the answers.
type Profile struct {
	Traits Traits `json:"traits,omitempty"`
	Bonus  int    `json:"bonus"`
}

// GradingResult is the outcome of grading one assignment.
type GradingResult struct {
	PerQuestion     []QuestionResult         `json:"per_question"`
	ObjectiveScore  int                      `json:"objective_score"`
	SubjectiveScore int                      `json:"subjective_score"`
	TotalScore      int                      `json:"total_score"`
	MaxScore        int                      `json:"max_score"`
	Percent         int                      `json:"percent"`
	PassScore       *int                     `json:"pass_score,omitempty"`
	Passed          *bool                    `json:"passed"`
	NeedsReview     bool                     `json:"needs_review"`
	Profile         Profile                  `json:"profile"`
	Exchanges       map[string]RaterExchange `json:"raw_llm_exchanges,omitempty"`
	GradedAt        time.Time                `json:"graded_at"`
}

// Question returns the result for the given question id.
func (r *GradingResult) Question(id string) (QuestionResult, bool) {
	for _, q := range r.PerQuestion {
		if q.QuestionID == id {
			return q, true
		}
	}
	return QuestionResult{}, false
}
