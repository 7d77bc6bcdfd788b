package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const ratingSchemaURL = "schema://rating.json"

// ratingSchema is what the scoring rules ask the model to produce. Score may
// arrive as a numeric string from less careful models.
const ratingSchema = `{
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": {"type": ["number", "string"]},
    "reason": {"type": "string"}
  }
}`

var compiledRating = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(ratingSchema), &doc); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(ratingSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile(ratingSchemaURL)
})

type rating struct {
	Score  float64
	Reason string
}

// parseRating extracts a score from a model reply. It accepts a JSON object
// possibly wrapped in prose or code fences, or a bare number.
func parseRating(content string) (rating, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return rating{}, &ErrInvalidResponse{Content: content, Err: errors.New("empty reply")}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		f, err := strconv.ParseFloat(strings.Trim(text, "` \n"), 64)
		if err != nil {
			return rating{}, &ErrInvalidResponse{Content: content, Err: errors.New("no JSON object or number in reply")}
		}
		return finite(rating{Score: f}, content)
	}

	var parsed any
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return rating{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	schema, err := compiledRating()
	if err != nil {
		return rating{}, fmt.Errorf("compile rating schema: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return rating{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	obj := parsed.(map[string]any)
	var r rating
	switch s := obj["score"].(type) {
	case float64:
		r.Score = s
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return rating{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("score %q is not a number", s)}
		}
		r.Score = f
	}
	r.Reason, _ = obj["reason"].(string)
	return finite(r, content)
}

func finite(r rating, content string) (rating, error) {
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		return rating{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("score %v is not a finite number", r.Score)}
	}
	return r, nil
}
