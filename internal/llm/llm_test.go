package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pavelanni/mdquiz/internal/grading"
)

func TestParseRating(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantScore  float64
		wantReason string
		wantErr    bool
	}{
		{"clean json", `{"score": 7, "reason": "good"}`, 7, "good", false},
		{"fenced with prose", "Sure!\n```json\n{\"score\": 4.5, \"reason\": \"ok\"}\n```\nThanks", 4.5, "ok", false},
		{"score as string", `{"score": "8"}`, 8, "", false},
		{"bare number", "  6 ", 6, "", false},
		{"negative kept for clamping", `{"score": -2}`, -2, "", false},
		{"missing score", `{"reason": "no idea"}`, 0, "", true},
		{"score wrong type", `{"score": [1]}`, 0, "", true},
		{"non-numeric string", `{"score": "high"}`, 0, "", true},
		{"prose only", "I would give it a seven.", 0, "", true},
		{"empty", "", 0, "", true},
		{"broken json", `{"score": 7,`, 0, "", true},
		{"infinite bare number", "Inf", 0, "", true},
		{"infinite string score", `{"score": "+Inf"}`, 0, "", true},
		{"nan string score", `{"score": "NaN"}`, 0, "", true},
		{"huge but finite", `{"score": 1e30}`, 1e30, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRating(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRating() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var inv *ErrInvalidResponse
				if !errors.As(err, &inv) {
					t.Errorf("error type = %T, want *ErrInvalidResponse", err)
				}
				return
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

type fakeAPI struct {
	status  int
	content string
	lastReq map[string]any
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastReq)
		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 && f.status != http.StatusOK {
			w.WriteHeader(f.status)
			fmt.Fprintf(w, `{"error":{"message":"status %d","type":"test"}}`, f.status)
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   f.lastReq["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.content},
				"finish_reason": "stop",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if f.status == http.StatusUnauthorized {
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
			return
		}
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := f.server(t)
	return New(Config{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "default-model", Temperature: 0.3})
}

func TestRate(t *testing.T) {
	f := &fakeAPI{content: `{"score": 9, "reason": "thorough"}`}
	c := newTestClient(t, f)
	temp := 0.0

	got, err := c.Rate(context.Background(), grading.RateRequest{
		QuestionID:  "Q3",
		Prompt:      "grade this",
		Model:       "exam-model",
		Temperature: &temp,
		MaxPoints:   10,
	})
	if err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if got.Score != 9 || got.Reason != "thorough" {
		t.Errorf("Rate() = %+v", got)
	}
	if got.Raw != f.content {
		t.Errorf("Raw = %q, want the model reply", got.Raw)
	}
	if f.lastReq["model"] != "exam-model" {
		t.Errorf("model sent = %v, want exam-model", f.lastReq["model"])
	}
	rf, _ := f.lastReq["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", f.lastReq["response_format"])
	}
}

func TestRateDefaultModel(t *testing.T) {
	f := &fakeAPI{content: `{"score": 1}`}
	c := newTestClient(t, f)
	if _, err := c.Rate(context.Background(), grading.RateRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if f.lastReq["model"] != "default-model" {
		t.Errorf("model sent = %v, want default-model", f.lastReq["model"])
	}
	if f.lastReq["temperature"] != 0.3 {
		t.Errorf("temperature sent = %v, want 0.3", f.lastReq["temperature"])
	}
}

func TestRateErrors(t *testing.T) {
	tests := []struct {
		name    string
		api     fakeAPI
		checkFn func(error) bool
	}{
		{"rate limit", fakeAPI{status: http.StatusTooManyRequests}, func(err error) bool {
			var e *ErrRateLimit
			return errors.As(err, &e)
		}},
		{"server error", fakeAPI{status: http.StatusBadGateway}, func(err error) bool {
			var e *ErrProviderUnavailable
			return errors.As(err, &e)
		}},
		{"bad key", fakeAPI{status: http.StatusUnauthorized}, func(err error) bool {
			var e *grading.PermanentError
			return errors.As(err, &e)
		}},
		{"unusable reply", fakeAPI{content: "seven-ish"}, func(err error) bool {
			var e *grading.RatingError
			return errors.As(err, &e) && e.Raw == "seven-ish"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &tt.api)
			_, err := c.Rate(context.Background(), grading.RateRequest{Prompt: "p"})
			if err == nil {
				t.Fatal("Rate() error = nil")
			}
			if !tt.checkFn(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
		})
	}
}

func TestRateWithoutModel(t *testing.T) {
	c := New(Config{APIKey: "x"})
	_, err := c.Rate(context.Background(), grading.RateRequest{Prompt: "p"})
	var perm *grading.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("Rate() error = %v, want PermanentError", err)
	}
}

func TestPing(t *testing.T) {
	ok := newTestClient(t, &fakeAPI{})
	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	bad := newTestClient(t, &fakeAPI{status: http.StatusUnauthorized})
	if err := bad.Ping(context.Background()); err == nil {
		t.Error("Ping() with a rejected key should fail")
	}
}

func TestErrRateLimitRetryDelay(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ErrRateLimit{RetryAfter: 3})
	var rl interface{ RetryDelay() time.Duration }
	if !errors.As(err, &rl) || rl.RetryDelay() != 3 {
		t.Error("ErrRateLimit should expose its retry delay through wrapping")
	}
}
