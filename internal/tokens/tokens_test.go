package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestEstimator_CountText(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"Hello, how are you?", 5},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := e.CountText("claude-3-opus", tt.text)
			if err != nil {
				t.Fatalf("CountText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountText() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOpenAICounter_SupportsModel(t *testing.T) {
	c := NewOpenAICounter()

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4", true},
		{"GPT-4o-mini", true},
		{"o3-mini", true},
		{"text-embedding-3-small", true},
		{"davinci", true},
		{"claude-3-opus", false},
		{"llama-3", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.SupportsModel(tt.model); got != tt.want {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o", tokenizer.O200kBase},
		{"gpt-5-mini", tokenizer.O200kBase},
		{"o1-preview", tokenizer.O200kBase},
		{"gpt-4", tokenizer.Cl100kBase},
		{"gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"text-davinci-003", tokenizer.P50kBase},
		{"ada", tokenizer.R50kBase},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := encodingFor(tt.model); got != tt.want {
				t.Errorf("encodingFor(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestOpenAICounter_CountText(t *testing.T) {
	c := NewOpenAICounter()

	got, err := c.CountText("gpt-4", "Hello world")
	if err != nil {
		t.Fatalf("CountText() error = %v", err)
	}
	if got != 2 {
		t.Errorf("CountText() = %d, want 2", got)
	}
}

func TestRegistry_Count(t *testing.T) {
	r := NewRegistry()

	if got := r.Count("gpt-4", ""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
	if got := r.Count("gpt-4", "Hello world"); got != 2 {
		t.Errorf("Count(gpt-4) = %d, want 2", got)
	}
	// Unknown families use the estimator: 11 chars / 4 rounds up to 3.
	if got := r.Count("claude-3-opus", "Hello world"); got != 3 {
		t.Errorf("Count(claude) = %d, want 3", got)
	}
}

type fixedCounter struct{ n int }

func (f fixedCounter) SupportsModel(model string) bool { return model == "custom" }
func (f fixedCounter) CountText(model, text string) (int, error) { return f.n, nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedCounter{n: 42})

	if got := r.Count("custom", "anything"); got != 42 {
		t.Errorf("Count(custom) = %d, want 42", got)
	}
}
