// Package tokens counts prompt and response tokens for audit records.
package tokens

import (
	"strings"
)

// Counter counts tokens in a text for a specific model family.
type Counter interface {
	// SupportsModel reports whether the counter understands the model's tokenizer.
	SupportsModel(model string) bool

	// CountText returns the token count of text as the model would see it.
	CountText(model, text string) (int, error)
}

// Registry picks the first registered counter that supports a model and
// falls back to the estimator otherwise.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter registered and the
// character estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{
		counters: []Counter{NewOpenAICounter()},
		fallback: NewEstimator(),
	}
}

// Register adds a counter ahead of the fallback.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// Count returns the token count for text. Encoder failures degrade to the
// estimator; counting never fails an insert.
func (r *Registry) Count(model, text string) int {
	if text == "" {
		return 0
	}
	for _, c := range r.counters {
		if !c.SupportsModel(model) {
			continue
		}
		if n, err := c.CountText(model, text); err == nil {
			return n
		}
		break
	}
	n, _ := r.fallback.CountText(model, text)
	return n
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// CountText estimates the token count, rounding up so non-empty text is never zero.
func (e *Estimator) CountText(model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	chars := float64(len([]rune(text)))
	n := int(chars / e.CharsPerToken)
	if float64(n)*e.CharsPerToken < chars {
		n++
	}
	return n, nil
}

// ModelMatcher helps match model names to tokenizer families.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the lower-cased model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
