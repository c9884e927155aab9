package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Interaction is a single audited model exchange as persisted by the store.
// Records are immutable once inserted; the store assigns ID and CreatedAt.
type Interaction struct {
	// ID uniquely identifies this interaction (UUID v4)
	ID string `json:"id"`

	// Prompt is the input sent to the model
	Prompt string `json:"prompt"`

	// Response is the model output
	Response string `json:"response"`

	// ModelType names the model family (e.g. claude-3-opus)
	ModelType string `json:"modelType"`

	// ModelVersion is the version of the model
	ModelVersion string `json:"modelVersion"`

	// Inferences is an opaque structured value; nil is stored as NULL
	Inferences json.RawMessage `json:"inferences"`

	// DecisionPath is an opaque structured value; nil is stored as NULL
	DecisionPath json.RawMessage `json:"decisionPath"`

	// FinalDecision is optional; nil is stored as NULL
	FinalDecision *string `json:"finalDecision"`

	// Confidence is optional; nil is stored as NULL
	Confidence *float64 `json:"confidence"`

	// Metadata is required, but may be an empty object
	Metadata json.RawMessage `json:"metadata"`

	// PromptTokens and ResponseTokens are counted at insert time
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`

	// CreatedAt is assigned by the store
	CreatedAt time.Time `json:"createdAt"`
}

// InsertResult is what the store hands back after a successful insert.
type InsertResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// LogRequest is the inbound shape shared by the HTTP and stdio transports.
// Optional fields use json.RawMessage so "absent" and "null" can be told apart
// from real values during validation.
type LogRequest struct {
	Prompt        string          `json:"prompt"`
	Response      string          `json:"response"`
	ModelType     string          `json:"modelType"`
	ModelVersion  string          `json:"modelVersion"`
	Inferences    json.RawMessage `json:"inferences,omitempty"`
	DecisionPath  json.RawMessage `json:"decisionPath,omitempty"`
	FinalDecision *string         `json:"finalDecision,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// ValidationPolicy toggles optional validation rules.
type ValidationPolicy struct {
	// EnforceConfidenceRange rejects confidence values outside [0, 1].
	EnforceConfidenceRange bool
}

// Validate checks required fields and returns a *ValidationError listing every
// problem found, or nil.
func (r *LogRequest) Validate(policy ValidationPolicy) error {
	var errs []FieldError

	required := []struct {
		field string
		value string
	}{
		{"prompt", r.Prompt},
		{"response", r.Response},
		{"modelType", r.ModelType},
		{"modelVersion", r.ModelVersion},
	}
	for _, f := range required {
		if f.value == "" {
			errs = append(errs, FieldError{Field: f.field, Message: "is required"})
		}
	}

	if isNullJSON(r.Metadata) {
		errs = append(errs, FieldError{Field: "metadata", Message: "is required"})
	}

	if policy.EnforceConfidenceRange && r.Confidence != nil {
		if *r.Confidence < 0 || *r.Confidence > 1 {
			errs = append(errs, FieldError{Field: "confidence", Message: "must be between 0 and 1"})
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ToInteraction converts a validated request into a record ready for insert.
// Optional JSON fields that were absent or null become nil.
func (r *LogRequest) ToInteraction() *Interaction {
	return &Interaction{
		Prompt:        r.Prompt,
		Response:      r.Response,
		ModelType:     r.ModelType,
		ModelVersion:  r.ModelVersion,
		Inferences:    nullIfEmpty(r.Inferences),
		DecisionPath:  nullIfEmpty(r.DecisionPath),
		FinalDecision: r.FinalDecision,
		Confidence:    r.Confidence,
		Metadata:      r.Metadata,
	}
}

// ListOptions controls pagination and filtering for ListInteractions.
type ListOptions struct {
	ModelType string
	Limit     int
	Offset    int
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if isNullJSON(raw) {
		return nil
	}
	return raw
}
