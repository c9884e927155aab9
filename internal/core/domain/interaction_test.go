package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func validRequest() *LogRequest {
	return &LogRequest{
		Prompt:       "Test prompt",
		Response:     "Test response",
		ModelType:    "claude-3-opus",
		ModelVersion: "1.0",
		Metadata:     json.RawMessage(`{"source":"test"}`),
	}
}

func TestLogRequest_Validate(t *testing.T) {
	conf := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		mutate     func(r *LogRequest)
		policy     ValidationPolicy
		wantFields []string
	}{
		{"valid", func(r *LogRequest) {}, ValidationPolicy{}, nil},
		{"empty metadata object is fine", func(r *LogRequest) { r.Metadata = json.RawMessage(`{}`) }, ValidationPolicy{}, nil},
		{"missing modelType", func(r *LogRequest) { r.ModelType = "" }, ValidationPolicy{}, []string{"modelType"}},
		{"missing metadata", func(r *LogRequest) { r.Metadata = nil }, ValidationPolicy{}, []string{"metadata"}},
		{"null metadata", func(r *LogRequest) { r.Metadata = json.RawMessage(`null`) }, ValidationPolicy{}, []string{"metadata"}},
		{"several missing", func(r *LogRequest) { r.Prompt = ""; r.Response = "" }, ValidationPolicy{}, []string{"prompt", "response"}},
		{"confidence out of range unchecked", func(r *LogRequest) { r.Confidence = conf(1.5) }, ValidationPolicy{}, nil},
		{"confidence out of range enforced", func(r *LogRequest) { r.Confidence = conf(1.5) }, ValidationPolicy{EnforceConfidenceRange: true}, []string{"confidence"}},
		{"confidence in range enforced", func(r *LogRequest) { r.Confidence = conf(0.75) }, ValidationPolicy{EnforceConfidenceRange: true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := req.Validate(tt.policy)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if len(ve.Errors) != len(tt.wantFields) {
				t.Fatalf("Validate() returned %d errors, want %d: %v", len(ve.Errors), len(tt.wantFields), ve)
			}
			for i, f := range tt.wantFields {
				if ve.Errors[i].Field != f {
					t.Errorf("Errors[%d].Field = %q, want %q", i, ve.Errors[i].Field, f)
				}
			}
		})
	}
}

func TestLogRequest_ToInteraction_NullsOptionalFields(t *testing.T) {
	req := validRequest()
	req.Inferences = json.RawMessage(`null`)

	rec := req.ToInteraction()
	if rec.Inferences != nil {
		t.Errorf("Inferences = %s, want nil", rec.Inferences)
	}
	if rec.DecisionPath != nil {
		t.Errorf("DecisionPath = %s, want nil", rec.DecisionPath)
	}
	if rec.FinalDecision != nil || rec.Confidence != nil {
		t.Errorf("FinalDecision/Confidence should be nil")
	}
	if string(rec.Metadata) != `{"source":"test"}` {
		t.Errorf("Metadata = %s", rec.Metadata)
	}
}

func TestIsValidation(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), &ValidationError{Errors: []FieldError{{Field: "prompt", Message: "is required"}}})
	if !IsValidation(wrapped) {
		t.Error("IsValidation() = false for wrapped ValidationError")
	}
	if IsValidation(&StorageError{Op: "insert", Err: errors.New("boom")}) {
		t.Error("IsValidation() = true for StorageError")
	}
}
