package interactions

// PropertySchema describes one column of a log row.
type PropertySchema struct {
	Type        string   `json:"type"`
	Format      string   `json:"format,omitempty"`
	Description string   `json:"description"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// ObjectSchema is a JSON-schema object descriptor.
type ObjectSchema struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Properties  map[string]PropertySchema `json:"properties"`
	Required    []string                  `json:"required"`
}

// LogSchema describes the records returned by the logs endpoints.
func LogSchema() ObjectSchema {
	zero, one := 0.0, 1.0
	return ObjectSchema{
		Type:        "object",
		Description: "Audit log entry for LLM interactions",
		Properties: map[string]PropertySchema{
			"id":             {Type: "string", Format: "uuid", Description: "Unique identifier for the log entry"},
			"prompt":         {Type: "string", Description: "User input or prompt sent to the model"},
			"response":       {Type: "string", Description: "Model's response to the prompt"},
			"modelType":      {Type: "string", Description: "Type of model used (e.g., claude, gpt)"},
			"modelVersion":   {Type: "string", Description: "Version of the model used"},
			"inferences":     {Type: "object", Description: "Model's inference details and context"},
			"decisionPath":   {Type: "object", Description: "Steps and reasoning in the decision process"},
			"finalDecision":  {Type: "string", Description: "Final decision or action taken"},
			"confidence":     {Type: "number", Description: "Confidence score for the decision", Minimum: &zero, Maximum: &one},
			"metadata":       {Type: "object", Description: "Additional contextual information"},
			"promptTokens":   {Type: "integer", Description: "Token count of the prompt"},
			"responseTokens": {Type: "integer", Description: "Token count of the response"},
			"createdAt":      {Type: "string", Format: "date-time", Description: "Timestamp when the log was created"},
		},
		Required: []string{"prompt", "response", "modelType", "modelVersion", "metadata"},
	}
}
