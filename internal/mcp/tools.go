package mcp

// Property describes one field of a tool's input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Schema is a JSON-schema object describing tool input.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Tool is a tools/list descriptor.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// LogInteractionMethod is both the RPC method and the tool name for logging.
const LogInteractionMethod = "interaction/log"

// logInteractionTool describes interaction/log params.
var logInteractionTool = Tool{
	Name:        LogInteractionMethod,
	Description: "Log an LLM interaction with detailed context",
	InputSchema: Schema{
		Type: "object",
		Properties: map[string]Property{
			"prompt":        {Type: "string", Description: "The input prompt or query"},
			"response":      {Type: "string", Description: "The LLM response"},
			"modelType":     {Type: "string", Description: "The type of model used (e.g. claude-3-opus)"},
			"modelVersion":  {Type: "string", Description: "The version of the model"},
			"inferences":    {Type: "object", Description: "Any inferences made during processing"},
			"decisionPath":  {Type: "object", Description: "The path taken to reach the decision"},
			"finalDecision": {Type: "string", Description: "The final decision or conclusion"},
			"confidence":    {Type: "number", Description: "Confidence score between 0 and 1"},
			"metadata":      {Type: "object", Description: "Additional metadata about the interaction"},
		},
		Required: []string{"prompt", "response", "modelType", "modelVersion", "metadata"},
	},
}

// Tools returns the static tool descriptors.
func Tools() []Tool {
	return []Tool{logInteractionTool}
}
