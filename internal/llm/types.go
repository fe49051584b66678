package llm

// Message roles in the chat completions wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a callable spec offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes one callable function.
type FunctionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  Schema `json:"parameters"`
}

// Schema describes the JSON parameters a function accepts.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the requested function name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the model's reply: generated text plus any requested tool calls.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the model requested further tool invocations.
func (r Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// NewSearchTool builds the function spec for a single-string-argument tool.
func NewSearchTool(name, description string) Tool {
	return Tool{
		Type: "function",
		Function: FunctionSpec{
			Name:        name,
			Description: description,
			Parameters: Schema{
				Type: "object",
				Properties: map[string]SchemaProperty{
					"query": {Type: "string", Description: "The search query"},
				},
				Required: []string{"query"},
			},
		},
	}
}
