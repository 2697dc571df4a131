package llm

// Tool represents a tool definition offered to the model, following the
// OpenAPI-shaped schema convention the teacher uses (genai/llm/tool.go).
type Tool struct {
	Type       string         `json:"type"`
	Definition ToolDefinition `json:"definition"`
}

// ToolDefinition describes a callable function in JSON-Schema terms.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// NewFunctionTool creates a Tool wrapping the given function definition.
func NewFunctionTool(def ToolDefinition) Tool {
	return Tool{Type: "function", Definition: def}
}

// ToolPolicy optionally filters the resolved tool set (spec.md §4.6 step 6).
type ToolPolicy interface {
	Allow(name string) bool
}

// ToolPolicyFunc adapts a function to ToolPolicy.
type ToolPolicyFunc func(name string) bool

func (f ToolPolicyFunc) Allow(name string) bool { return f(name) }

// AllowAll is the default, permissive policy.
var AllowAll ToolPolicy = ToolPolicyFunc(func(string) bool { return true })
