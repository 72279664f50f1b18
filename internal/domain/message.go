// Package domain defines the core types shared across the Movi backend.
package domain

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks instruction messages injected by the orchestrator.
	RoleSystem Role = "system"
	// RoleUser marks messages authored by the human operator.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the reasoning service.
	RoleAssistant Role = "assistant"
	// RoleTool marks capability results fed back into the conversation.
	RoleTool Role = "tool"
)

// ToolCall is a capability invocation requested by an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn-unit of conversation history. Messages are immutable
// once appended to a thread; history is append-only.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set only on assistant messages that request capability
	// invocation.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool message back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message requests any capability invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// SystemMessage builds an instruction message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds an operator message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds a plain assistant reply.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds a capability result tied to a specific call.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
