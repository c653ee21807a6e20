package models

// ThreadState is the checkpointed state of a thread. A thread the store has never seen has a nil Messages
// slice, which callers treat as an empty conversation.
type ThreadState struct {
	Messages []Message
}

// Origin tags who produced a streamed fragment.
type Origin string

const (
	// OriginAssistant marks reply tokens produced by the model. Only these are shown to the user.
	OriginAssistant Origin = "assistant"
	// OriginToolCall marks a tool invocation requested by the model.
	OriginToolCall Origin = "tool_call"
	// OriginToolResult marks the output of a tool invocation.
	OriginToolResult Origin = "tool_result"
)

// Fragment is one incremental piece of a streamed agent response. A tool call fragment carries the tool
// name as its text and a tool result fragment the raw result.
type Fragment struct {
	Origin Origin
	Text   string
}
