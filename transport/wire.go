// Package transport carries agent events to the CAD side and CAD messages to
// the agent over an authenticated local socket.
package transport

// Response types of an Event.
const (
	ResponseEvent = "event"
	ResponseError = "error"
)

// Event names streamed by the agent.
const (
	EventRunCreated     = "thread.run.created"
	EventStepCreated    = "thread.run.step.created"
	EventMessageCreated = "thread.message.created"
	EventMessageDelta   = "thread.message.delta"
	EventStepDelta      = "thread.run.step.delta"
	EventRequiresAction = "thread.run.requires_action"
	EventStepCompleted  = "thread.run.step.completed"
	EventRunCompleted   = "thread.run.completed"
	EventRunCancelled   = "thread.run.cancelled"
	EventRunFailed      = "thread.run.failed"
	EventError          = "error"
	EventFunctionResult = "function.result"
)

// Message types sent by the CAD side.
const (
	MessageThreadUpdate = "thread_update"
	MessageToolOutputs  = "tool_outputs"
	MessageFunctionCall = "function_call"
	MessageStartRecord  = "start_record"
	MessageStopRecord   = "stop_record"
)

// Agent functions reachable through a function_call message.
const (
	FunctionUploadTools    = "upload_tools"
	FunctionUpdateSettings = "update_settings"
	FunctionCancelRun      = "cancel_run"
	FunctionNewThread      = "new_thread"
	FunctionGetSettings    = "get_settings"
)

// ToolCall is one call the agent asks the CAD side to run.
type ToolCall struct {
	ID        string `json:"tool_call_id"`
	Name      string `json:"function_name"`
	Arguments string `json:"function_args"`
}

// Event is one frame sent from the agent to the CAD side.
type Event struct {
	ResponseType string     `json:"response_type"`
	Event        string     `json:"event,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	RunStatus    string     `json:"run_status,omitempty"`
	Content      string     `json:"content,omitempty"`
	FunctionName string     `json:"function_name,omitempty"`
	FunctionArgs string     `json:"function_args,omitempty"`
	ToolCallID   string     `json:"tool_call_id,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	switch e.Event {
	case EventRunCompleted, EventRunCancelled, EventRunFailed:
		return true
	}
	return e.ResponseType == ResponseError
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Message is one frame sent from the CAD side to the agent.
type Message struct {
	MessageType  string       `json:"message_type"`
	Content      string       `json:"content,omitempty"`
	RunID        string       `json:"run_id,omitempty"`
	ToolOutputs  []ToolOutput `json:"tool_outputs,omitempty"`
	FunctionName string       `json:"function_name,omitempty"`
	FunctionArgs string       `json:"function_args,omitempty"`
}
