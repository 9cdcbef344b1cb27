package transport

import (
	"encoding/json"
	"fmt"
)

// MessageType tags every frame on the push channel. Each websocket text
// message carries exactly one JSON frame.
type MessageType int

const (
	MessageInvocation MessageType = 1
	MessageCompletion MessageType = 3
	MessagePing       MessageType = 6
)

// Hub methods a client may invoke.
const (
	MethodJoinGroup  = "JoinLessonGroup"
	MethodLeaveGroup = "LeaveLessonGroup"
)

// Message is one frame. Invocations without an InvocationID are events that
// expect no completion.
type Message struct {
	Type         MessageType       `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewInvocation builds an invocation frame, encoding each argument as JSON.
func NewInvocation(invocationID, target string, args ...any) (*Message, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		raw = append(raw, b)
	}
	return &Message{
		Type:         MessageInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    raw,
	}, nil
}

// NewCompletion answers an invocation; a nil err means success.
func NewCompletion(invocationID string, err error) *Message {
	m := &Message{Type: MessageCompletion, InvocationID: invocationID}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Payload is the first argument, the only one events carry.
func (m *Message) Payload() json.RawMessage {
	if len(m.Arguments) == 0 {
		return nil
	}
	return m.Arguments[0]
}
