// Package reconcile merges push events from other clients into a thread store.
package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/thread"
)

// Push event names.
const (
	EventQuestionAdded   = "questionAdded"
	EventReplyAdded      = "replyAdded"
	EventQuestionDeleted = "questionDeleted"
	EventReplyDeleted    = "replyDeleted"
)

// Events lists every event the reconciler understands.
var Events = []string{EventQuestionAdded, EventReplyAdded, EventQuestionDeleted, EventReplyDeleted}

// QuestionDeleted is the payload of questionDeleted.
type QuestionDeleted struct {
	QuestionID qa.ID `json:"questionId"`
}

// ReplyDeleted is the payload of replyDeleted.
type ReplyDeleted struct {
	QuestionID qa.ID `json:"questionId"`
	ReplyID    qa.ID `json:"replyId"`
}

// Subscriber is the part of a push channel the reconciler needs.
type Subscriber interface {
	On(event string, handler func(payload json.RawMessage))
}

// Reconciler applies push events to a store. The acting client's own creates
// are settled by its REST responses; push is the source of truth only for
// changes made elsewhere, and is applied idempotently so echoes are harmless.
type Reconciler struct {
	store  *thread.Store
	active func() bool
	logger *slog.Logger
}

// New creates a reconciler. active is consulted before every event; a nil
// active means always active.
func New(store *thread.Store, active func() bool, logger *slog.Logger) *Reconciler {
	if active == nil {
		active = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, active: active, logger: logger}
}

// Register subscribes the reconciler to every push event on sub.
func (r *Reconciler) Register(sub Subscriber) {
	for _, event := range Events {
		sub.On(event, func(payload json.RawMessage) {
			if err := r.Apply(event, payload); err != nil {
				r.logger.Warn("Dropping push event", "event", event, "error", err)
			}
		})
	}
}

// Apply merges one event. It reports whether the store changed through the
// logs only; a no-op is the expected outcome of many races.
func (r *Reconciler) Apply(event string, payload json.RawMessage) error {
	if !r.active() {
		return nil
	}

	switch event {
	case EventQuestionAdded:
		var q qa.Question
		if err := json.Unmarshal(payload, &q); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		if !r.store.AddQuestion(q) {
			r.logger.Debug("Question already present", "question_id", q.ID)
		}
	case EventReplyAdded:
		var reply qa.Reply
		if err := json.Unmarshal(payload, &reply); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		if reply.QuestionID == "" {
			return fmt.Errorf("decode %s: missing questionId", event)
		}
		if !r.store.AppendReply(reply.QuestionID, reply) {
			r.logger.Debug("Reply skipped", "question_id", reply.QuestionID, "reply_id", reply.ID)
		}
	case EventQuestionDeleted:
		var p QuestionDeleted
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		r.store.RemoveQuestion(p.QuestionID)
	case EventReplyDeleted:
		var p ReplyDeleted
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		r.store.RemoveReply(p.QuestionID, p.ReplyID)
	default:
		return fmt.Errorf("unknown event %q", event)
	}
	return nil
}
