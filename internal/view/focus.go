package view

import (
	"net/url"
	"sync"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// Navigation query parameters naming the deep-link target.
const (
	ParamFocusQuestion = "focusQuestion"
	ParamFocusReply    = "focusReply"
)

// DefaultHighlightDuration leaves enough time for a smooth scroll to finish.
const DefaultHighlightDuration = 3 * time.Second

// Target is the question and/or reply a deep link points at.
type Target struct {
	QuestionID qa.ID
	ReplyID    qa.ID
}

func (t Target) IsZero() bool { return t.QuestionID == "" && t.ReplyID == "" }

// ParseTarget reads the focus parameters. Numeric-looking values are treated
// as numbers, anything else is kept as text.
func ParseTarget(values url.Values) Target {
	return Target{
		QuestionID: qa.NormalizeID(values.Get(ParamFocusQuestion)),
		ReplyID:    qa.NormalizeID(values.Get(ParamFocusReply)),
	}
}

// State is the focused item shown right now. Zero means nothing is highlighted.
type State struct {
	QuestionID qa.ID
	ReplyID    qa.ID
	// Parent is the question holding the focused reply, so it can be expanded.
	Parent qa.ID
}

// Highlighter turns a navigation target into a transient focus state. It
// never touches the thread itself.
type Highlighter struct {
	mu       sync.Mutex
	duration time.Duration
	pending  Target
	state    State
	timer    *time.Timer
	// gen identifies the latest scheduled clear; older clears are ignored.
	gen      uint64
	onChange func(State)
}

// NewHighlighter creates a highlighter; onChange may be nil.
func NewHighlighter(duration time.Duration, onChange func(State)) *Highlighter {
	if duration <= 0 {
		duration = DefaultHighlightDuration
	}
	return &Highlighter{duration: duration, onChange: onChange}
}

// Navigate arms a new target. It is consumed by the first Resolve that finds it.
func (h *Highlighter) Navigate(t Target) {
	h.mu.Lock()
	h.pending = t
	h.mu.Unlock()
}

// Resolve looks for the armed target in the rendered questions. When found,
// exactly that question (and reply, if named) is marked focused until the
// highlight duration elapses.
func (h *Highlighter) Resolve(questions []qa.Question) State {
	h.mu.Lock()
	if h.pending.IsZero() {
		s := h.state
		h.mu.Unlock()
		return s
	}

	next, found := locate(questions, h.pending)
	if !found {
		s := h.state
		h.mu.Unlock()
		return s
	}
	h.pending = Target{}
	h.state = next
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(h.duration, func() { h.clear(gen) })
	onChange := h.onChange
	h.mu.Unlock()

	if onChange != nil {
		onChange(next)
	}
	return next
}

// State returns the current focus.
func (h *Highlighter) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsQuestionFocused reports whether id is the highlighted question.
func (h *Highlighter) IsQuestionFocused(id qa.ID) bool {
	s := h.State()
	return s.QuestionID != "" && s.QuestionID == id
}

// IsReplyFocused reports whether id is the highlighted reply.
func (h *Highlighter) IsReplyFocused(id qa.ID) bool {
	s := h.State()
	return s.ReplyID != "" && s.ReplyID == id
}

// Stop cancels a pending clear.
func (h *Highlighter) Stop() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	h.mu.Unlock()
}

func (h *Highlighter) clear(gen uint64) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.state = State{}
	h.timer = nil
	onChange := h.onChange
	h.mu.Unlock()

	if onChange != nil {
		onChange(State{})
	}
}

// locate finds the target. A reply id alone is searched across every question.
func locate(questions []qa.Question, t Target) (State, bool) {
	for _, q := range questions {
		if t.QuestionID != "" && q.ID != t.QuestionID {
			continue
		}
		if t.ReplyID == "" {
			return State{QuestionID: q.ID}, true
		}
		for _, r := range q.Replies {
			if r.ID == t.ReplyID {
				return State{QuestionID: t.QuestionID, ReplyID: r.ID, Parent: q.ID}, true
			}
		}
		if t.QuestionID != "" {
			// the reply is gone; still land on its question
			return State{QuestionID: q.ID}, true
		}
	}
	return State{}, false
}
