// Package thread holds the in-memory discussion thread a view renders from.
package thread

import (
	"strconv"
	"sync"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// Store is the single source of truth for a mounted thread. Every mutation is
// total: an unknown id is a no-op reported through the bool result, never an
// error, since push events and REST responses race.
type Store struct {
	mu        sync.RWMutex
	questions []*qa.Question // newest first
	pending   map[qa.ID]qa.PendingMutation
	lastTemp  int64
	now       func() time.Time

	subMu     sync.Mutex
	subs      map[int]func()
	nextSubID int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		pending: make(map[qa.ID]qa.PendingMutation),
		now:     time.Now,
		subs:    make(map[int]func()),
	}
}

// Subscribe registers fn to run after every effective mutation.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Notify runs the subscribers without a thread change, for state kept next
// to the thread such as the focus highlight.
func (s *Store) Notify() { s.notify() }

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// changed runs notify when ok is true and passes ok through.
func (s *Store) changed(ok bool) bool {
	if ok {
		s.notify()
	}
	return ok
}

// Seed replaces the whole thread. Pending placeholders are forgotten.
func (s *Store) Seed(questions []qa.Question) {
	s.mu.Lock()
	s.questions = make([]*qa.Question, 0, len(questions))
	for _, q := range questions {
		c := q.Clone()
		if c.Replies == nil {
			c.Replies = []qa.Reply{}
		}
		s.questions = append(s.questions, &c)
	}
	s.pending = make(map[qa.ID]qa.PendingMutation)
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a deep copy of the thread in display order.
func (s *Store) Snapshot() []qa.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]qa.Question, len(s.questions))
	for i, q := range s.questions {
		out[i] = q.Clone()
	}
	return out
}

// Question returns a copy of one question.
func (s *Store) Question(id qa.ID) (qa.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.questions[i].Clone(), true
	}
	return qa.Question{}, false
}

// Reply returns a copy of one reply.
func (s *Store) Reply(questionID, replyID qa.ID) (qa.Reply, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(questionID)
	if i < 0 {
		return qa.Reply{}, false
	}
	if j := replyIndex(s.questions[i], replyID); j >= 0 {
		return s.questions[i].Replies[j].Clone(), true
	}
	return qa.Reply{}, false
}

// Len returns the number of questions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions)
}

// Pending lists placeholders still waiting for a server answer.
func (s *Store) Pending() []qa.PendingMutation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]qa.PendingMutation, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// tempID must be called with mu held.
func (s *Store) tempID() qa.ID {
	n := s.now().UnixMilli()
	if n <= s.lastTemp {
		n = s.lastTemp + 1
	}
	s.lastTemp = n
	return qa.ID(qa.TempPrefix + strconv.FormatInt(n, 10))
}

func (s *Store) indexOf(id qa.ID) int {
	for i, q := range s.questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func replyIndex(q *qa.Question, id qa.ID) int {
	for i, r := range q.Replies {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	s.questions = append(s.questions[:i], s.questions[i+1:]...)
}
