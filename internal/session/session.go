// Package session ties a mounted Q&A view to its thread: it owns the store,
// the push subscription and the REST client for one course or lesson, and
// exposes the actions a user can take.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/api"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/reconcile"
	"github.com/UkralStul/lesson-qa-sync/internal/thread"
	"github.com/UkralStul/lesson-qa-sync/internal/transport"
	"github.com/UkralStul/lesson-qa-sync/internal/view"
)

var (
	// ErrClosed is returned by actions that complete after the session ended.
	// Their results are discarded.
	ErrClosed   = errors.New("session closed")
	ErrNotFound = errors.New("not in thread")
	// ErrPending is returned when acting on an entity the server has not
	// confirmed yet.
	ErrPending = errors.New("not confirmed by the server yet")
)

// API is the REST surface a session needs. *api.Client implements it.
type API interface {
	FetchQuestions(ctx context.Context, scope qa.Scope) ([]qa.Question, error)
	CurrentUser(ctx context.Context) (qa.User, error)
	CreateQuestion(ctx context.Context, scope qa.Scope, d qa.QuestionDraft) (qa.Question, error)
	CreateReply(ctx context.Context, questionID qa.ID, d qa.ReplyDraft) (qa.Reply, error)
	Upvote(ctx context.Context, replyID qa.ID) (api.VoteResult, error)
	Unvote(ctx context.Context, replyID qa.ID) (api.VoteResult, error)
	UpdateQuestion(ctx context.Context, id qa.ID, body string) error
	UpdateReply(ctx context.Context, id qa.ID, body string) error
	DeleteQuestion(ctx context.Context, id qa.ID) error
	DeleteReply(ctx context.Context, id qa.ID) error
	SubmitReport(ctx context.Context, r api.Report) error
}

// PushChannel is the push transport a session needs. *transport.Channel
// implements it.
type PushChannel interface {
	On(event string, handler func(payload json.RawMessage))
	JoinGroup(ctx context.Context, group string) error
	LeaveGroup(ctx context.Context, group string) error
	Close() error
}

var (
	_ API         = (*api.Client)(nil)
	_ PushChannel = (*transport.Channel)(nil)
)

// Dialer opens a push channel.
type Dialer func(ctx context.Context) (PushChannel, error)

// WebsocketDialer dials the hub at endpoint with token.
func WebsocketDialer(endpoint, token string, settings *transport.Settings, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (PushChannel, error) {
		ch, err := transport.Connect(ctx, endpoint, token, settings, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

type Config struct {
	Scope qa.Scope
	API   API
	// Dial may be nil, in which case the session runs REST-only.
	Dial              Dialer
	Focus             view.Target
	HighlightDuration time.Duration
	Logger            *slog.Logger
}

type queuedEvent struct {
	handler func(json.RawMessage)
	payload json.RawMessage
}

// Session is one mounted thread view. It is created by Open and must be
// released with Close; nothing about it is global.
type Session struct {
	scope       qa.Scope
	api         API
	push        PushChannel
	store       *thread.Store
	reconciler  *reconcile.Reconciler
	highlighter *view.Highlighter
	logger      *slog.Logger
	user        qa.User

	closed  atomic.Bool
	loading atomic.Int32

	// applyMu orders seeding with push delivery and guards backlog. Events
	// that arrive while a fetch is in flight are held back and replayed after
	// the seed. Loading never takes it.
	applyMu sync.Mutex
	backlog []queuedEvent
}

// Open mounts a session: it resolves the current user, connects and joins the
// scope's push group, and seeds the thread. Push and user failures degrade
// the session instead of failing it.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Scope.Validate(); err != nil {
		return nil, err
	}
	if cfg.API == nil {
		return nil, errors.New("session needs an API client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		scope:  cfg.Scope,
		api:    cfg.API,
		store:  thread.New(),
		logger: logger.With("component", "session", "group", cfg.Scope.Group()),
	}
	s.reconciler = reconcile.New(s.store, s.active, s.logger)
	s.highlighter = view.NewHighlighter(cfg.HighlightDuration, func(view.State) {
		s.store.Notify()
	})
	s.highlighter.Navigate(cfg.Focus)

	if u, err := s.api.CurrentUser(ctx); err != nil {
		s.logger.Warn("Could not resolve current user", "error", err)
	} else {
		s.user = u
	}

	s.connect(ctx, cfg.Dial)

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial load failed, starting empty", "error", err)
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context, dial Dialer) {
	if dial == nil {
		return
	}
	ch, err := dial(ctx)
	if err != nil {
		s.logger.Warn("Push disabled, continuing REST-only", "error", err)
		return
	}
	s.reconciler.Register(&heldSubscriber{session: s, ch: ch})
	if err := ch.JoinGroup(ctx, s.scope.Group()); err != nil {
		s.logger.Warn("Join group failed", "error", err)
	}
	s.push = ch
}

// heldSubscriber routes push handlers through the session so they can be
// held back while the thread is being reseeded.
type heldSubscriber struct {
	session *Session
	ch      PushChannel
}

func (h *heldSubscriber) On(event string, handler func(json.RawMessage)) {
	h.ch.On(event, func(payload json.RawMessage) {
		h.session.deliver(handler, payload)
	})
}

func (s *Session) deliver(handler func(json.RawMessage), payload json.RawMessage) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if !s.active() {
		return
	}
	if s.loading.Load() > 0 {
		s.backlog = append(s.backlog, queuedEvent{handler: handler, payload: payload})
		return
	}
	handler(payload)
}

func (s *Session) active() bool { return !s.closed.Load() }

// Refresh replaces the thread with the server's copy. A failed fetch leaves
// an empty thread. Store subscribers may call Loading, Snapshot, View and
// Focus, but must not call Refresh synchronously.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.active() {
		return ErrClosed
	}
	s.loading.Add(1)
	questions, fetchErr := s.api.FetchQuestions(ctx, s.scope)

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	idle := s.loading.Add(-1) == 0
	if !s.active() {
		s.backlog = nil
		return ErrClosed
	}
	if fetchErr != nil {
		questions = nil
	}
	// focus is resolved first so the seed notification already carries it
	s.highlighter.Resolve(questions)
	s.store.Seed(questions)
	if idle {
		backlog := s.backlog
		s.backlog = nil
		for _, e := range backlog {
			e.handler(e.payload)
		}
		if len(backlog) > 0 {
			s.highlighter.Resolve(s.store.Snapshot())
		}
	}

	if fetchErr != nil {
		return fmt.Errorf("refresh: %w", fetchErr)
	}
	return nil
}

// Loading reports whether a fetch is in flight.
func (s *Session) Loading() bool { return s.loading.Load() > 0 }

// Close unmounts the session. It counts as ended immediately; leaving the
// group and closing the channel are best effort and their errors are only
// logged. Safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.highlighter.Stop()
	if s.push == nil {
		return
	}
	if err := s.push.LeaveGroup(ctx, s.scope.Group()); err != nil {
		s.logger.Debug("Leave group failed during teardown", "error", err)
	}
	if err := s.push.Close(); err != nil {
		s.logger.Debug("Closing push channel failed", "error", err)
	}
}

// Scope returns the scope the session is attached to.
func (s *Session) Scope() qa.Scope { return s.scope }

// User returns the signed-in user, zero when it could not be resolved.
func (s *Session) User() qa.User { return s.user }

// PushEnabled reports whether a push channel was established.
func (s *Session) PushEnabled() bool { return s.push != nil }

// Snapshot returns the whole thread.
func (s *Session) Snapshot() []qa.Question { return s.store.Snapshot() }

// View returns the thread filtered by search query and lecture.
func (s *Session) View(query, lecture string) []qa.Question {
	return view.Filter(s.store.Snapshot(), query, lecture)
}

// Lectures lists the lecture labels present in the thread.
func (s *Session) Lectures() []string { return view.Lectures(s.store.Snapshot()) }

// Focus returns the deep-link highlight currently shown.
func (s *Session) Focus() view.State { return s.highlighter.State() }

// Navigate arms a new focus target, as when the query string changes.
func (s *Session) Navigate(t view.Target) {
	s.highlighter.Navigate(t)
	s.highlighter.Resolve(s.store.Snapshot())
}

// Subscribe runs fn after every change to the thread.
func (s *Session) Subscribe(fn func()) (cancel func()) { return s.store.Subscribe(fn) }

// Pending lists creates still waiting for the server.
func (s *Session) Pending() []qa.PendingMutation { return s.store.Pending() }

// CanModify reports whether the user may edit or delete content by authorID.
func (s *Session) CanModify(authorID qa.ID) bool { return s.user.CanModify(authorID) }
