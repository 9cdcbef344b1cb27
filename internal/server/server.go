// Package server is the reference Q&A backend: the REST endpoints a session
// calls, and the push events it broadcasts after every create and delete.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/UkralStul/lesson-qa-sync/internal/dataloader"
	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/hub"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

// Broadcaster delivers a named event to every member of a push group.
// *hub.Hub implements it.
type Broadcaster interface {
	Broadcast(group, event string, payload any) error
}

type Server struct {
	store  storage.Storage
	push   Broadcaster
	logger *slog.Logger
}

// New creates a server. push may be nil, in which case nothing is broadcast.
func New(store storage.Storage, push Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, push: push, logger: logger.With("component", "server")}
}

// Routes builds the router. hubHandler, when set, is served at /hub.
func (s *Server) Routes(hubHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if hubHandler != nil {
		router.Handle("/hub", hubHandler)
	}

	router.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(func(next http.Handler) http.Handler { return dataloader.Middleware(s.store, next) })

		r.Get("/users/me", s.currentUser)

		r.Get("/courses/{courseID}/questions", s.listQuestions)
		r.Post("/courses/{courseID}/questions", s.createQuestion)
		r.Get("/lessons/{lessonID}/questions", s.listQuestions)
		r.Post("/lessons/{lessonID}/questions", s.createQuestion)

		r.Put("/questions/{questionID}", s.updateQuestion)
		r.Delete("/questions/{questionID}", s.deleteQuestion)
		r.Post("/questions/{questionID}/replies", s.createReply)

		r.Put("/replies/{replyID}", s.updateReply)
		r.Delete("/replies/{replyID}", s.deleteReply)
		r.Post("/replies/{replyID}/upvote", s.vote(true))
		r.Post("/replies/{replyID}/unvote", s.vote(false))

		r.Post("/reports", s.createReport)
	})
	return router
}

type userKey struct{}

func userFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// authenticate resolves the bearer token to a user. The token is the user id.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		user, err := s.store.GetUser(r.Context(), token)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "unknown user", http.StatusUnauthorized)
				return
			}
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// Authenticator lets the push hub accept the same tokens as the REST API.
func Authenticator(store storage.Storage) hub.Authenticator {
	return func(token string) (string, error) {
		if token == "" {
			return "", hub.ErrUnauthorized
		}
		user, err := store.GetUser(context.Background(), token)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", hub.ErrUnauthorized
			}
			return "", err
		}
		return user.ID, nil
	}
}

// broadcast sends an event to each group. Failures only cost the push, the
// REST call has already succeeded.
func (s *Server) broadcast(groups []string, event string, payload any) {
	if s.push == nil {
		return
	}
	for _, g := range groups {
		if err := s.push.Broadcast(g, event, payload); err != nil {
			s.logger.Warn("Broadcast failed", "group", g, "event", event, "error", err)
		}
	}
}
