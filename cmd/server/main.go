package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/config"
	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/hub"
	"github.com/UkralStul/lesson-qa-sync/internal/server"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
	"github.com/UkralStul/lesson-qa-sync/internal/storage/inmemory"
	"github.com/UkralStul/lesson-qa-sync/internal/storage/postgres"
)

func main() {
	cfg := config.LoadServer()
	storageType := flag.String("storage", cfg.Storage, "Storage type (in-memory or postgres)")
	port := flag.String("port", cfg.Port, "Port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.Level(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	cfg.Storage, cfg.Port = *storageType, *port
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Storage
	var err error
	logger.Info("Starting server", "storage", cfg.Storage)
	if cfg.Storage == config.StoragePostgres {
		store, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
	} else {
		store = inmemory.New()
	}
	if err := fillWithMockData(store, logger); err != nil {
		logger.Error("Failed to create mock data", "error", err)
		os.Exit(1)
	}

	pushHub := hub.New(server.Authenticator(store), hub.DefaultOptions(), logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(store, pushHub, logger).Routes(pushHub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Listening", "addr", srv.Addr, "hub", "/hub")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	pushHub.DisconnectAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", "error", err)
	}
}

// fillWithMockData creates demo users, and a sample thread when the store
// has none. The demo tokens are the user ids.
func fillWithMockData(s storage.Storage, logger *slog.Logger) error {
	ctx := context.Background()

	users := []*domain.User{
		{ID: "student-1", DisplayName: "Student One", Role: domain.RoleStudent},
		{ID: "student-2", DisplayName: "Student Two", Role: domain.RoleStudent},
		{ID: "instructor-1", DisplayName: "The Instructor", Role: domain.RoleInstructor},
		{ID: "admin", DisplayName: "Admin", Role: domain.RoleStudent, IsAdmin: true},
	}
	for _, u := range users {
		if _, err := s.CreateUser(ctx, u); err != nil {
			return err
		}
	}

	existing, err := s.ListQuestions(ctx, storage.Scope{CourseID: "go-101"})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	q, err := s.CreateQuestion(ctx, &domain.Question{
		CourseID:   "go-101",
		LessonID:   "channels",
		Title:      "When should a channel be buffered?",
		Body:       "<p>The lesson uses an unbuffered channel everywhere. When is a buffer the better choice?</p>",
		Lecture:    "Concurrency",
		AuthorID:   "student-1",
		AuthorName: "Student One",
		AuthorRole: domain.RoleStudent,
	})
	if err != nil {
		return err
	}

	_, err = s.CreateReply(ctx, &domain.Reply{
		QuestionID: q.ID,
		Body:       "<p>When the sender should not wait for the receiver, up to a known bound.</p>",
		AuthorID:   "instructor-1",
		AuthorName: "The Instructor",
		AuthorRole: domain.RoleInstructor,
	})
	if err != nil {
		return err
	}

	_, err = s.CreateQuestion(ctx, &domain.Question{
		CourseID:   "go-101",
		Title:      "Is there a recording of the live session?",
		Body:       "<p>I missed it.</p>",
		Lecture:    "General",
		AuthorID:   "student-2",
		AuthorName: "Student Two",
		AuthorRole: domain.RoleStudent,
	})
	if err != nil {
		return err
	}

	logger.Info("Mock data filled", "course_id", "go-101", "lesson_id", "channels", "question_id", q.ID)
	return nil
}
