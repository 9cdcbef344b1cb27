package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the acting user may not modify the entity.
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid input")
)

// MaxBodyLength bounds question and reply bodies, in bytes.
const MaxBodyLength = 20000

// Scope selects the questions of a course or a lesson. A lesson id wins.
type Scope struct {
	CourseID string
	LessonID string
}

// VoteSummary is what one user sees of a reply's votes.
type VoteSummary struct {
	Count int
	Voted bool
}

// Storage defines the contract for the Q&A stores.
type Storage interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// ListQuestions returns the scope's questions, newest first, without replies.
	ListQuestions(ctx context.Context, scope Scope) ([]*domain.Question, error)
	GetQuestionByID(ctx context.Context, id string) (*domain.Question, error)
	CreateQuestion(ctx context.Context, question *domain.Question) (*domain.Question, error)
	UpdateQuestion(ctx context.Context, id string, actor *domain.User, body string) (*domain.Question, error)
	// DeleteQuestion removes the question with its replies and returns it.
	DeleteQuestion(ctx context.Context, id string, actor *domain.User) (*domain.Question, error)

	CreateReply(ctx context.Context, reply *domain.Reply) (*domain.Reply, error)
	GetReplyByID(ctx context.Context, id string) (*domain.Reply, error)
	UpdateReply(ctx context.Context, id string, actor *domain.User, body string) (*domain.Reply, error)
	DeleteReply(ctx context.Context, id string, actor *domain.User) (*domain.Reply, error)

	// Vote sets or clears userID's vote and returns the reply's new count.
	Vote(ctx context.Context, replyID, userID string, up bool) (int, error)
	GetVoteSummaries(ctx context.Context, replyIDs []string, userID string) (map[string]VoteSummary, error)

	CreateReport(ctx context.Context, report *domain.Report) (*domain.Report, error)

	// For the dataloader. Replies are oldest first.
	GetRepliesByQuestionIDs(ctx context.Context, questionIDs []string) (map[string][]*domain.Reply, error)
}

// ValidateBody checks a question or reply body.
func ValidateBody(body string) error {
	if len(body) > MaxBodyLength {
		return fmt.Errorf("%w: body is too long", ErrInvalid)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: body cannot be empty", ErrInvalid)
	}
	return nil
}
