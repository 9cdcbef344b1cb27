package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store implements storage.Storage in memory. Returned entities are copies.
type Store struct {
	mu                sync.RWMutex
	users             map[string]*domain.User
	questions         map[string]*domain.Question
	replies           map[string]*domain.Reply
	repliesByQuestion map[string][]string            // map[questionID][]replyID
	votes             map[string]map[string]struct{} // map[replyID]set[userID]
	reports           []*domain.Report
	now               func() time.Time
}

func New() *Store {
	return &Store{
		users:             make(map[string]*domain.User),
		questions:         make(map[string]*domain.Question),
		replies:           make(map[string]*domain.Reply),
		repliesByQuestion: make(map[string][]string),
		votes:             make(map[string]map[string]struct{}),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// timestamp never repeats, so creation order is also sort order.
func (s *Store) timestamp(last time.Time) time.Time {
	t := s.now()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func copyQuestion(q *domain.Question) *domain.Question {
	c := *q
	c.Replies = nil
	return &c
}

func copyReply(r *domain.Reply) *domain.Reply {
	c := *r
	c.Attachments = append([]string(nil), r.Attachments...)
	c.Votes = nil
	return &c
}

// === Users ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = domain.RoleStudent
	}
	u := *user
	s.users[u.ID] = &u
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	c := *u
	return &c, nil
}

// === Questions ===

func (s *Store) ListQuestions(ctx context.Context, scope storage.Scope) ([]*domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Question, 0)
	for _, q := range s.questions {
		if scope.LessonID != "" {
			if q.LessonID != scope.LessonID {
				continue
			}
		} else if q.CourseID != scope.CourseID {
			continue
		}
		out = append(out, copyQuestion(q))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetQuestionByID(ctx context.Context, id string) (*domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, notFound("question", id)
	}
	return copyQuestion(q), nil
}

func (s *Store) latestQuestion() time.Time {
	var last time.Time
	for _, q := range s.questions {
		if q.CreatedAt.After(last) {
			last = q.CreatedAt
		}
	}
	return last
}

func (s *Store) CreateQuestion(ctx context.Context, question *domain.Question) (*domain.Question, error) {
	if strings.TrimSpace(question.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", storage.ErrInvalid)
	}
	if err := storage.ValidateBody(question.Body); err != nil {
		return nil, err
	}
	if question.CourseID == "" && question.LessonID == "" {
		return nil, fmt.Errorf("%w: question needs a course or lesson", storage.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	question.ID = uuid.NewString()
	question.CreatedAt = s.timestamp(s.latestQuestion())
	s.questions[question.ID] = copyQuestion(question)
	return question, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, id string, actor *domain.User, body string) (*domain.Question, error) {
	if err := storage.ValidateBody(body); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, notFound("question", id)
	}
	if !actor.CanModify(q.AuthorID) {
		return nil, storage.ErrForbidden
	}
	q.Body = body
	q.Edited = true
	return copyQuestion(q), nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string, actor *domain.User) (*domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, notFound("question", id)
	}
	if !actor.CanModify(q.AuthorID) {
		return nil, storage.ErrForbidden
	}
	for _, rID := range s.repliesByQuestion[id] {
		delete(s.replies, rID)
		delete(s.votes, rID)
	}
	delete(s.repliesByQuestion, id)
	delete(s.questions, id)
	return copyQuestion(q), nil
}

// === Replies ===

func (s *Store) CreateReply(ctx context.Context, reply *domain.Reply) (*domain.Reply, error) {
	if err := storage.ValidateBody(reply.Body); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[reply.QuestionID]; !ok {
		return nil, notFound("question", reply.QuestionID)
	}

	var last time.Time
	if ids := s.repliesByQuestion[reply.QuestionID]; len(ids) > 0 {
		last = s.replies[ids[len(ids)-1]].CreatedAt
	}
	reply.ID = uuid.NewString()
	reply.CreatedAt = s.timestamp(last)
	s.replies[reply.ID] = copyReply(reply)
	s.repliesByQuestion[reply.QuestionID] = append(s.repliesByQuestion[reply.QuestionID], reply.ID)
	return reply, nil
}

func (s *Store) GetReplyByID(ctx context.Context, id string) (*domain.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.replies[id]
	if !ok {
		return nil, notFound("reply", id)
	}
	return copyReply(r), nil
}

func (s *Store) UpdateReply(ctx context.Context, id string, actor *domain.User, body string) (*domain.Reply, error) {
	if err := storage.ValidateBody(body); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replies[id]
	if !ok {
		return nil, notFound("reply", id)
	}
	if !actor.CanModify(r.AuthorID) {
		return nil, storage.ErrForbidden
	}
	r.Body = body
	r.Edited = true
	return copyReply(r), nil
}

func (s *Store) DeleteReply(ctx context.Context, id string, actor *domain.User) (*domain.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replies[id]
	if !ok {
		return nil, notFound("reply", id)
	}
	if !actor.CanModify(r.AuthorID) {
		return nil, storage.ErrForbidden
	}
	ids := s.repliesByQuestion[r.QuestionID]
	for i, rID := range ids {
		if rID == id {
			s.repliesByQuestion[r.QuestionID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	delete(s.replies, id)
	delete(s.votes, id)
	return copyReply(r), nil
}

// === Votes ===

func (s *Store) Vote(ctx context.Context, replyID, userID string, up bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.replies[replyID]; !ok {
		return 0, notFound("reply", replyID)
	}
	voters := s.votes[replyID]
	if up {
		if voters == nil {
			voters = make(map[string]struct{})
			s.votes[replyID] = voters
		}
		voters[userID] = struct{}{}
	} else {
		delete(voters, userID)
	}
	return len(voters), nil
}

func (s *Store) GetVoteSummaries(ctx context.Context, replyIDs []string, userID string) (map[string]storage.VoteSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]storage.VoteSummary, len(replyIDs))
	for _, id := range replyIDs {
		voters := s.votes[id]
		_, voted := voters[userID]
		out[id] = storage.VoteSummary{Count: len(voters), Voted: voted}
	}
	return out, nil
}

// === Reports ===

func (s *Store) CreateReport(ctx context.Context, report *domain.Report) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report.ID = uuid.NewString()
	report.CreatedAt = s.now()
	c := *report
	s.reports = append(s.reports, &c)
	return report, nil
}

// Reports returns every report filed so far.
func (s *Store) Reports() []domain.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Report, len(s.reports))
	for i, r := range s.reports {
		out[i] = *r
	}
	return out
}

// === Dataloader Methods ===

func (s *Store) GetRepliesByQuestionIDs(ctx context.Context, questionIDs []string) (map[string][]*domain.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string][]*domain.Reply, len(questionIDs))
	for _, qID := range questionIDs {
		replyIDs := s.repliesByQuestion[qID]
		replies := make([]*domain.Reply, 0, len(replyIDs))
		for _, rID := range replyIDs {
			if r, ok := s.replies[rID]; ok {
				replies = append(replies, copyReply(r))
			}
		}
		sort.Slice(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
		results[qID] = replies
	}
	return results, nil
}
