package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

const excerptLength = 160

var tags = regexp.MustCompile(`<[^>]*>`)

// excerpt is the body as plain text, cut at a word boundary.
func excerpt(body string) string {
	text := strings.Join(strings.Fields(tags.ReplaceAllString(body, " ")), " ")
	runes := []rune(text)
	if len(runes) <= excerptLength {
		return text
	}
	cut := string(runes[:excerptLength])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func toUser(u *domain.User) qa.User {
	return qa.User{
		ID:           qa.ID(u.ID),
		DisplayName:  u.DisplayName,
		IsInstructor: u.IsInstructor(),
		IsAdmin:      u.IsAdmin,
	}
}

func toReply(r *domain.Reply, votes storage.VoteSummary) qa.Reply {
	return qa.Reply{
		ID:             qa.ID(r.ID),
		QuestionID:     qa.ID(r.QuestionID),
		Body:           r.Body,
		AuthorName:     r.AuthorName,
		AuthorID:       qa.ID(r.AuthorID),
		IsInstructor:   qa.IsInstructorRole(r.AuthorRole),
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
		UpvoteCount:    votes.Count,
		UserHasUpvoted: votes.Voted,
		Edited:         r.Edited,
		Attachments:    r.Attachments,
	}
}

func toQuestion(q *domain.Question, replies []*domain.Reply, votes map[string]storage.VoteSummary) qa.Question {
	out := qa.Question{
		ID:           qa.ID(q.ID),
		Title:        q.Title,
		Body:         q.Body,
		Excerpt:      excerpt(q.Body),
		Lecture:      q.Lecture,
		AuthorName:   q.AuthorName,
		AuthorID:     qa.ID(q.AuthorID),
		IsInstructor: qa.IsInstructorRole(q.AuthorRole),
		CreatedAt:    q.CreatedAt.UTC().Format(time.RFC3339),
		Edited:       q.Edited,
		Replies:      make([]qa.Reply, 0, len(replies)),
	}
	for _, r := range replies {
		out.Replies = append(out.Replies, toReply(r, votes[r.ID]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(storage.ErrInvalid, err)
	}
	return nil
}

// fail maps an error to a status. The body is plain text, which clients use
// as the error message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrForbidden):
		http.Error(w, "not allowed to modify this content", http.StatusForbidden)
	case errors.Is(err, storage.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
