package qa

import (
	"errors"
	"fmt"
	"net/url"
)

// JustNow is the CreatedAt value of an entity that exists only locally.
const JustNow = "just now"

var ErrInvalidScope = errors.New("scope needs a course or lesson id")

// Question is a discussion thread entry together with its replies.
type Question struct {
	ID           ID      `json:"id"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	Excerpt      string  `json:"excerpt,omitempty"`
	Lecture      string  `json:"lecture,omitempty"`
	AuthorName   string  `json:"authorName"`
	AuthorID     ID      `json:"authorId"`
	IsInstructor bool    `json:"isInstructor"`
	CreatedAt    string  `json:"createdAt"`
	UpvoteCount  int     `json:"upvotes"`
	Edited       bool    `json:"edited,omitempty"`
	Replies      []Reply `json:"replies"`
}

// Reply belongs to exactly one question.
type Reply struct {
	ID             ID       `json:"id"`
	QuestionID     ID       `json:"questionId,omitempty"`
	Body           string   `json:"body"`
	AuthorName     string   `json:"authorName"`
	AuthorID       ID       `json:"authorId"`
	IsInstructor   bool     `json:"isInstructor"`
	CreatedAt      string   `json:"createdAt"`
	UpvoteCount    int      `json:"upvotes"`
	UserHasUpvoted bool     `json:"userVoted"`
	Edited         bool     `json:"edited,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

// Clone returns a deep copy.
func (q Question) Clone() Question {
	out := q
	if q.Replies != nil {
		out.Replies = make([]Reply, len(q.Replies))
		for i, r := range q.Replies {
			out.Replies[i] = r.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (r Reply) Clone() Reply {
	out := r
	if r.Attachments != nil {
		out.Attachments = append([]string(nil), r.Attachments...)
	}
	return out
}

// QuestionDraft is what a user submits when asking.
type QuestionDraft struct {
	Title   string
	Body    string
	Lecture string
	Author  User
}

// Attachment is a file sent along with a reply.
type Attachment struct {
	Name    string
	Content []byte
}

// ReplyDraft is what a user submits when replying. Body is HTML produced by
// the editor and treated as opaque text.
type ReplyDraft struct {
	Body        string
	Attachments []Attachment
	Author      User
}

// QuestionPatch is a shallow update; nil fields are left alone.
type QuestionPatch struct {
	Title       *string
	Body        *string
	Edited      *bool
	UpvoteCount *int
}

// ReplyPatch is a shallow update; nil fields are left alone.
type ReplyPatch struct {
	Body           *string
	Edited         *bool
	UpvoteCount    *int
	UserHasUpvoted *bool
}

// Apply merges the patch into q.
func (p QuestionPatch) Apply(q *Question) {
	if p.Title != nil {
		q.Title = *p.Title
	}
	if p.Body != nil {
		q.Body = *p.Body
	}
	if p.Edited != nil {
		q.Edited = *p.Edited
	}
	if p.UpvoteCount != nil {
		q.UpvoteCount = *p.UpvoteCount
	}
}

// Apply merges the patch into r.
func (p ReplyPatch) Apply(r *Reply) {
	if p.Body != nil {
		r.Body = *p.Body
	}
	if p.Edited != nil {
		r.Edited = *p.Edited
	}
	if p.UpvoteCount != nil {
		r.UpvoteCount = *p.UpvoteCount
	}
	if p.UserHasUpvoted != nil {
		r.UserHasUpvoted = *p.UserHasUpvoted
	}
}

// MutationKind tells what a pending placeholder stands for.
type MutationKind string

const (
	KindQuestion MutationKind = "question"
	KindReply    MutationKind = "reply"
)

// PendingMutation tracks a placeholder until the server answers for it.
type PendingMutation struct {
	TemporaryID ID
	Kind        MutationKind
	ParentID    ID
}

// User is the signed-in viewer.
type User struct {
	ID           ID     `json:"id"`
	DisplayName  string `json:"displayName"`
	IsInstructor bool   `json:"isInstructor"`
	IsAdmin      bool   `json:"isAdmin"`
}

// CanModify reports whether the user may edit or delete content written by authorID.
func (u User) CanModify(authorID ID) bool {
	if u.ID == "" {
		return false
	}
	return u.IsAdmin || u.ID == authorID
}

// Scope selects the thread a view is attached to. A lesson id wins over a
// course id when both are set.
type Scope struct {
	CourseID string
	LessonID string
}

func (s Scope) Validate() error {
	if s.CourseID == "" && s.LessonID == "" {
		return ErrInvalidScope
	}
	return nil
}

// Group is the push group name for the scope.
func (s Scope) Group() string {
	if s.LessonID != "" {
		return "lesson-" + s.LessonID
	}
	return "course-" + s.CourseID
}

// Path is the REST collection path for the scope's questions.
func (s Scope) Path() string {
	if s.LessonID != "" {
		return fmt.Sprintf("/lessons/%s/questions", url.PathEscape(s.LessonID))
	}
	return fmt.Sprintf("/courses/%s/questions", url.PathEscape(s.CourseID))
}
