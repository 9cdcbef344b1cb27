package qa

import (
	"encoding/json"
	"strings"
)

// author carries every spelling the server has used for authorship and the
// instructor flag. It is collapsed into canonical fields once, on decode.
type author struct {
	AuthorName         string `json:"authorName"`
	AuthorDisplayName  string `json:"authorDisplayName"`
	AuthorID           ID     `json:"authorId"`
	Role               string `json:"role"`
	AuthorRole         string `json:"authorRole"`
	IsInstructor       *bool  `json:"isInstructor"`
	AuthorIsInstructor *bool  `json:"authorIsInstructor"`
}

func (a author) name() string {
	if a.AuthorName != "" {
		return a.AuthorName
	}
	return a.AuthorDisplayName
}

func (a author) instructor() bool {
	return IsInstructorRole(a.Role) ||
		IsInstructorRole(a.AuthorRole) ||
		(a.IsInstructor != nil && *a.IsInstructor) ||
		(a.AuthorIsInstructor != nil && *a.AuthorIsInstructor)
}

// IsInstructorRole reports whether a role label denotes an instructor.
func IsInstructorRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), "instructor")
}

type wireQuestion struct {
	author
	ID          ID      `json:"id"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	Excerpt     string  `json:"excerpt"`
	Lecture     string  `json:"lecture"`
	CreatedAt   string  `json:"createdAt"`
	Upvotes     *int    `json:"upvotes"`
	UpvoteCount *int    `json:"upvoteCount"`
	Edited      bool    `json:"edited"`
	Replies     []Reply `json:"replies"`
}

type wireReply struct {
	author
	ID             ID       `json:"id"`
	QuestionID     ID       `json:"questionId"`
	Body           string   `json:"body"`
	CreatedAt      string   `json:"createdAt"`
	Upvotes        *int     `json:"upvotes"`
	UpvoteCount    *int     `json:"upvoteCount"`
	UserVoted      *bool    `json:"userVoted"`
	UserHasUpvoted *bool    `json:"userHasUpvoted"`
	Edited         bool     `json:"edited"`
	Attachments    []string `json:"attachments"`
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var w wireQuestion
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*q = Question{
		ID:           w.ID,
		Title:        w.Title,
		Body:         w.Body,
		Excerpt:      w.Excerpt,
		Lecture:      w.Lecture,
		AuthorName:   w.name(),
		AuthorID:     w.AuthorID,
		IsInstructor: w.instructor(),
		CreatedAt:    w.CreatedAt,
		UpvoteCount:  firstInt(w.Upvotes, w.UpvoteCount),
		Edited:       w.Edited,
		Replies:      w.Replies,
	}
	if q.Replies == nil {
		q.Replies = []Reply{}
	}
	for i := range q.Replies {
		if q.Replies[i].QuestionID == "" {
			q.Replies[i].QuestionID = q.ID
		}
	}
	return nil
}

func (r *Reply) UnmarshalJSON(b []byte) error {
	var w wireReply
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Reply{
		ID:             w.ID,
		QuestionID:     w.QuestionID,
		Body:           w.Body,
		AuthorName:     w.name(),
		AuthorID:       w.AuthorID,
		IsInstructor:   w.instructor(),
		CreatedAt:      w.CreatedAt,
		UpvoteCount:    firstInt(w.Upvotes, w.UpvoteCount),
		UserHasUpvoted: firstBool(w.UserVoted, w.UserHasUpvoted),
		Edited:         w.Edited,
		Attachments:    w.Attachments,
	}
	return nil
}

func (u *User) UnmarshalJSON(b []byte) error {
	var w struct {
		ID           ID       `json:"id"`
		DisplayName  string   `json:"displayName"`
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Roles        []string `json:"roles"`
		IsInstructor bool     `json:"isInstructor"`
		IsAdmin      bool     `json:"isAdmin"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*u = User{
		ID:           w.ID,
		DisplayName:  w.DisplayName,
		IsInstructor: w.IsInstructor || IsInstructorRole(w.Role),
		IsAdmin:      w.IsAdmin || strings.EqualFold(w.Role, "admin"),
	}
	if u.DisplayName == "" {
		u.DisplayName = w.Name
	}
	for _, role := range w.Roles {
		switch {
		case IsInstructorRole(role):
			u.IsInstructor = true
		case strings.EqualFold(role, "admin"):
			u.IsAdmin = true
		}
	}
	return nil
}
