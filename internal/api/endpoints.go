package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// Report target types.
const (
	TargetQuestion = "question"
	TargetReply    = "reply"
)

// VoteResult is the authoritative vote count after an upvote or unvote.
type VoteResult struct {
	ReplyID qa.ID `json:"replyId"`
	Upvotes int   `json:"upvotes"`
}

type Report struct {
	TargetType string `json:"targetType"`
	TargetID   qa.ID  `json:"targetId"`
	Reason     string `json:"reason"`
}

type newQuestion struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Lecture string `json:"lecture,omitempty"`
}

type bodyOnly struct {
	Body string `json:"body"`
}

func escape(id qa.ID) string { return url.PathEscape(string(id)) }

// questionList accepts a bare array or an object wrapping it.
type questionList []qa.Question

func (l *questionList) UnmarshalJSON(b []byte) error {
	var list []qa.Question
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var wrapped struct {
		Questions []qa.Question `json:"questions"`
		Data      []qa.Question `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Questions != nil {
		*l = wrapped.Questions
	} else {
		*l = wrapped.Data
	}
	return nil
}

// FetchQuestions loads the thread for a scope.
func (c *Client) FetchQuestions(ctx context.Context, scope qa.Scope) ([]qa.Question, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var list questionList
	if err := get(ctx, c, scope.Path(), &list); err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	if list == nil {
		return []qa.Question{}, nil
	}
	return list, nil
}

// CurrentUser resolves the signed-in user.
func (c *Client) CurrentUser(ctx context.Context) (qa.User, error) {
	var u qa.User
	if err := get(ctx, c, "/users/me", &u); err != nil {
		return qa.User{}, fmt.Errorf("current user: %w", err)
	}
	return u, nil
}

// CreateQuestion posts a new question to the scope.
func (c *Client) CreateQuestion(ctx context.Context, scope qa.Scope, d qa.QuestionDraft) (qa.Question, error) {
	if err := scope.Validate(); err != nil {
		return qa.Question{}, err
	}
	var q qa.Question
	args := newQuestion{Title: d.Title, Body: d.Body, Lecture: d.Lecture}
	if err := doJSON(ctx, c, http.MethodPost, scope.Path(), args, &q); err != nil {
		return qa.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// CreateReply posts a reply. Drafts with attachments go out as a multipart
// form with a body field and files[] parts, others as JSON.
func (c *Client) CreateReply(ctx context.Context, questionID qa.ID, d qa.ReplyDraft) (qa.Reply, error) {
	path := fmt.Sprintf("/questions/%s/replies", escape(questionID))
	var r qa.Reply

	var err error
	if len(d.Attachments) == 0 {
		err = doJSON(ctx, c, http.MethodPost, path, bodyOnly{Body: d.Body}, &r)
	} else {
		var buf bytes.Buffer
		contentType, encErr := encodeMultipart(&buf, d)
		if encErr != nil {
			return qa.Reply{}, fmt.Errorf("create reply: %w", encErr)
		}
		err = do(ctx, c, http.MethodPost, path, &buf, contentType, &r)
	}
	if err != nil {
		return qa.Reply{}, fmt.Errorf("create reply: %w", err)
	}
	if r.QuestionID == "" {
		r.QuestionID = questionID
	}
	return r, nil
}

func encodeMultipart(buf *bytes.Buffer, d qa.ReplyDraft) (string, error) {
	w := multipart.NewWriter(buf)
	if err := w.WriteField("body", d.Body); err != nil {
		return "", err
	}
	for _, a := range d.Attachments {
		part, err := w.CreateFormFile("files[]", a.Name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(a.Content); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return w.FormDataContentType(), nil
}

// Upvote records the user's vote on a reply.
func (c *Client) Upvote(ctx context.Context, replyID qa.ID) (VoteResult, error) {
	return c.vote(ctx, replyID, "upvote")
}

// Unvote withdraws the user's vote on a reply.
func (c *Client) Unvote(ctx context.Context, replyID qa.ID) (VoteResult, error) {
	return c.vote(ctx, replyID, "unvote")
}

func (c *Client) vote(ctx context.Context, replyID qa.ID, action string) (VoteResult, error) {
	var res VoteResult
	path := fmt.Sprintf("/replies/%s/%s", escape(replyID), action)
	if err := doJSON[VoteResult](ctx, c, http.MethodPost, path, nil, &res); err != nil {
		return VoteResult{}, fmt.Errorf("%s reply %s: %w", action, replyID, err)
	}
	if res.ReplyID == "" {
		res.ReplyID = replyID
	}
	return res, nil
}

// UpdateQuestion replaces a question's body.
func (c *Client) UpdateQuestion(ctx context.Context, id qa.ID, body string) error {
	path := fmt.Sprintf("/questions/%s", escape(id))
	if err := doJSON[struct{}](ctx, c, http.MethodPut, path, bodyOnly{Body: body}, nil); err != nil {
		return fmt.Errorf("update question %s: %w", id, err)
	}
	return nil
}

// UpdateReply replaces a reply's body.
func (c *Client) UpdateReply(ctx context.Context, id qa.ID, body string) error {
	path := fmt.Sprintf("/replies/%s", escape(id))
	if err := doJSON[struct{}](ctx, c, http.MethodPut, path, bodyOnly{Body: body}, nil); err != nil {
		return fmt.Errorf("update reply %s: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteQuestion(ctx context.Context, id qa.ID) error {
	path := fmt.Sprintf("/questions/%s", escape(id))
	if err := do[struct{}](ctx, c, http.MethodDelete, path, nil, "", nil); err != nil {
		return fmt.Errorf("delete question %s: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteReply(ctx context.Context, id qa.ID) error {
	path := fmt.Sprintf("/replies/%s", escape(id))
	if err := do[struct{}](ctx, c, http.MethodDelete, path, nil, "", nil); err != nil {
		return fmt.Errorf("delete reply %s: %w", id, err)
	}
	return nil
}

// SubmitReport files an abuse report.
func (c *Client) SubmitReport(ctx context.Context, r Report) error {
	if err := doJSON[struct{}](ctx, c, http.MethodPost, "/reports", r, nil); err != nil {
		return fmt.Errorf("submit report: %w", err)
	}
	return nil
}
