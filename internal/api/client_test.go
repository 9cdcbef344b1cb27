package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "u1",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(3, time.Millisecond))
}

func TestClient_FetchQuestions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/courses/5/questions", r.URL.Path)
		assert.Equal(t, "Bearer u1", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"id": 7, "title": "X", "authorIsInstructor": true, "replies": [{"id": 99, "body": "hi"}]}]`))
	})

	qs, err := c.FetchQuestions(context.Background(), qa.Scope{CourseID: "5"})
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, qa.ID("7"), qs[0].ID)
	assert.True(t, qs[0].IsInstructor)
	assert.Equal(t, qa.ID("99"), qs[0].Replies[0].ID)
}

func TestClient_FetchQuestionsWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lessons/2/questions", r.URL.Path)
		w.Write([]byte(`{"questions": [{"id": "a"}]}`))
	})

	qs, err := c.FetchQuestions(context.Background(), qa.Scope{CourseID: "5", LessonID: "2"})
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, qa.ID("a"), qs[0].ID)
}

func TestClient_FetchRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	})

	qs, err := c.FetchQuestions(context.Background(), qa.Scope{CourseID: "5"})
	require.NoError(t, err)
	assert.Empty(t, qs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_FetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such course", http.StatusNotFound)
	})

	_, err := c.FetchQuestions(context.Background(), qa.Scope{CourseID: "5"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "no such course")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_FetchInvalidScope(t *testing.T) {
	c := New("http://unused", "")
	_, err := c.FetchQuestions(context.Background(), qa.Scope{})
	assert.ErrorIs(t, err, qa.ErrInvalidScope)
}

func TestClient_CreateQuestion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/courses/5/questions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"title": "Q", "body": "why?"}, body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 12, "title": "Q", "body": "why?", "createdAt": "2024-01-01T00:00:00Z"}`))
	})

	q, err := c.CreateQuestion(context.Background(), qa.Scope{CourseID: "5"}, qa.QuestionDraft{Title: "Q", Body: "why?"})
	require.NoError(t, err)
	assert.Equal(t, qa.ID("12"), q.ID)
	assert.Equal(t, "2024-01-01T00:00:00Z", q.CreatedAt)
}

func TestClient_CreateReplyJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/questions/7/replies", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "<p>hi</p>", body["body"])
		w.Write([]byte(`{"id": 99, "body": "<p>hi</p>"}`))
	})

	r, err := c.CreateReply(context.Background(), "7", qa.ReplyDraft{Body: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, qa.ID("99"), r.ID)
	assert.Equal(t, qa.ID("7"), r.QuestionID)
}

func TestClient_CreateReplyMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "see attached", r.FormValue("body"))
		files := r.MultipartForm.File["files[]"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.txt", files[0].Filename)
		f, err := files[0].Open()
		require.NoError(t, err)
		content, _ := io.ReadAll(f)
		assert.Equal(t, "alpha", string(content))
		w.Write([]byte(`{"id": "100", "body": "see attached", "attachments": ["a.txt", "b.txt"]}`))
	})

	r, err := c.CreateReply(context.Background(), "7", qa.ReplyDraft{
		Body: "see attached",
		Attachments: []qa.Attachment{
			{Name: "a.txt", Content: []byte("alpha")},
			{Name: "b.txt", Content: []byte("beta")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, r.Attachments)
}

func TestClient_Votes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/replies/9/upvote":
			w.Write([]byte(`{"replyId": 9, "upvotes": 4}`))
		case "/replies/9/unvote":
			w.Write([]byte(`{"upvotes": 3}`))
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.Upvote(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, VoteResult{ReplyID: "9", Upvotes: 4}, res)

	res, err = c.Unvote(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, VoteResult{ReplyID: "9", Upvotes: 3}, res)
}

func TestClient_UpdateDeleteReport(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			var rep map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
			assert.Equal(t, map[string]string{"targetType": "reply", "targetId": "4", "reason": "spam"}, rep)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.UpdateQuestion(ctx, "1", "b"))
	require.NoError(t, c.UpdateReply(ctx, "2", "b"))
	require.NoError(t, c.DeleteQuestion(ctx, "1"))
	require.NoError(t, c.DeleteReply(ctx, "2"))
	require.NoError(t, c.SubmitReport(ctx, Report{TargetType: TargetReply, TargetID: "4", Reason: "spam"}))

	assert.Equal(t, []string{
		"PUT /questions/1",
		"PUT /replies/2",
		"DELETE /questions/1",
		"DELETE /replies/2",
		"POST /reports",
	}, seen)
}

func TestClient_CurrentUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me", r.URL.Path)
		w.Write([]byte(`{"id": 3, "displayName": "Ann", "role": "instructor"}`))
	})

	u, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, qa.User{ID: "3", DisplayName: "Ann", IsInstructor: true}, u)
}

func TestHTTPError(t *testing.T) {
	err := &HTTPError{Method: "GET", URL: "http://x/y", StatusCode: 500}
	assert.Equal(t, "GET http://x/y: HTTP 500", err.Error())
	assert.Equal(t, 500, StatusCode(err))
	assert.Zero(t, StatusCode(assert.AnError))
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func TestClient_UsesProvidedHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 3, "displayName": "Ann"}`))
	}))
	t.Cleanup(srv.Close)

	rt := &countingTransport{next: http.DefaultTransport}
	c := New(srv.URL, "u1",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHTTPClient(&http.Client{Transport: rt, Timeout: time.Second}))

	_, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), rt.calls.Load())
}
