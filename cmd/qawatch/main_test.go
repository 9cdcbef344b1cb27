package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/lesson-qa-sync/internal/api"
	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/server"
	"github.com/UkralStul/lesson-qa-sync/internal/session"
	"github.com/UkralStul/lesson-qa-sync/internal/storage/inmemory"
	"github.com/UkralStul/lesson-qa-sync/internal/view"
)

func newTestWatcher(t *testing.T) (*watcher, *bytes.Buffer) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := inmemory.New()
	_, err := store.CreateUser(context.Background(), &domain.User{ID: "ada", DisplayName: "Ada"})
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(store, nil, quiet).Routes(nil))
	t.Cleanup(srv.Close)

	s, err := session.Open(context.Background(), session.Config{
		Scope:  qa.Scope{CourseID: "c1"},
		API:    api.New(srv.URL, "ada", api.WithLogger(quiet)),
		Logger: quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	var out bytes.Buffer
	return &watcher{session: s, out: &out, lecture: view.AllLectures}, &out
}

func TestWatcher_AskReplyAndSearch(t *testing.T) {
	w, out := newTestWatcher(t)
	ctx := context.Background()

	assert.False(t, w.run(ctx, "ask Nil maps | why does writing panic?"))
	require.Len(t, w.session.Snapshot(), 1)
	q := w.session.Snapshot()[0]
	assert.Equal(t, "Nil maps", q.Title)
	assert.Equal(t, "why does writing panic?", q.Body)

	assert.False(t, w.run(ctx, "reply "+string(q.ID)+" make it first"))
	require.Len(t, w.session.Snapshot()[0].Replies, 1)
	assert.Equal(t, "make it first", w.session.Snapshot()[0].Replies[0].Body)

	out.Reset()
	w.run(ctx, "search slices")
	assert.Contains(t, out.String(), "0 questions")

	out.Reset()
	w.run(ctx, "search nil")
	assert.Contains(t, out.String(), "Nil maps")
}

func TestWatcher_FocusMarksQuestion(t *testing.T) {
	w, out := newTestWatcher(t)
	ctx := context.Background()

	w.run(ctx, "ask First | body")
	id := w.session.Snapshot()[0].ID

	out.Reset()
	w.run(ctx, "focus "+string(id))
	assert.Contains(t, out.String(), "> ["+string(id)+"] First")
}

func TestWatcher_Errors(t *testing.T) {
	w, out := newTestWatcher(t)
	ctx := context.Background()

	w.run(ctx, "frobnicate")
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)

	out.Reset()
	w.run(ctx, "delete missing")
	assert.Contains(t, out.String(), "error:")

	assert.True(t, w.run(ctx, "quit"))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "sending...", status("temp-1", qa.JustNow))
	assert.Equal(t, "2024-01-01", status("1", "2024-01-01"))
}
