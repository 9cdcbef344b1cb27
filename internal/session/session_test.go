package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/lesson-qa-sync/internal/api"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/reconcile"
	"github.com/UkralStul/lesson-qa-sync/internal/view"
)

var errBoom = errors.New("boom")

// fakeAPI keeps a server-side copy of the thread and lets tests inject
// failures or run code while a call is in flight.
type fakeAPI struct {
	mu        sync.Mutex
	questions []qa.Question
	user      qa.User
	nextID    int
	votes     map[qa.ID]int

	fetchErr, createErr, replyErr, updateErr, deleteErr, reportErr error
	onFetch, onCreate                                             func()
	reports                                                       []api.Report
}

func newFakeAPI(questions ...qa.Question) *fakeAPI {
	return &fakeAPI{
		questions: questions,
		user:      qa.User{ID: "u1", DisplayName: "Ada"},
		nextID:    100,
		votes:     map[qa.ID]int{},
	}
}

func (f *fakeAPI) FetchQuestions(context.Context, qa.Scope) ([]qa.Question, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]qa.Question, len(f.questions))
	for i, q := range f.questions {
		out[i] = q.Clone()
	}
	return out, nil
}

func (f *fakeAPI) CurrentUser(context.Context) (qa.User, error) { return f.user, nil }

func (f *fakeAPI) CreateQuestion(_ context.Context, _ qa.Scope, d qa.QuestionDraft) (qa.Question, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return qa.Question{}, f.createErr
	}
	f.nextID++
	q := qa.Question{ID: qa.ID(fmt.Sprint(f.nextID)), Title: d.Title, Body: d.Body, AuthorID: d.Author.ID, CreatedAt: "2024-01-01"}
	f.questions = append([]qa.Question{q}, f.questions...)
	return q, nil
}

func (f *fakeAPI) CreateReply(_ context.Context, questionID qa.ID, d qa.ReplyDraft) (qa.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return qa.Reply{}, f.replyErr
	}
	f.nextID++
	return qa.Reply{ID: qa.ID(fmt.Sprint(f.nextID)), QuestionID: questionID, Body: d.Body, AuthorID: d.Author.ID}, nil
}

func (f *fakeAPI) Upvote(_ context.Context, id qa.ID) (api.VoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[id]++
	return api.VoteResult{ReplyID: id, Upvotes: f.votes[id]}, nil
}

func (f *fakeAPI) Unvote(_ context.Context, id qa.ID) (api.VoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[id]--
	return api.VoteResult{ReplyID: id, Upvotes: f.votes[id]}, nil
}

func (f *fakeAPI) UpdateQuestion(_ context.Context, id qa.ID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.questions {
		if f.questions[i].ID == id {
			f.questions[i].Body = body
			f.questions[i].Edited = true
		}
	}
	return nil
}

func (f *fakeAPI) UpdateReply(context.Context, qa.ID, string) error { return f.updateErr }

func (f *fakeAPI) DeleteQuestion(_ context.Context, id qa.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.questions {
		if f.questions[i].ID == id {
			f.questions = append(f.questions[:i], f.questions[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) DeleteReply(context.Context, qa.ID) error { return f.deleteErr }

func (f *fakeAPI) SubmitReport(_ context.Context, r api.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.reportErr
}

type fakePush struct {
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	joined   []string
	left     []string
	closes   int
	leaveErr error
}

func newFakePush() *fakePush {
	return &fakePush{handlers: map[string][]func(json.RawMessage){}}
}

func (p *fakePush) On(event string, h func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = append(p.handlers[event], h)
}

func (p *fakePush) JoinGroup(_ context.Context, g string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, g)
	return nil
}

func (p *fakePush) LeaveGroup(_ context.Context, g string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, g)
	return p.leaveErr
}

func (p *fakePush) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return errors.New("already closed")
}

func (p *fakePush) emit(t *testing.T, event string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	p.mu.Lock()
	hs := append([]func(json.RawMessage){}, p.handlers[event]...)
	p.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func openTestSession(t *testing.T, fapi *fakeAPI, push *fakePush) *Session {
	t.Helper()
	cfg := Config{Scope: qa.Scope{LessonID: "l1"}, API: fapi}
	if push != nil {
		cfg.Dial = func(context.Context) (PushChannel, error) { return push, nil }
	}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func ids(questions []qa.Question) []qa.ID {
	out := make([]qa.ID, len(questions))
	for i, q := range questions {
		out[i] = q.ID
	}
	return out
}

func TestOpen_SeedsAndJoins(t *testing.T) {
	push := newFakePush()
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1", Title: "first"}), push)

	assert.Equal(t, []qa.ID{"1"}, ids(s.Snapshot()))
	assert.Equal(t, []string{"lesson-l1"}, push.joined)
	assert.True(t, s.PushEnabled())
	assert.Equal(t, qa.ID("u1"), s.User().ID)
	assert.False(t, s.Loading())
}

func TestOpen_InvalidScope(t *testing.T) {
	_, err := Open(context.Background(), Config{API: newFakeAPI()})
	assert.ErrorIs(t, err, qa.ErrInvalidScope)
}

func TestOpen_DialFailureRunsRESTOnly(t *testing.T) {
	s, err := Open(context.Background(), Config{
		Scope: qa.Scope{CourseID: "c1"},
		API:   newFakeAPI(qa.Question{ID: "1"}),
		Dial:  func(context.Context) (PushChannel, error) { return nil, errBoom },
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.False(t, s.PushEnabled())
	assert.Len(t, s.Snapshot(), 1)
}

func TestOpen_FetchFailureLeavesEmptyThread(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	fapi.fetchErr = errBoom
	s := openTestSession(t, fapi, nil)

	assert.Empty(t, s.Snapshot())
}

func TestAskQuestion_ResolvesPlaceholder(t *testing.T) {
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1"}), nil)

	id, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "t", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, qa.ID("101"), id)
	assert.Equal(t, []qa.ID{"101", "1"}, ids(s.Snapshot()))
	assert.Empty(t, s.Pending())
}

func TestAskQuestion_ShowsPlaceholderWhileInFlight(t *testing.T) {
	fapi := newFakeAPI()
	s := openTestSession(t, fapi, nil)

	var during []qa.Question
	fapi.onCreate = func() { during = s.Snapshot() }

	_, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "t", Body: "b"})
	require.NoError(t, err)

	require.Len(t, during, 1)
	assert.True(t, during[0].ID.IsTemporary())
	assert.Equal(t, qa.JustNow, during[0].CreatedAt)
	assert.Equal(t, "Ada", during[0].AuthorName)
}

func TestAskQuestion_EchoedPushDoesNotDuplicate(t *testing.T) {
	fapi := newFakeAPI()
	push := newFakePush()
	s := openTestSession(t, fapi, push)

	fapi.onCreate = func() {
		push.emit(t, reconcile.EventQuestionAdded, qa.Question{ID: "101", Title: "t"})
	}

	_, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "t"})
	require.NoError(t, err)

	assert.Equal(t, []qa.ID{"101"}, ids(s.Snapshot()))
}

func TestAskQuestion_FailureRollsBack(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	fapi.createErr = errBoom
	s := openTestSession(t, fapi, nil)

	_, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "t"})
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, []qa.ID{"1"}, ids(s.Snapshot()))
	assert.Empty(t, s.Pending())
}

func TestAskQuestion_ResultAfterCloseIsDropped(t *testing.T) {
	fapi := newFakeAPI()
	s := openTestSession(t, fapi, newFakePush())
	fapi.onCreate = func() { s.Close(context.Background()) }

	_, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "t"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReply(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	s := openTestSession(t, fapi, nil)

	id, err := s.Reply(context.Background(), "1", qa.ReplyDraft{Body: "r"})
	require.NoError(t, err)

	q := s.Snapshot()[0]
	require.Len(t, q.Replies, 1)
	assert.Equal(t, id, q.Replies[0].ID)
	assert.Equal(t, qa.ID("1"), q.Replies[0].QuestionID)
}

func TestReply_FailureRollsBack(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	fapi.replyErr = errBoom
	s := openTestSession(t, fapi, nil)

	_, err := s.Reply(context.Background(), "1", qa.ReplyDraft{Body: "r", Attachments: []qa.Attachment{{Name: "a.txt"}}})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, s.Snapshot()[0].Replies)
}

func TestReply_Guards(t *testing.T) {
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1"}), nil)

	_, err := s.Reply(context.Background(), "temp-5", qa.ReplyDraft{Body: "r"})
	assert.ErrorIs(t, err, ErrPending)

	_, err = s.Reply(context.Background(), "404", qa.ReplyDraft{Body: "r"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpvoteAndUnvote(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1", Replies: []qa.Reply{{ID: "9", QuestionID: "1"}}})
	s := openTestSession(t, fapi, nil)
	ctx := context.Background()

	require.NoError(t, s.Upvote(ctx, "1", "9"))
	r := s.Snapshot()[0].Replies[0]
	assert.Equal(t, 1, r.UpvoteCount)
	assert.True(t, r.UserHasUpvoted)

	require.NoError(t, s.Unvote(ctx, "1", "9"))
	r = s.Snapshot()[0].Replies[0]
	assert.Equal(t, 0, r.UpvoteCount)
	assert.False(t, r.UserHasUpvoted)
}

func TestEditQuestion_FailureRevertsOnRefresh(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1", Body: "original"})
	fapi.updateErr = errBoom
	s := openTestSession(t, fapi, nil)

	err := s.EditQuestion(context.Background(), "1", "changed")
	assert.ErrorIs(t, err, errBoom)

	q := s.Snapshot()[0]
	assert.Equal(t, "original", q.Body)
	assert.False(t, q.Edited)
}

func TestEditReply_FailureRevertsOnRefresh(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1", Replies: []qa.Reply{{ID: "9", QuestionID: "1", Body: "pre-edit"}}})
	fapi.updateErr = errBoom
	s := openTestSession(t, fapi, nil)

	var during qa.Reply
	fapi.onFetch = func() { during = s.Snapshot()[0].Replies[0] }

	err := s.EditReply(context.Background(), "1", "9", "post-edit")
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, "post-edit", during.Body)
	assert.True(t, during.Edited)
	r := s.Snapshot()[0].Replies[0]
	assert.Equal(t, "pre-edit", r.Body)
	assert.False(t, r.Edited)
}

func TestEditQuestion_Success(t *testing.T) {
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1", Body: "original"}), nil)

	require.NoError(t, s.EditQuestion(context.Background(), "1", "changed"))

	q := s.Snapshot()[0]
	assert.Equal(t, "changed", q.Body)
	assert.True(t, q.Edited)
}

func TestDeleteQuestion_FailureRestoresOnRefresh(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"}, qa.Question{ID: "2"})
	fapi.deleteErr = errBoom
	s := openTestSession(t, fapi, nil)

	var during []qa.ID
	fapi.onFetch = func() { during = ids(s.Snapshot()) }

	err := s.DeleteQuestion(context.Background(), "1")
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, []qa.ID{"2"}, during)
	assert.Equal(t, []qa.ID{"1", "2"}, ids(s.Snapshot()))
}

func TestDeleteQuestion_Success(t *testing.T) {
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1"}, qa.Question{ID: "2"}), nil)

	require.NoError(t, s.DeleteQuestion(context.Background(), "1"))
	assert.Equal(t, []qa.ID{"2"}, ids(s.Snapshot()))
}

func TestReport(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	s := openTestSession(t, fapi, nil)

	require.NoError(t, s.Report(context.Background(), api.TargetQuestion, "1", "spam"))
	assert.Equal(t, []api.Report{{TargetType: api.TargetQuestion, TargetID: "1", Reason: "spam"}}, fapi.reports)

	fapi.reportErr = errBoom
	assert.ErrorIs(t, s.Report(context.Background(), api.TargetReply, "2", "rude"), errBoom)
	assert.Len(t, s.Snapshot(), 1)
}

func TestPush_AppliedToThread(t *testing.T) {
	push := newFakePush()
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1"}), push)

	push.emit(t, reconcile.EventQuestionAdded, map[string]any{"id": 2, "title": "pushed"})
	push.emit(t, reconcile.EventReplyAdded, map[string]any{"id": 3, "questionId": 1, "body": "hi"})
	assert.Equal(t, []qa.ID{"2", "1"}, ids(s.Snapshot()))
	assert.Len(t, s.Snapshot()[1].Replies, 1)

	push.emit(t, reconcile.EventQuestionDeleted, map[string]any{"questionId": "2"})
	assert.Equal(t, []qa.ID{"1"}, ids(s.Snapshot()))
}

func TestPush_HeldBackDuringRefresh(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	push := newFakePush()
	s := openTestSession(t, fapi, push)

	fapi.onFetch = func() {
		assert.True(t, s.Loading())
		push.emit(t, reconcile.EventQuestionAdded, qa.Question{ID: "2"})
	}
	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t, []qa.ID{"2", "1"}, ids(s.Snapshot()))
}

// finishes fails the test if fn does not return within a second.
func finishes(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call did not return")
	}
}

func TestSubscriberMayCheckLoading(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1"})
	push := newFakePush()
	s := openTestSession(t, fapi, push)

	var calls atomic.Int32
	cancel := s.Subscribe(func() {
		calls.Add(1)
		_ = s.Loading()
		_ = s.Focus()
	})
	defer cancel()

	finishes(t, func() { assert.NoError(t, s.Refresh(context.Background())) })
	finishes(t, func() { push.emit(t, reconcile.EventQuestionAdded, qa.Question{ID: "2"}) })

	fapi.onFetch = func() { push.emit(t, reconcile.EventQuestionAdded, qa.Question{ID: "3"}) }
	finishes(t, func() { assert.NoError(t, s.Refresh(context.Background())) })

	assert.False(t, s.Loading())
	assert.Equal(t, []qa.ID{"3", "1"}, ids(s.Snapshot()))
	assert.GreaterOrEqual(t, int(calls.Load()), 3)
}

func TestFocus_NotifiesSubscribers(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "7"}, qa.Question{ID: "8"})
	s, err := Open(context.Background(), Config{
		Scope:             qa.Scope{CourseID: "c1"},
		API:               fapi,
		HighlightDuration: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	var mu sync.Mutex
	var seen []view.State
	cancel := s.Subscribe(func() {
		mu.Lock()
		seen = append(seen, s.Focus())
		mu.Unlock()
	})
	defer cancel()

	s.Navigate(view.Target{QuestionID: "8"})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2 && seen[len(seen)-1] == view.State{}
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, view.State{QuestionID: "8"}, seen[0])
}

func TestRefresh_SeedNotificationCarriesFocus(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "7"})
	s := openTestSession(t, fapi, nil)

	s.Navigate(view.Target{QuestionID: "9"})
	fapi.questions = append(fapi.questions, qa.Question{ID: "9"})

	var focused []bool
	cancel := s.Subscribe(func() {
		focused = append(focused, s.Focus().QuestionID == "9" && len(s.Snapshot()) == 2)
	})
	defer cancel()

	require.NoError(t, s.Refresh(context.Background()))
	require.NotEmpty(t, focused)
	assert.True(t, focused[len(focused)-1])
}

func TestReplyActions_MissingReply(t *testing.T) {
	fapi := newFakeAPI(qa.Question{ID: "1", Replies: []qa.Reply{{ID: "9", QuestionID: "1"}}})
	s := openTestSession(t, fapi, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Upvote(ctx, "1", "404"), ErrNotFound)
	assert.ErrorIs(t, s.Unvote(ctx, "2", "9"), ErrNotFound)
	assert.ErrorIs(t, s.EditReply(ctx, "1", "404", "x"), ErrNotFound)
	assert.Empty(t, fapi.votes)
}

func TestClose(t *testing.T) {
	push := newFakePush()
	push.leaveErr = errBoom
	s := openTestSession(t, newFakeAPI(qa.Question{ID: "1"}), push)

	s.Close(context.Background())
	s.Close(context.Background())

	assert.Equal(t, []string{"lesson-l1"}, push.left)
	assert.Equal(t, 1, push.closes)

	push.emit(t, reconcile.EventQuestionAdded, qa.Question{ID: "2"})
	assert.Equal(t, []qa.ID{"1"}, ids(s.Snapshot()))

	_, err := s.AskQuestion(context.Background(), qa.QuestionDraft{Title: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.DeleteQuestion(context.Background(), "1"), ErrClosed)
}

func TestFocus(t *testing.T) {
	fapi := newFakeAPI(
		qa.Question{ID: "7", Replies: []qa.Reply{{ID: "70", QuestionID: "7"}}},
		qa.Question{ID: "8"},
	)
	s, err := Open(context.Background(), Config{
		Scope: qa.Scope{CourseID: "c1"},
		API:   fapi,
		Focus: view.Target{QuestionID: qa.NormalizeID("7")},
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Equal(t, qa.ID("7"), s.Focus().QuestionID)

	s.Navigate(view.Target{ReplyID: "70"})
	st := s.Focus()
	assert.Equal(t, qa.ID("70"), st.ReplyID)
	assert.Equal(t, qa.ID("7"), st.Parent)
}

func TestViewFilters(t *testing.T) {
	s := openTestSession(t, newFakeAPI(
		qa.Question{ID: "1", Title: "Goroutines", Lecture: "Concurrency"},
		qa.Question{ID: "2", Title: "Slices", Lecture: "Basics"},
	), nil)

	assert.Equal(t, []qa.ID{"1"}, ids(s.View("gorout", view.AllLectures)))
	assert.Equal(t, []qa.ID{"2"}, ids(s.View("", "Basics")))
	assert.Equal(t, []string{view.AllLectures, "Basics", "Concurrency"}, s.Lectures())
}

func TestCanModify(t *testing.T) {
	s := openTestSession(t, newFakeAPI(), nil)
	assert.True(t, s.CanModify("u1"))
	assert.False(t, s.CanModify("u2"))
}
