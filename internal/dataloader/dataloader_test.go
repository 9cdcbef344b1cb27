package dataloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
	"github.com/UkralStul/lesson-qa-sync/internal/storage/inmemory"
)

type countingStore struct {
	storage.Storage
	calls atomic.Int32
	err   error
}

func (c *countingStore) GetRepliesByQuestionIDs(ctx context.Context, ids []string) (map[string][]*domain.Reply, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Storage.GetRepliesByQuestionIDs(ctx, ids)
}

func seed(t *testing.T) (*countingStore, []string) {
	mem := inmemory.New()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		q, err := mem.CreateQuestion(ctx, &domain.Question{CourseID: "c", Title: "q", Body: "b", AuthorID: "u"})
		require.NoError(t, err)
		ids = append(ids, q.ID)
		_, err = mem.CreateReply(ctx, &domain.Reply{QuestionID: q.ID, Body: "r", AuthorID: "u"})
		require.NoError(t, err)
	}
	return &countingStore{Storage: mem}, ids
}

func TestLoaders_RepliesBatchesIntoOneCall(t *testing.T) {
	store, ids := seed(t)

	replies, err := NewLoaders(store).Replies(context.Background(), ids)
	require.NoError(t, err)

	assert.Equal(t, int32(1), store.calls.Load())
	for _, id := range ids {
		require.Len(t, replies[id], 1)
		assert.Equal(t, id, replies[id][0].QuestionID)
	}
}

func TestLoaders_RepliesError(t *testing.T) {
	store, ids := seed(t)
	store.err = errors.New("db down")

	_, err := NewLoaders(store).Replies(context.Background(), ids)
	assert.ErrorContains(t, err, "db down")
}

func TestMiddleware(t *testing.T) {
	store, ids := seed(t)

	var got *Loaders
	h := Middleware(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = For(r.Context())
		_, err := got.Replies(r.Context(), ids[:1])
		assert.NoError(t, err)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotNil(t, got)
	assert.Nil(t, For(context.Background()))
}
