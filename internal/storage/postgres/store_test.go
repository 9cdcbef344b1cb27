package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

func TestCheckID(t *testing.T) {
	assert.NoError(t, checkID("question", uuid.NewString()))

	err := checkID("question", "abc")
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, err.Error(), "question abc")
	assert.ErrorIs(t, checkID("reply", ""), storage.ErrNotFound)
}

// A store without a connection shows the malformed ids never reach the
// database.
func TestStore_MalformedIDsAreNotFound(t *testing.T) {
	s := &Store{}
	ctx := context.Background()
	actor := &domain.User{ID: "u1"}

	_, err := s.GetQuestionByID(ctx, "abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.UpdateQuestion(ctx, "abc", actor, "body")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.DeleteQuestion(ctx, "42", actor)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.CreateReply(ctx, &domain.Reply{QuestionID: "abc", Body: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetReplyByID(ctx, "abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.UpdateReply(ctx, "abc", actor, "body")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.DeleteReply(ctx, "abc", actor)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Vote(ctx, "abc", "u1", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_BatchReadsSkipMalformedIDs(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	votes, err := s.GetVoteSummaries(ctx, []string{"abc", "7"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]storage.VoteSummary{"abc": {}, "7": {}}, votes)

	replies, err := s.GetRepliesByQuestionIDs(ctx, []string{"abc"})
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestValidIDs(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, []string{id}, validIDs([]string{"x", id, ""}))
}
