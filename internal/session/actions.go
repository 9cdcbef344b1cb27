package session

import (
	"context"

	"github.com/UkralStul/lesson-qa-sync/internal/api"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// Every action applies its optimistic change first, then calls the server,
// then either settles the change or compensates for it. Results that arrive
// after Close are dropped and reported as ErrClosed.

// AskQuestion shows the question at once under a temporary id and swaps in
// the server's copy when it answers. A failed create removes the placeholder.
func (s *Session) AskQuestion(ctx context.Context, d qa.QuestionDraft) (qa.ID, error) {
	if !s.active() {
		return "", ErrClosed
	}
	d.Author = s.user
	tmp := s.store.InsertOptimisticQuestion(d)

	q, err := s.api.CreateQuestion(ctx, s.scope, d)
	if !s.active() {
		return "", ErrClosed
	}
	if err != nil {
		s.store.RemoveQuestion(tmp)
		s.logger.Warn("Create question failed", "temporary_id", tmp, "error", err)
		return "", err
	}
	s.store.ResolveQuestion(tmp, q)
	return q.ID, nil
}

// Reply follows the same policy as AskQuestion, whether or not the reply
// carries attachments.
func (s *Session) Reply(ctx context.Context, questionID qa.ID, d qa.ReplyDraft) (qa.ID, error) {
	if !s.active() {
		return "", ErrClosed
	}
	if questionID.IsTemporary() {
		return "", ErrPending
	}
	d.Author = s.user
	tmp, ok := s.store.InsertOptimisticReply(questionID, d)
	if !ok {
		return "", ErrNotFound
	}

	r, err := s.api.CreateReply(ctx, questionID, d)
	if !s.active() {
		return "", ErrClosed
	}
	if err != nil {
		s.store.RemoveReply(questionID, tmp)
		s.logger.Warn("Create reply failed", "question_id", questionID, "temporary_id", tmp, "error", err)
		return "", err
	}
	s.store.ResolveReply(questionID, tmp, r)
	return r.ID, nil
}

// Upvote changes nothing locally until the server returns the new count.
func (s *Session) Upvote(ctx context.Context, questionID, replyID qa.ID) error {
	return s.vote(ctx, questionID, replyID, true)
}

// Unvote withdraws the user's vote, again only on the server's word.
func (s *Session) Unvote(ctx context.Context, questionID, replyID qa.ID) error {
	return s.vote(ctx, questionID, replyID, false)
}

func (s *Session) vote(ctx context.Context, questionID, replyID qa.ID, up bool) error {
	if !s.active() {
		return ErrClosed
	}
	if replyID.IsTemporary() {
		return ErrPending
	}
	if _, ok := s.store.Reply(questionID, replyID); !ok {
		return ErrNotFound
	}
	call := s.api.Unvote
	if up {
		call = s.api.Upvote
	}
	res, err := call(ctx, replyID)
	if !s.active() {
		return ErrClosed
	}
	if err != nil {
		s.logger.Warn("Vote failed", "reply_id", replyID, "upvote", up, "error", err)
		return err
	}
	s.store.PatchReply(questionID, replyID, qa.ReplyPatch{
		UpvoteCount:    &res.Upvotes,
		UserHasUpvoted: &up,
	})
	return nil
}

// EditQuestion shows the new body at once, saves it, and then reloads the
// thread whatever the outcome so the view ends on the server's state.
func (s *Session) EditQuestion(ctx context.Context, id qa.ID, body string) error {
	if !s.active() {
		return ErrClosed
	}
	if id.IsTemporary() {
		return ErrPending
	}
	edited := true
	s.store.PatchQuestion(id, qa.QuestionPatch{Body: &body, Edited: &edited})

	err := s.api.UpdateQuestion(ctx, id, body)
	if err != nil {
		s.logger.Warn("Edit question failed", "question_id", id, "error", err)
	}
	return s.settle(ctx, err)
}

// EditReply is EditQuestion for a reply.
func (s *Session) EditReply(ctx context.Context, questionID, replyID qa.ID, body string) error {
	if !s.active() {
		return ErrClosed
	}
	if replyID.IsTemporary() {
		return ErrPending
	}
	if _, ok := s.store.Reply(questionID, replyID); !ok {
		return ErrNotFound
	}
	edited := true
	s.store.PatchReply(questionID, replyID, qa.ReplyPatch{Body: &body, Edited: &edited})

	err := s.api.UpdateReply(ctx, replyID, body)
	if err != nil {
		s.logger.Warn("Edit reply failed", "question_id", questionID, "reply_id", replyID, "error", err)
	}
	return s.settle(ctx, err)
}

// DeleteQuestion hides the question at once and reloads afterwards, so a
// delete the server refused shows up again.
func (s *Session) DeleteQuestion(ctx context.Context, id qa.ID) error {
	if !s.active() {
		return ErrClosed
	}
	if id.IsTemporary() {
		return ErrPending
	}
	s.store.RemoveQuestion(id)

	err := s.api.DeleteQuestion(ctx, id)
	if err != nil {
		s.logger.Warn("Delete question failed", "question_id", id, "error", err)
	}
	return s.settle(ctx, err)
}

// DeleteReply is DeleteQuestion for a reply.
func (s *Session) DeleteReply(ctx context.Context, questionID, replyID qa.ID) error {
	if !s.active() {
		return ErrClosed
	}
	if replyID.IsTemporary() {
		return ErrPending
	}
	s.store.RemoveReply(questionID, replyID)

	err := s.api.DeleteReply(ctx, replyID)
	if err != nil {
		s.logger.Warn("Delete reply failed", "question_id", questionID, "reply_id", replyID, "error", err)
	}
	return s.settle(ctx, err)
}

// settle reloads the thread after an edit or delete and reports the call's
// own error first.
func (s *Session) settle(ctx context.Context, callErr error) error {
	if !s.active() {
		return ErrClosed
	}
	refreshErr := s.Refresh(ctx)
	if callErr != nil {
		return callErr
	}
	return refreshErr
}

// Report files an abuse report. Nothing in the thread changes.
func (s *Session) Report(ctx context.Context, targetType string, targetID qa.ID, reason string) error {
	if !s.active() {
		return ErrClosed
	}
	err := s.api.SubmitReport(ctx, api.Report{TargetType: targetType, TargetID: targetID, Reason: reason})
	if err != nil {
		s.logger.Info("Report not submitted", "target_type", targetType, "target_id", targetID, "error", err)
	}
	return err
}
