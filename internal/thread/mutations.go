package thread

import (
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// InsertOptimisticQuestion prepends a placeholder built from the draft and
// returns its temporary id.
func (s *Store) InsertOptimisticQuestion(d qa.QuestionDraft) qa.ID {
	s.mu.Lock()
	id := s.tempID()
	s.questions = append([]*qa.Question{{
		ID:           id,
		Title:        d.Title,
		Body:         d.Body,
		Lecture:      d.Lecture,
		AuthorName:   d.Author.DisplayName,
		AuthorID:     d.Author.ID,
		IsInstructor: d.Author.IsInstructor,
		CreatedAt:    qa.JustNow,
		Replies:      []qa.Reply{},
	}}, s.questions...)
	s.pending[id] = qa.PendingMutation{TemporaryID: id, Kind: qa.KindQuestion}
	s.mu.Unlock()

	s.notify()
	return id
}

// ResolveQuestion swaps the placeholder for the server's question in place.
// A missing placeholder means it was removed meanwhile, and the server copy is
// dropped rather than resurrected. Any other entry already holding the
// permanent id (an echoed push) is removed so only one survives.
func (s *Store) ResolveQuestion(tempID qa.ID, q qa.Question) bool {
	s.mu.Lock()
	delete(s.pending, tempID)
	i := s.indexOf(tempID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	c := q.Clone()
	c.Replies = mergeReplies(c.Replies, s.questions[i].Replies)
	for j := len(s.questions) - 1; j >= 0; j-- {
		if j != i && s.questions[j].ID == c.ID {
			// replies pushed onto the echoed copy are kept
			c.Replies = mergeReplies(c.Replies, s.questions[j].Replies)
		}
	}
	for j := range c.Replies {
		c.Replies[j].QuestionID = c.ID
	}
	s.questions[i] = &c
	for j := len(s.questions) - 1; j >= 0; j-- {
		if s.questions[j] != &c && s.questions[j].ID == c.ID {
			s.removeAt(j)
		}
	}
	s.mu.Unlock()

	return s.changed(true)
}

// InsertOptimisticReply appends a placeholder reply to a question.
func (s *Store) InsertOptimisticReply(questionID qa.ID, d qa.ReplyDraft) (qa.ID, bool) {
	s.mu.Lock()
	i := s.indexOf(questionID)
	if i < 0 {
		s.mu.Unlock()
		return "", false
	}
	id := s.tempID()
	names := make([]string, 0, len(d.Attachments))
	for _, a := range d.Attachments {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		names = nil
	}
	q := s.questions[i]
	q.Replies = append(q.Replies, qa.Reply{
		ID:           id,
		QuestionID:   q.ID,
		Body:         d.Body,
		AuthorName:   d.Author.DisplayName,
		AuthorID:     d.Author.ID,
		IsInstructor: d.Author.IsInstructor,
		CreatedAt:    qa.JustNow,
		Attachments:  names,
	})
	s.pending[id] = qa.PendingMutation{TemporaryID: id, Kind: qa.KindReply, ParentID: q.ID}
	s.mu.Unlock()

	s.notify()
	return id, true
}

// ResolveReply is ResolveQuestion scoped to one question's replies.
func (s *Store) ResolveReply(questionID, tempID qa.ID, r qa.Reply) bool {
	s.mu.Lock()
	delete(s.pending, tempID)
	i := s.indexOf(questionID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	q := s.questions[i]
	j := replyIndex(q, tempID)
	if j < 0 {
		s.mu.Unlock()
		return false
	}
	c := r.Clone()
	c.QuestionID = q.ID
	q.Replies[j] = c
	for k := len(q.Replies) - 1; k >= 0; k-- {
		if k != j && q.Replies[k].ID == c.ID {
			q.Replies = append(q.Replies[:k], q.Replies[k+1:]...)
		}
	}
	s.mu.Unlock()

	return s.changed(true)
}

// AddQuestion prepends a question delivered by push. Questions already present
// and placeholders carrying temporary ids are ignored.
func (s *Store) AddQuestion(q qa.Question) bool {
	if q.ID == "" || q.ID.IsTemporary() {
		return false
	}
	s.mu.Lock()
	if s.indexOf(q.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	c := q.Clone()
	if c.Replies == nil {
		c.Replies = []qa.Reply{}
	}
	s.questions = append([]*qa.Question{&c}, s.questions...)
	s.mu.Unlock()

	return s.changed(true)
}

// AppendReply appends a reply delivered by push when its question is present
// and the reply is not already there.
func (s *Store) AppendReply(questionID qa.ID, r qa.Reply) bool {
	if r.ID == "" || r.ID.IsTemporary() {
		return false
	}
	s.mu.Lock()
	i := s.indexOf(questionID)
	if i < 0 || replyIndex(s.questions[i], r.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	c := r.Clone()
	c.QuestionID = s.questions[i].ID
	s.questions[i].Replies = append(s.questions[i].Replies, c)
	s.mu.Unlock()

	return s.changed(true)
}

// RemoveQuestion deletes a question and forgets its pending replies.
func (s *Store) RemoveQuestion(id qa.ID) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.removeAt(i)
	delete(s.pending, id)
	for tmp, p := range s.pending {
		if p.ParentID == id {
			delete(s.pending, tmp)
		}
	}
	s.mu.Unlock()

	return s.changed(true)
}

// RemoveReply deletes one reply from its question.
func (s *Store) RemoveReply(questionID, replyID qa.ID) bool {
	s.mu.Lock()
	i := s.indexOf(questionID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	q := s.questions[i]
	j := replyIndex(q, replyID)
	if j < 0 {
		s.mu.Unlock()
		return false
	}
	q.Replies = append(q.Replies[:j], q.Replies[j+1:]...)
	delete(s.pending, replyID)
	s.mu.Unlock()

	return s.changed(true)
}

// PatchQuestion shallow-merges p into a question.
func (s *Store) PatchQuestion(id qa.ID, p qa.QuestionPatch) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i >= 0 {
		p.Apply(s.questions[i])
	}
	s.mu.Unlock()

	return s.changed(i >= 0)
}

// PatchReply shallow-merges p into a reply.
func (s *Store) PatchReply(questionID, replyID qa.ID, p qa.ReplyPatch) bool {
	s.mu.Lock()
	ok := false
	if i := s.indexOf(questionID); i >= 0 {
		if j := replyIndex(s.questions[i], replyID); j >= 0 {
			p.Apply(&s.questions[i].Replies[j])
			ok = true
		}
	}
	s.mu.Unlock()

	return s.changed(ok)
}

// mergeReplies appends the replies of extra that dst does not hold yet, in order.
func mergeReplies(dst, extra []qa.Reply) []qa.Reply {
	if dst == nil {
		dst = []qa.Reply{}
	}
	for _, r := range extra {
		dup := false
		for _, d := range dst {
			if d.ID == r.ID {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, r.Clone())
		}
	}
	return dst
}
