package server

import (
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/UkralStul/lesson-qa-sync/internal/dataloader"
	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/reconcile"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

const maxUploadMemory = 32 << 20

type questionInput struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Lecture string `json:"lecture"`
	// CourseID ties a lesson question to its course so course views see it too.
	CourseID string `json:"courseId"`
}

type bodyInput struct {
	Body string `json:"body"`
}

type reportInput struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
}

type voteResult struct {
	ReplyID string `json:"replyId"`
	Upvotes int    `json:"upvotes"`
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUser(userFrom(r.Context())))
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := storage.Scope{CourseID: chi.URLParam(r, "courseID"), LessonID: chi.URLParam(r, "lessonID")}

	questions, err := s.store.ListQuestions(ctx, scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	loaders := dataloader.For(ctx)
	if loaders == nil {
		loaders = dataloader.NewLoaders(s.store)
	}
	replies, err := loaders.Replies(ctx, ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var replyIDs []string
	for _, rs := range replies {
		for _, reply := range rs {
			replyIDs = append(replyIDs, reply.ID)
		}
	}
	votes, err := s.store.GetVoteSummaries(ctx, replyIDs, userFrom(ctx).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]qa.Question, len(questions))
	for i, q := range questions {
		out[i] = toQuestion(q, replies[q.ID], votes)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createQuestion(w http.ResponseWriter, r *http.Request) {
	var in questionInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	user := userFrom(r.Context())
	q := &domain.Question{
		CourseID:   chi.URLParam(r, "courseID"),
		LessonID:   chi.URLParam(r, "lessonID"),
		Title:      in.Title,
		Body:       in.Body,
		Lecture:    in.Lecture,
		AuthorID:   user.ID,
		AuthorName: user.DisplayName,
		AuthorRole: user.Role,
	}
	if q.CourseID == "" {
		q.CourseID = in.CourseID
	}

	created, err := s.store.CreateQuestion(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := toQuestion(created, nil, nil)
	s.broadcast(created.Groups(), reconcile.EventQuestionAdded, out)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var in bodyInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.store.UpdateQuestion(r.Context(), chi.URLParam(r, "questionID"), userFrom(r.Context()), in.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuestion(updated, nil, nil))
}

func (s *Server) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID"), userFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.broadcast(deleted.Groups(), reconcile.EventQuestionDeleted, reconcile.QuestionDeleted{QuestionID: qa.ID(deleted.ID)})
	w.WriteHeader(http.StatusNoContent)
}

// createReply accepts JSON, or a multipart form with a body field and
// files[] parts. Only the file names are kept.
func (s *Server) createReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	questionID := chi.URLParam(r, "questionID")

	var body string
	var attachments []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()
		body = r.FormValue("body")
		for _, fh := range r.MultipartForm.File["files[]"] {
			attachments = append(attachments, fh.Filename)
		}
	} else {
		var in bodyInput
		if err := decodeJSON(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		body = in.Body
	}

	question, err := s.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user := userFrom(ctx)
	created, err := s.store.CreateReply(ctx, &domain.Reply{
		QuestionID:  questionID,
		Body:        body,
		AuthorID:    user.ID,
		AuthorName:  user.DisplayName,
		AuthorRole:  user.Role,
		Attachments: attachments,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := toReply(created, storage.VoteSummary{})
	s.broadcast(question.Groups(), reconcile.EventReplyAdded, out)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateReply(w http.ResponseWriter, r *http.Request) {
	var in bodyInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	updated, err := s.store.UpdateReply(ctx, chi.URLParam(r, "replyID"), userFrom(ctx), in.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	votes, err := s.store.GetVoteSummaries(ctx, []string{updated.ID}, userFrom(ctx).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReply(updated, votes[updated.ID]))
}

func (s *Server) deleteReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, err := s.store.DeleteReply(ctx, chi.URLParam(r, "replyID"), userFrom(ctx))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if question, err := s.store.GetQuestionByID(ctx, deleted.QuestionID); err == nil {
		s.broadcast(question.Groups(), reconcile.EventReplyDeleted, reconcile.ReplyDeleted{
			QuestionID: qa.ID(deleted.QuestionID),
			ReplyID:    qa.ID(deleted.ID),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) vote(up bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		replyID := chi.URLParam(r, "replyID")
		n, err := s.store.Vote(ctx, replyID, userFrom(ctx).ID, up)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, voteResult{ReplyID: replyID, Upvotes: n})
	}
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var in reportInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.TargetType != "question" && in.TargetType != "reply" {
		http.Error(w, "targetType must be question or reply", http.StatusBadRequest)
		return
	}
	if in.TargetID == "" {
		http.Error(w, "targetId is required", http.StatusBadRequest)
		return
	}
	_, err := s.store.CreateReport(r.Context(), &domain.Report{
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Reason:     in.Reason,
		ReporterID: userFrom(r.Context()).ID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
