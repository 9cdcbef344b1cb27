package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store implements storage.Storage on PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New connects and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.User{}, &domain.Question{}, &domain.Reply{}, &domain.Vote{}, &domain.Report{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// mapErr turns gorm's not-found into storage.ErrNotFound.
func mapErr(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return err
}

// checkID rejects ids that cannot name a row in a uuid column, so they read
// as missing instead of failing in the database.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

// validIDs drops the ids checkID would reject.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// === Users ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user.Role == "" {
		user.Role = domain.RoleStudent
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, mapErr("user", id, err)
	}
	return &user, nil
}

// === Questions ===

func (s *Store) ListQuestions(ctx context.Context, scope storage.Scope) ([]*domain.Question, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if scope.LessonID != "" {
		query = query.Where("lesson_id = ?", scope.LessonID)
	} else {
		query = query.Where("course_id = ?", scope.CourseID)
	}

	questions := make([]*domain.Question, 0)
	err := query.Find(&questions).Error
	return questions, err
}

func (s *Store) GetQuestionByID(ctx context.Context, id string) (*domain.Question, error) {
	if err := checkID("question", id); err != nil {
		return nil, err
	}
	var q domain.Question
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, mapErr("question", id, err)
	}
	return &q, nil
}

func (s *Store) CreateQuestion(ctx context.Context, question *domain.Question) (*domain.Question, error) {
	if strings.TrimSpace(question.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", storage.ErrInvalid)
	}
	if err := storage.ValidateBody(question.Body); err != nil {
		return nil, err
	}
	if question.CourseID == "" && question.LessonID == "" {
		return nil, fmt.Errorf("%w: question needs a course or lesson", storage.ErrInvalid)
	}

	if err := s.db.WithContext(ctx).Create(question).Error; err != nil {
		return nil, err
	}
	// gorm fills ID and CreatedAt from the database defaults
	return question, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, id string, actor *domain.User, body string) (*domain.Question, error) {
	if err := checkID("question", id); err != nil {
		return nil, err
	}
	if err := storage.ValidateBody(body); err != nil {
		return nil, err
	}

	var q domain.Question
	// read-modify-write in one transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&q, "id = ?", id).Error; err != nil {
			return mapErr("question", id, err)
		}
		if !actor.CanModify(q.AuthorID) {
			return storage.ErrForbidden
		}
		q.Body = body
		q.Edited = true
		return tx.Save(&q).Error
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string, actor *domain.User) (*domain.Question, error) {
	if err := checkID("question", id); err != nil {
		return nil, err
	}
	var q domain.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&q, "id = ?", id).Error; err != nil {
			return mapErr("question", id, err)
		}
		if !actor.CanModify(q.AuthorID) {
			return storage.ErrForbidden
		}
		replies := tx.Model(&domain.Reply{}).Select("id").Where("question_id = ?", id)
		if err := tx.Where("reply_id IN (?)", replies).Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&domain.Reply{}).Error; err != nil {
			return err
		}
		return tx.Delete(&q).Error
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// === Replies ===

func (s *Store) CreateReply(ctx context.Context, reply *domain.Reply) (*domain.Reply, error) {
	if err := checkID("question", reply.QuestionID); err != nil {
		return nil, err
	}
	if err := storage.ValidateBody(reply.Body); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Question{}).Where("id = ?", reply.QuestionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("question %s: %w", reply.QuestionID, storage.ErrNotFound)
		}
		return tx.Create(reply).Error
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Store) GetReplyByID(ctx context.Context, id string) (*domain.Reply, error) {
	if err := checkID("reply", id); err != nil {
		return nil, err
	}
	var r domain.Reply
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, mapErr("reply", id, err)
	}
	return &r, nil
}

func (s *Store) UpdateReply(ctx context.Context, id string, actor *domain.User, body string) (*domain.Reply, error) {
	if err := checkID("reply", id); err != nil {
		return nil, err
	}
	if err := storage.ValidateBody(body); err != nil {
		return nil, err
	}

	var r domain.Reply
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, "id = ?", id).Error; err != nil {
			return mapErr("reply", id, err)
		}
		if !actor.CanModify(r.AuthorID) {
			return storage.ErrForbidden
		}
		r.Body = body
		r.Edited = true
		return tx.Save(&r).Error
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) DeleteReply(ctx context.Context, id string, actor *domain.User) (*domain.Reply, error) {
	if err := checkID("reply", id); err != nil {
		return nil, err
	}
	var r domain.Reply
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			return mapErr("reply", id, err)
		}
		if !actor.CanModify(r.AuthorID) {
			return storage.ErrForbidden
		}
		if err := tx.Where("reply_id = ?", id).Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		return tx.Delete(&r).Error
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// === Votes ===

func (s *Store) Vote(ctx context.Context, replyID, userID string, up bool) (int, error) {
	if err := checkID("reply", replyID); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&domain.Reply{}).Where("id = ?", replyID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("reply %s: %w", replyID, storage.ErrNotFound)
		}

		vote := domain.Vote{ReplyID: replyID, UserID: userID}
		if up {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote).Error; err != nil {
				return err
			}
		} else if err := tx.Where("reply_id = ? AND user_id = ?", replyID, userID).Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Vote{}).Where("reply_id = ?", replyID).Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Store) GetVoteSummaries(ctx context.Context, replyIDs []string, userID string) (map[string]storage.VoteSummary, error) {
	out := make(map[string]storage.VoteSummary, len(replyIDs))
	for _, id := range replyIDs {
		out[id] = storage.VoteSummary{}
	}
	valid := validIDs(replyIDs)
	if len(valid) == 0 {
		return out, nil
	}

	var rows []struct {
		ReplyID string
		Count   int
		Voted   bool
	}
	err := s.db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("reply_id, COUNT(*) AS count, BOOL_OR(user_id = ?) AS voted", userID).
		Where("reply_id IN ?", valid).
		Group("reply_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.ReplyID] = storage.VoteSummary{Count: row.Count, Voted: row.Voted}
	}
	return out, nil
}

// === Reports ===

func (s *Store) CreateReport(ctx context.Context, report *domain.Report) (*domain.Report, error) {
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

// === Dataloader Method ===

func (s *Store) GetRepliesByQuestionIDs(ctx context.Context, questionIDs []string) (map[string][]*domain.Reply, error) {
	result := make(map[string][]*domain.Reply, len(questionIDs))
	valid := validIDs(questionIDs)
	if len(valid) == 0 {
		return result, nil
	}

	var replies []*domain.Reply
	// one query for every question, grouped below
	err := s.db.WithContext(ctx).
		Where("question_id IN ?", valid).
		Order("question_id, created_at ASC").
		Find(&replies).Error
	if err != nil {
		return nil, err
	}

	for _, r := range replies {
		result[r.QuestionID] = append(result[r.QuestionID], r)
	}
	return result, nil
}
