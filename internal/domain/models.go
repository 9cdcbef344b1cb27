package domain

import "time"

// Roles a user can hold.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// User is an account that can ask, reply and vote. The bearer token a client
// presents is the user id.
type User struct {
	ID          string `json:"id" gorm:"type:varchar(255);primary_key"`
	DisplayName string `json:"displayName" gorm:"type:varchar(255);not null"`
	Role        string `json:"role" gorm:"type:varchar(32);not null;default:student"`
	IsAdmin     bool   `json:"isAdmin" gorm:"not null;default:false"`
}

func (u *User) IsInstructor() bool { return u.Role == RoleInstructor }

// CanModify reports whether u may edit or delete content written by authorID.
func (u *User) CanModify(authorID string) bool {
	return u.IsAdmin || u.ID == authorID
}

// Question is asked in a course, optionally within one of its lessons.
// Author name and role are copied at creation.
type Question struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CourseID   string    `json:"courseId" gorm:"type:varchar(255);index"`
	LessonID   string    `json:"lessonId" gorm:"type:varchar(255);index"`
	Title      string    `json:"title" gorm:"type:varchar(255);not null"`
	Body       string    `json:"body" gorm:"type:text;not null"`
	Lecture    string    `json:"lecture" gorm:"type:varchar(255)"`
	AuthorID   string    `json:"authorId" gorm:"type:varchar(255);not null"`
	AuthorName string    `json:"authorName" gorm:"type:varchar(255)"`
	AuthorRole string    `json:"authorRole" gorm:"type:varchar(32)"`
	Edited     bool      `json:"edited" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;default:now()"`
	Replies    []*Reply  `json:"-" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"` // gorm only
}

// Groups lists the push groups that watch this question.
func (q *Question) Groups() []string {
	var groups []string
	if q.CourseID != "" {
		groups = append(groups, "course-"+q.CourseID)
	}
	if q.LessonID != "" {
		groups = append(groups, "lesson-"+q.LessonID)
	}
	return groups
}

// Reply answers a question. Attachments holds the uploaded file names.
type Reply struct {
	ID          string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	QuestionID  string    `json:"questionId" gorm:"type:uuid;not null;index"`
	Body        string    `json:"body" gorm:"type:text;not null"`
	AuthorID    string    `json:"authorId" gorm:"type:varchar(255);not null"`
	AuthorName  string    `json:"authorName" gorm:"type:varchar(255)"`
	AuthorRole  string    `json:"authorRole" gorm:"type:varchar(32)"`
	Attachments []string  `json:"attachments" gorm:"serializer:json"`
	Edited      bool      `json:"edited" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;default:now()"`
	Votes       []*Vote   `json:"-" gorm:"foreignKey:ReplyID;constraint:OnDelete:CASCADE"` // gorm only
}

// Vote is one user's upvote on a reply.
type Vote struct {
	ReplyID   string    `json:"replyId" gorm:"type:uuid;primary_key"`
	UserID    string    `json:"userId" gorm:"type:varchar(255);primary_key"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// Report flags a question or reply for moderation.
type Report struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TargetType string    `json:"targetType" gorm:"type:varchar(32);not null"`
	TargetID   string    `json:"targetId" gorm:"type:varchar(255);not null;index"`
	Reason     string    `json:"reason" gorm:"type:text"`
	ReporterID string    `json:"reporterId" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;default:now()"`
}
