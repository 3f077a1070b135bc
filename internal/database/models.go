package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base 提供 UUID 主键与时间戳，与托管库中的表结构保持一致。
type Base struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate 在未指定 ID 时生成 UUID。
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Profile 表示用户资料，ID 与身份服务中的用户 ID 相同。
type Profile struct {
	Base
	Username    string                      `gorm:"uniqueIndex;size:64" json:"username"`
	FullName    string                      `gorm:"size:128" json:"full_name"`
	Email       string                      `gorm:"size:255" json:"email,omitempty"`
	AvatarURL   string                      `gorm:"size:512" json:"avatar_url,omitempty"`
	Bio         string                      `gorm:"type:text" json:"bio,omitempty"`
	Role        string                      `gorm:"size:16;default:student" json:"role"`
	Phone       string                      `gorm:"size:32" json:"phone,omitempty"`
	College     string                      `gorm:"size:255" json:"college,omitempty"`
	Branch      string                      `gorm:"size:128" json:"branch,omitempty"`
	Department  string                      `gorm:"size:128" json:"department,omitempty"`
	YearOfStudy int                         `json:"year_of_study,omitempty"`
	CGPA        float64                     `json:"cgpa,omitempty"`
	ResumeURL   string                      `gorm:"size:512" json:"resume_url,omitempty"`
	Skills      datatypes.JSONSlice[string] `json:"skills"`
}

// Follow 记录关注关系。
type Follow struct {
	Base
	FollowerID  string `gorm:"size:36;uniqueIndex:idx_follow_pair" json:"follower_id"`
	FollowingID string `gorm:"size:36;uniqueIndex:idx_follow_pair;index" json:"following_id"`
}

// Post 表示动态。Likes 与 CommentCount 为冗余计数，仅通过原子自增维护。
type Post struct {
	Base
	UserID       string   `gorm:"size:36;index" json:"user_id"`
	Author       *Profile `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Content      string   `gorm:"type:text" json:"content"`
	ImageURL     string   `gorm:"size:512" json:"image_url,omitempty"`
	Likes        int      `gorm:"default:0" json:"likes"`
	CommentCount int      `gorm:"default:0" json:"comment_count"`
	Liked        bool     `gorm:"-" json:"liked"`
}

// PostLike 保证同一用户对同一动态只点赞一次。
type PostLike struct {
	Base
	PostID string `gorm:"size:36;uniqueIndex:idx_post_like" json:"post_id"`
	UserID string `gorm:"size:36;uniqueIndex:idx_post_like" json:"user_id"`
}

// Comment 表示动态下的评论。
type Comment struct {
	Base
	PostID  string   `gorm:"size:36;index" json:"post_id"`
	UserID  string   `gorm:"size:36;index" json:"user_id"`
	Author  *Profile `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Content string   `gorm:"type:text" json:"content"`
}

// Message 表示私信。
type Message struct {
	Base
	SenderID   string     `gorm:"size:36;index:idx_message_pair" json:"sender_id"`
	ReceiverID string     `gorm:"size:36;index:idx_message_pair" json:"receiver_id"`
	Content    string     `gorm:"type:text" json:"content"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// Company 表示企业资料，每个账号至多一份。
type Company struct {
	Base
	UserID      string `gorm:"size:36;uniqueIndex" json:"user_id"`
	Name        string `gorm:"size:255" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	LogoURL     string `gorm:"size:512" json:"logo_url,omitempty"`
	Website     string `gorm:"size:512" json:"website,omitempty"`
	Industry    string `gorm:"size:128" json:"industry,omitempty"`
	CompanySize string `gorm:"size:64" json:"company_size,omitempty"`
	Location    string `gorm:"size:255" json:"location,omitempty"`
	Verified    bool   `gorm:"default:false" json:"verified"`
}

// Faculty 表示教师资料，每个账号至多一份。
type Faculty struct {
	Base
	UserID      string `gorm:"size:36;uniqueIndex" json:"user_id"`
	Name        string `gorm:"size:255" json:"name"`
	Email       string `gorm:"size:255" json:"email"`
	Department  string `gorm:"size:128" json:"department,omitempty"`
	Designation string `gorm:"size:128" json:"designation,omitempty"`
	College     string `gorm:"size:255" json:"college,omitempty"`
	Phone       string `gorm:"size:32" json:"phone,omitempty"`
}

// TableName 保持与原有表名一致。
func (Faculty) TableName() string { return "faculty" }

// Internship 表示企业发布的实习岗位。
type Internship struct {
	Base
	CompanyID           string                      `gorm:"size:36;index" json:"company_id"`
	Company             *Company                    `gorm:"foreignKey:CompanyID" json:"companies,omitempty"`
	Title               string                      `gorm:"size:255" json:"title"`
	Description         string                      `gorm:"type:text" json:"description"`
	Requirements        string                      `gorm:"type:text" json:"requirements,omitempty"`
	Responsibilities    string                      `gorm:"type:text" json:"responsibilities,omitempty"`
	Domain              string                      `gorm:"size:32;index" json:"domain"`
	Location            string                      `gorm:"size:255" json:"location,omitempty"`
	LocationType        string                      `gorm:"size:16;index" json:"location_type"`
	StipendMin          int                         `gorm:"default:0" json:"stipend_min"`
	StipendMax          *int                        `json:"stipend_max,omitempty"`
	DurationMonths      int                         `json:"duration_months"`
	StartDate           *string                     `gorm:"size:10" json:"start_date,omitempty"`
	ApplicationDeadline *string                     `gorm:"size:10" json:"application_deadline,omitempty"`
	PositionsAvailable  int                         `gorm:"default:1" json:"positions_available"`
	PositionsFilled     int                         `gorm:"default:0" json:"positions_filled"`
	SkillsRequired      datatypes.JSONSlice[string] `json:"skills_required"`
	Perks               datatypes.JSONSlice[string] `json:"perks"`
	Status              string                      `gorm:"size:16;index" json:"status"`
	ViewsCount          int                         `gorm:"default:0" json:"views_count"`
	ApplicationsCount   int                         `gorm:"default:0" json:"applications_count"`
}

// InternshipApplication 表示学生的实习申请。同一学生对同一岗位只能申请一次。
type InternshipApplication struct {
	Base
	InternshipID string      `gorm:"size:36;uniqueIndex:idx_application_pair" json:"internship_id"`
	Internship   *Internship `gorm:"foreignKey:InternshipID" json:"internships,omitempty"`
	StudentID    string      `gorm:"size:36;uniqueIndex:idx_application_pair;index" json:"student_id"`
	Student      *Profile    `gorm:"foreignKey:StudentID" json:"profiles,omitempty"`
	ResumeURL    string      `gorm:"size:512" json:"resume_url"`
	CoverLetter  string      `gorm:"type:text" json:"cover_letter,omitempty"`
	PortfolioURL string      `gorm:"size:512" json:"portfolio_url,omitempty"`
	Status       string      `gorm:"size:32;index" json:"status"`
	StudentNote  string      `gorm:"type:text" json:"student_note,omitempty"`
	CompanyNote  string      `gorm:"type:text" json:"company_note,omitempty"`
	FacultyNote  string      `gorm:"type:text" json:"faculty_note,omitempty"`
	AppliedAt    time.Time   `gorm:"index" json:"applied_at"`
}

// FacultyApproval 记录教师的审批动作。
type FacultyApproval struct {
	Base
	ApplicationID string                 `gorm:"size:36;index" json:"application_id"`
	Application   *InternshipApplication `gorm:"foreignKey:ApplicationID" json:"internship_applications,omitempty"`
	FacultyID     string                 `gorm:"size:36;index" json:"faculty_id"`
	Status        string                 `gorm:"size:16" json:"status"`
	Remarks       string                 `gorm:"type:text" json:"remarks,omitempty"`
	ReviewedAt    time.Time              `gorm:"index" json:"reviewed_at"`
}

// SavedInternship 表示收藏的岗位。
type SavedInternship struct {
	Base
	UserID       string      `gorm:"size:36;uniqueIndex:idx_saved_pair" json:"user_id"`
	InternshipID string      `gorm:"size:36;uniqueIndex:idx_saved_pair" json:"internship_id"`
	Internship   *Internship `gorm:"foreignKey:InternshipID" json:"internships,omitempty"`
	SavedAt      time.Time   `json:"saved_at"`
}
