package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"prashikshan/internal/api/middleware"
	"prashikshan/internal/database"
	"prashikshan/internal/internship"
)

const exploreLimit = 50

// ProfileHandler 负责用户资料、发现与关注。
type ProfileHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{db: db, logger: logger}
}

// roleLookup 从 profiles.role 读取角色，资料缺失时返回空串（按学生处理）。
func roleLookup(db *gorm.DB) middleware.RoleLookup {
	return func(ctx context.Context, userID string) (string, error) {
		var p database.Profile
		err := db.WithContext(ctx).Select("role").Where("id = ?", userID).Take(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return p.Role, nil
	}
}

type profileRequest struct {
	Username    *string  `json:"username"`
	FullName    *string  `json:"full_name"`
	AvatarURL   *string  `json:"avatar_url"`
	Bio         *string  `json:"bio"`
	Role        *string  `json:"role"`
	Phone       *string  `json:"phone"`
	College     *string  `json:"college"`
	Branch      *string  `json:"branch"`
	Department  *string  `json:"department"`
	YearOfStudy *int     `json:"year_of_study"`
	CGPA        *float64 `json:"cgpa"`
	ResumeURL   *string  `json:"resume_url"`
	Skills      []string `json:"skills"`
}

var errAdminRole = errors.New("role cannot be set to admin")

// apply 只覆盖请求中出现的字段。
func (r profileRequest) apply(p *database.Profile) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = sanitizeText(*src)
		}
	}
	set(&p.Username, r.Username)
	set(&p.FullName, r.FullName)
	set(&p.AvatarURL, r.AvatarURL)
	set(&p.Bio, r.Bio)
	set(&p.Phone, r.Phone)
	set(&p.College, r.College)
	set(&p.Branch, r.Branch)
	set(&p.Department, r.Department)
	set(&p.ResumeURL, r.ResumeURL)
	if r.Role != nil {
		role := internship.ParseRole(strings.ToLower(strings.TrimSpace(*r.Role)))
		if role == internship.RoleAdmin {
			return errAdminRole
		}
		p.Role = string(role)
	}
	if r.YearOfStudy != nil {
		p.YearOfStudy = *r.YearOfStudy
	}
	if r.CGPA != nil {
		p.CGPA = *r.CGPA
	}
	if r.Skills != nil {
		skills := make([]string, 0, len(r.Skills))
		for _, s := range r.Skills {
			if s = sanitizeText(s); s != "" {
				skills = append(skills, s)
			}
		}
		p.Skills = skills
	}
	return nil
}

// GetProfile 返回 user_id 指定的资料，省略时返回自己的资料。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	callerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id := strings.TrimSpace(c.Query("user_id"))
	if id == "" {
		id = callerID
	}

	var profile database.Profile
	err := h.db.WithContext(c.Request.Context()).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "Profile not found")
		return
	}
	if err != nil {
		h.logger.Error("load profile", slog.Any("error", err))
		Internal(c, "failed to load profile")
		return
	}
	if id != callerID {
		profile.Email = ""
		profile.Phone = ""
	}
	Success(c, http.StatusOK, profile)
}

// UpsertProfile 创建或更新自己的资料（注册引导）。
func (h *ProfileHandler) UpsertProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var profile database.Profile
	err := h.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	creating := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !creating {
		h.logger.Error("load profile", slog.Any("error", err))
		Internal(c, "failed to load profile")
		return
	}
	if creating {
		profile = database.Profile{Base: database.Base{ID: userID}, Role: string(internship.RoleStudent)}
	}

	if err := req.apply(&profile); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if profile.Username == "" {
		BadRequest(c, "username is required")
		return
	}
	if profile.Email == "" {
		profile.Email = userEmailFromContext(c)
	}

	var taken int64
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).
		Where("username = ? AND id <> ?", profile.Username, userID).
		Count(&taken).Error; err != nil {
		Internal(c, "failed to check username")
		return
	}
	if taken > 0 {
		Conflict(c, "Username already taken")
		return
	}

	if creating {
		err = h.db.WithContext(ctx).Create(&profile).Error
	} else {
		err = h.db.WithContext(ctx).Save(&profile).Error
	}
	if err != nil {
		h.logger.Error("save profile", slog.String("user_id", userID), slog.Any("error", err))
		Internal(c, "failed to save profile")
		return
	}

	status := http.StatusOK
	if creating {
		status = http.StatusCreated
	}
	Success(c, status, profile)
}

type exploreProfile struct {
	database.Profile
	IsFollowing bool `json:"is_following"`
}

// Explore 按用户名或姓名搜索其他用户，并标注是否已关注。
func (h *ProfileHandler) Explore(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()

	query := h.db.WithContext(ctx).Where("id <> ?", userID)
	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		like := "%" + q + "%"
		query = query.Where("(LOWER(username) LIKE ? OR LOWER(full_name) LIKE ?)", like, like)
	}
	var profiles []database.Profile
	if err := query.Order("created_at DESC").Limit(exploreLimit).Find(&profiles).Error; err != nil {
		h.logger.Error("explore profiles", slog.Any("error", err))
		Internal(c, "failed to search profiles")
		return
	}

	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	following := map[string]bool{}
	if len(ids) > 0 {
		var follows []database.Follow
		if err := h.db.WithContext(ctx).
			Where("follower_id = ? AND following_id IN ?", userID, ids).
			Find(&follows).Error; err != nil {
			Internal(c, "failed to load follows")
			return
		}
		for _, f := range follows {
			following[f.FollowingID] = true
		}
	}

	out := make([]exploreProfile, 0, len(profiles))
	for _, p := range profiles {
		p.Email = ""
		p.Phone = ""
		out = append(out, exploreProfile{Profile: p, IsFollowing: following[p.ID]})
	}
	Success(c, http.StatusOK, out)
}

type followRequest struct {
	FollowingID string `json:"following_id" binding:"required"`
}

// ToggleFollow 关注或取消关注。
func (h *ProfileHandler) ToggleFollow(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "following_id is required")
		return
	}
	if req.FollowingID == userID {
		BadRequest(c, "Cannot follow yourself")
		return
	}

	ctx := c.Request.Context()
	var exists int64
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).Where("id = ?", req.FollowingID).Count(&exists).Error; err != nil {
		Internal(c, "failed to load profile")
		return
	}
	if exists == 0 {
		NotFound(c, "Profile not found")
		return
	}

	following := false
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND following_id = ?", userID, req.FollowingID).Delete(&database.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		following = true
		return tx.Create(&database.Follow{FollowerID: userID, FollowingID: req.FollowingID}).Error
	})
	if err != nil {
		h.logger.Error("toggle follow", slog.Any("error", err))
		Internal(c, "failed to update follow")
		return
	}
	Success(c, http.StatusOK, gin.H{"following": following})
}
