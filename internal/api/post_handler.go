package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"prashikshan/internal/database"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 100
	maxPostLength    = 5000
)

var errPostNotFound = errors.New("post not found")

// PostHandler 负责动态、点赞与评论。
type PostHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewPostHandler 构造 PostHandler。
func NewPostHandler(db *gorm.DB, logger *slog.Logger) *PostHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostHandler{db: db, logger: logger}
}

// Feed 返回关注的人与自己的动态，按时间倒序；没有关注任何人时返回全部动态。
func (h *PostHandler) Feed(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	limit := clamp(queryInt(c, "limit", defaultFeedLimit), 1, maxFeedLimit)

	var followingIDs []string
	if err := h.db.WithContext(ctx).Model(&database.Follow{}).
		Where("follower_id = ?", userID).
		Pluck("following_id", &followingIDs).Error; err != nil {
		h.logger.Error("load follows", slog.Any("error", err))
		Internal(c, "failed to load feed")
		return
	}

	query := h.db.WithContext(ctx).Preload("Author")
	if len(followingIDs) > 0 {
		query = query.Where("user_id IN ?", append(followingIDs, userID))
	}
	var posts []database.Post
	if err := query.Order("created_at DESC").Limit(limit).Find(&posts).Error; err != nil {
		h.logger.Error("load feed", slog.Any("error", err))
		Internal(c, "failed to load feed")
		return
	}

	if len(posts) > 0 {
		postIDs := make([]string, 0, len(posts))
		for _, p := range posts {
			postIDs = append(postIDs, p.ID)
		}
		var liked []string
		if err := h.db.WithContext(ctx).Model(&database.PostLike{}).
			Where("user_id = ? AND post_id IN ?", userID, postIDs).
			Pluck("post_id", &liked).Error; err != nil {
			Internal(c, "failed to load likes")
			return
		}
		likedSet := make(map[string]bool, len(liked))
		for _, id := range liked {
			likedSet[id] = true
		}
		for i := range posts {
			posts[i].Liked = likedSet[posts[i].ID]
		}
	}

	Success(c, http.StatusOK, posts)
}

type createPostRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

// CreatePost 发布动态，正文会去掉 HTML。
func (h *PostHandler) CreatePost(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	content := sanitizeText(req.Content)
	imageURL := strings.TrimSpace(req.ImageURL)
	if content == "" && imageURL == "" {
		BadRequest(c, "content is required")
		return
	}
	if len(content) > maxPostLength {
		BadRequest(c, "content is too long")
		return
	}

	ctx := c.Request.Context()
	post := database.Post{UserID: userID, Content: content, ImageURL: imageURL}
	if err := h.db.WithContext(ctx).Create(&post).Error; err != nil {
		h.logger.Error("create post", slog.Any("error", err))
		Internal(c, "failed to create post")
		return
	}
	var author database.Profile
	if err := h.db.WithContext(ctx).Where("id = ?", userID).Take(&author).Error; err == nil {
		post.Author = &author
	}
	Success(c, http.StatusCreated, post)
}

type postRefRequest struct {
	PostID string `json:"post_id" binding:"required"`
}

// ToggleLike 点赞或取消点赞，likes 通过原子自增/自减维护。
func (h *PostHandler) ToggleLike(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req postRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "post_id is required")
		return
	}

	var (
		liked bool
		post  database.Post
	)
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").Where("id = ?", req.PostID).Take(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errPostNotFound
			}
			return err
		}

		res := tx.Where("post_id = ? AND user_id = ?", req.PostID, userID).Delete(&database.PostLike{})
		if res.Error != nil {
			return res.Error
		}
		delta := gorm.Expr("likes - 1")
		if res.RowsAffected == 0 {
			if err := tx.Create(&database.PostLike{PostID: req.PostID, UserID: userID}).Error; err != nil {
				return err
			}
			liked = true
			delta = gorm.Expr("likes + 1")
		}
		update := tx.Model(&database.Post{}).Where("id = ?", req.PostID)
		if !liked {
			update = update.Where("likes > 0")
		}
		if err := update.UpdateColumn("likes", delta).Error; err != nil {
			return err
		}
		return tx.Select("id", "likes").Where("id = ?", req.PostID).Take(&post).Error
	})
	if errors.Is(err, errPostNotFound) {
		NotFound(c, "Post not found")
		return
	}
	if err != nil {
		h.logger.Error("toggle like", slog.Any("error", err))
		Internal(c, "failed to update like")
		return
	}
	Success(c, http.StatusOK, gin.H{"liked": liked, "likes": post.Likes})
}

// ListComments 返回某条动态下的评论，按时间正序。
func (h *PostHandler) ListComments(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}
	postID := strings.TrimSpace(c.Query("post_id"))
	if postID == "" {
		BadRequest(c, "post_id is required")
		return
	}
	var comments []database.Comment
	if err := h.db.WithContext(c.Request.Context()).Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		h.logger.Error("list comments", slog.Any("error", err))
		Internal(c, "failed to load comments")
		return
	}
	Success(c, http.StatusOK, comments)
}

type createCommentRequest struct {
	PostID  string `json:"post_id" binding:"required"`
	Content string `json:"content"`
}

// CreateComment 写入评论并在同一事务内递增 comment_count。
func (h *PostHandler) CreateComment(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "post_id is required")
		return
	}
	content := sanitizeText(req.Content)
	if content == "" {
		BadRequest(c, "content is required")
		return
	}

	comment := database.Comment{PostID: req.PostID, UserID: userID, Content: content}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.Post{}).Where("id = ?", req.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errPostNotFound
		}
		return tx.Create(&comment).Error
	})
	if errors.Is(err, errPostNotFound) {
		NotFound(c, "Post not found")
		return
	}
	if err != nil {
		h.logger.Error("create comment", slog.Any("error", err))
		Internal(c, "failed to create comment")
		return
	}
	Success(c, http.StatusCreated, comment)
}
