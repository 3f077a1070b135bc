package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"prashikshan/internal/database"
	"prashikshan/internal/internship"
)

var (
	errInternshipNotFound = errors.New("internship not found")
	errInternshipClosed   = errors.New("internship is not accepting applications")
	errAlreadyApplied     = errors.New("already applied")
)

// isUniqueViolation 识别唯一索引冲突，兼容 postgres 与 sqlite 的报错。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

// InternshipHandler 负责岗位的公开查询与学生操作。
type InternshipHandler struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewInternshipHandler 构造 InternshipHandler。
func NewInternshipHandler(db *gorm.DB, logger *slog.Logger) *InternshipHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternshipHandler{db: db, logger: logger, now: time.Now}
}

func filterFromQuery(c *gin.Context) internship.Filter {
	return internship.Filter{
		Domain:       strings.TrimSpace(c.Query("domain")),
		LocationType: strings.TrimSpace(c.Query("location_type")),
		DurationMin:  queryInt(c, "duration_min", 0),
		DurationMax:  queryInt(c, "duration_max", 0),
		StipendMin:   queryInt(c, "stipend_min", 0),
		Search:       c.Query("search"),
	}
}

// List 返回在招岗位，支持筛选、排序与分页。
func (h *InternshipHandler) List(c *gin.Context) {
	filter := filterFromQuery(c)
	page := internship.NewPage(queryInt(c, "page", 1), queryInt(c, "limit", internship.DefaultPageSize))
	sortKey := internship.ParseSortKey(c.Query("sort"))

	ctx := c.Request.Context()
	base := h.db.WithContext(ctx).Model(&database.Internship{}).
		Where("status = ?", string(internship.InternshipActive)).
		Scopes(filter.Scope())

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		h.logger.Error("count internships", slog.Any("error", err))
		Internal(c, "failed to list internships")
		return
	}

	var list []database.Internship
	if err := base.Session(&gorm.Session{}).Preload("Company").
		Order(sortKey.OrderClause()).
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&list).Error; err != nil {
		h.logger.Error("list internships", slog.Any("error", err))
		Internal(c, "failed to list internships")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       list,
		"pagination": page.WithTotal(total),
	})
}

// Get 返回岗位详情并累加浏览数。
func (h *InternshipHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var in database.Internship
	err := h.db.WithContext(ctx).Preload("Company").Where("id = ?", id).Take(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "Internship not found")
		return
	}
	if err != nil {
		h.logger.Error("load internship", slog.Any("error", err))
		Internal(c, "failed to load internship")
		return
	}

	if err := h.db.WithContext(ctx).Model(&database.Internship{}).Where("id = ?", id).
		UpdateColumn("views_count", gorm.Expr("views_count + 1")).Error; err != nil {
		h.logger.Warn("increment views", slog.String("internship_id", id), slog.Any("error", err))
	} else {
		in.ViewsCount++
	}
	Success(c, http.StatusOK, in)
}

// Domains 返回岗位领域目录。
func (h *InternshipHandler) Domains(c *gin.Context) {
	Success(c, http.StatusOK, internship.Domains())
}

// Stats 返回公开统计。
func (h *InternshipHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	var active, companies, applications, hired int64

	now := h.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	steps := []func() error{
		func() error {
			return h.db.WithContext(ctx).Model(&database.Internship{}).
				Where("status = ?", string(internship.InternshipActive)).Count(&active).Error
		},
		func() error { return h.db.WithContext(ctx).Model(&database.Company{}).Count(&companies).Error },
		func() error {
			return h.db.WithContext(ctx).Model(&database.InternshipApplication{}).Count(&applications).Error
		},
		func() error {
			return h.db.WithContext(ctx).Model(&database.InternshipApplication{}).
				Where("status = ? AND updated_at >= ?", string(internship.StatusHired), monthStart).
				Count(&hired).Error
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			h.logger.Error("internship stats", slog.Any("error", err))
			Internal(c, "failed to load stats")
			return
		}
	}

	Success(c, http.StatusOK, gin.H{
		"active_internships": active,
		"companies":          companies,
		"total_applications": applications,
		"hired_this_month":   hired,
	})
}

type applyRequest struct {
	ResumeURL    string `json:"resume_url"`
	CoverLetter  string `json:"cover_letter"`
	PortfolioURL string `json:"portfolio_url"`
	StudentNote  string `json:"student_note"`
}

// Apply 提交申请，初始状态为 pending。
func (h *InternshipHandler) Apply(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.ResumeURL) == "" {
		BadRequest(c, "Resume URL is required")
		return
	}
	internshipID := c.Param("id")

	app := database.InternshipApplication{
		InternshipID: internshipID,
		StudentID:    userID,
		ResumeURL:    strings.TrimSpace(req.ResumeURL),
		CoverLetter:  sanitizeText(req.CoverLetter),
		PortfolioURL: strings.TrimSpace(req.PortfolioURL),
		StudentNote:  sanitizeText(req.StudentNote),
		Status:       string(internship.StatusPending),
		AppliedAt:    h.now().UTC(),
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var in database.Internship
		if err := tx.Select("id", "status").Where("id = ?", internshipID).Take(&in).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errInternshipNotFound
			}
			return err
		}
		if in.Status != string(internship.InternshipActive) {
			return errInternshipClosed
		}

		var existing int64
		if err := tx.Model(&database.InternshipApplication{}).
			Where("internship_id = ? AND student_id = ?", internshipID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errAlreadyApplied
		}

		if err := tx.Create(&app).Error; err != nil {
			if isUniqueViolation(err) {
				return errAlreadyApplied
			}
			return err
		}
		return tx.Model(&database.Internship{}).Where("id = ?", internshipID).
			UpdateColumn("applications_count", gorm.Expr("applications_count + 1")).Error
	})

	switch {
	case errors.Is(err, errInternshipNotFound):
		NotFound(c, "Internship not found")
	case errors.Is(err, errInternshipClosed):
		BadRequest(c, "This internship is no longer accepting applications")
	case errors.Is(err, errAlreadyApplied):
		BadRequest(c, "You have already applied to this internship")
	case err != nil:
		h.logger.Error("apply internship", slog.Any("error", err))
		Internal(c, "failed to submit application")
	default:
		SuccessMessage(c, http.StatusCreated, "Application submitted successfully", app)
	}
}

// MyApplications 返回当前学生的全部申请。
func (h *InternshipHandler) MyApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var apps []database.InternshipApplication
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Internship.Company").
		Where("student_id = ?", userID).
		Order("applied_at DESC").
		Find(&apps).Error; err != nil {
		h.logger.Error("list my applications", slog.Any("error", err))
		Internal(c, "failed to load applications")
		return
	}
	Success(c, http.StatusOK, apps)
}

// ToggleSave 收藏或取消收藏岗位。
func (h *InternshipHandler) ToggleSave(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	internshipID := c.Param("id")

	saved := false
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&database.Internship{}).Where("id = ?", internshipID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return errInternshipNotFound
		}
		res := tx.Where("user_id = ? AND internship_id = ?", userID, internshipID).Delete(&database.SavedInternship{})
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
		saved = true
		return tx.Create(&database.SavedInternship{
			UserID:       userID,
			InternshipID: internshipID,
			SavedAt:      h.now().UTC(),
		}).Error
	})
	if errors.Is(err, errInternshipNotFound) {
		NotFound(c, "Internship not found")
		return
	}
	if err != nil {
		h.logger.Error("toggle saved internship", slog.Any("error", err))
		Internal(c, "failed to update saved internships")
		return
	}
	msg := "Internship unsaved"
	if saved {
		msg = "Internship saved"
	}
	SuccessMessage(c, http.StatusOK, msg, gin.H{"saved": saved})
}

// Saved 返回收藏的岗位。
func (h *InternshipHandler) Saved(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var items []database.SavedInternship
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Internship.Company").
		Where("user_id = ?", userID).
		Order("saved_at DESC").
		Find(&items).Error; err != nil {
		h.logger.Error("list saved internships", slog.Any("error", err))
		Internal(c, "failed to load saved internships")
		return
	}
	Success(c, http.StatusOK, items)
}
