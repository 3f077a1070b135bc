package api

import (
	"context"
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

var errFacultyNotFound = errors.New("faculty profile not found")

// FacultyHandler 负责教师资料与申请审批。
type FacultyHandler struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewFacultyHandler 构造 FacultyHandler。
func NewFacultyHandler(db *gorm.DB, logger *slog.Logger) *FacultyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FacultyHandler{db: db, logger: logger, now: time.Now}
}

func facultyFor(ctx context.Context, db *gorm.DB, userID string) (database.Faculty, error) {
	var f database.Faculty
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return f, errFacultyNotFound
	}
	return f, err
}

// GetProfile 返回当前教师资料。
func (h *FacultyHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	f, err := facultyFor(c.Request.Context(), h.db, userID)
	if errors.Is(err, errFacultyNotFound) {
		NotFound(c, "Faculty profile not found")
		return
	}
	if err != nil {
		h.logger.Error("load faculty", slog.Any("error", err))
		Internal(c, "failed to load faculty profile")
		return
	}
	Success(c, http.StatusOK, f)
}

type facultyRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Department  string `json:"department"`
	Designation string `json:"designation"`
	College     string `json:"college"`
	Phone       string `json:"phone"`
}

// UpsertProfile 创建或更新教师资料；首次创建时把账号角色改为 faculty。
func (h *FacultyHandler) UpsertProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req facultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	name := sanitizeText(req.Name)
	if name == "" {
		BadRequest(c, "name is required")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = userEmailFromContext(c)
	}

	var f database.Faculty
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).Take(&f).Error
		creating := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !creating {
			return err
		}
		f.UserID = userID
		f.Name = name
		f.Email = email
		f.Department = sanitizeText(req.Department)
		f.Designation = sanitizeText(req.Designation)
		f.College = sanitizeText(req.College)
		f.Phone = strings.TrimSpace(req.Phone)
		if !creating {
			return tx.Save(&f).Error
		}
		if err := tx.Create(&f).Error; err != nil {
			return err
		}
		return promoteRole(tx, userID, email, internship.RoleFaculty)
	})
	if err != nil {
		h.logger.Error("upsert faculty", slog.Any("error", err))
		Internal(c, "failed to save faculty profile")
		return
	}
	Success(c, http.StatusOK, f)
}

// PendingApprovals 返回等待教师审批的申请。
func (h *FacultyHandler) PendingApprovals(c *gin.Context) {
	var apps []database.InternshipApplication
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Internship.Company").
		Preload("Student").
		Where("status = ?", string(internship.StatusPending)).
		Order("applied_at DESC").
		Find(&apps).Error; err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		Internal(c, "failed to load pending approvals")
		return
	}
	Success(c, http.StatusOK, apps)
}

type approvalRequest struct {
	Action  string `json:"action"`
	Remarks string `json:"remarks"`
}

// Approve 审批学生申请，状态变更与审批记录在同一事务中写入。
func (h *FacultyHandler) Approve(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	next, record, err := internship.FacultyDecision(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		BadRequest(c, "Action must be 'approve' or 'reject'")
		return
	}
	remarks := sanitizeText(req.Remarks)

	ctx := c.Request.Context()
	f, err := facultyFor(ctx, h.db, userID)
	if errors.Is(err, errFacultyNotFound) {
		NotFound(c, "Faculty profile not found")
		return
	}
	if err != nil {
		Internal(c, "failed to load faculty profile")
		return
	}

	applicationID := c.Param("id")
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app database.InternshipApplication
		if err := tx.Select("id", "status").Where("id = ?", applicationID).Take(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errApplicationNotFound
			}
			return err
		}
		if err := internship.Transition(internship.ApplicationStatus(app.Status), next); err != nil {
			return err
		}
		res := tx.Model(&database.InternshipApplication{}).
			Where("id = ? AND status = ?", app.ID, app.Status).
			Updates(map[string]any{"status": string(next), "faculty_note": remarks})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStatusChanged
		}
		return tx.Create(&database.FacultyApproval{
			ApplicationID: app.ID,
			FacultyID:     f.ID,
			Status:        record,
			Remarks:       remarks,
			ReviewedAt:    h.now().UTC(),
		}).Error
	})

	switch {
	case errors.Is(err, errApplicationNotFound):
		NotFound(c, "Application not found")
	case errors.Is(err, internship.ErrInvalidTransition), errors.Is(err, errStatusChanged):
		Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("faculty approval", slog.Any("error", err))
		Internal(c, "failed to record approval")
	default:
		h.logger.Info("application reviewed by faculty",
			slog.String("application_id", applicationID),
			slog.String("decision", record))
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Application " + record + " successfully"})
	}
}

// ApprovalHistory 返回当前教师的审批记录。
func (h *FacultyHandler) ApprovalHistory(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	f, err := facultyFor(ctx, h.db, userID)
	if errors.Is(err, errFacultyNotFound) {
		NotFound(c, "Faculty profile not found")
		return
	}
	if err != nil {
		Internal(c, "failed to load faculty profile")
		return
	}
	var records []database.FacultyApproval
	if err := h.db.WithContext(ctx).
		Preload("Application.Internship.Company").
		Preload("Application.Student").
		Where("faculty_id = ?", f.ID).
		Order("reviewed_at DESC").
		Find(&records).Error; err != nil {
		h.logger.Error("list approval history", slog.Any("error", err))
		Internal(c, "failed to load approval history")
		return
	}
	Success(c, http.StatusOK, records)
}
