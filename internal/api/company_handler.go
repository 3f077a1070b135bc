package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"prashikshan/internal/database"
	"prashikshan/internal/internship"
)

var (
	errCompanyNotFound     = errors.New("company profile not found")
	errApplicationNotFound = errors.New("application not found")
	errAccessDenied        = errors.New("access denied")
	errStatusChanged       = errors.New("application status changed concurrently")
)

// CompanyHandler 负责企业资料、岗位发布与申请处理。
type CompanyHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewCompanyHandler 构造 CompanyHandler。
func NewCompanyHandler(db *gorm.DB, logger *slog.Logger) *CompanyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompanyHandler{db: db, logger: logger}
}

func companyFor(ctx context.Context, db *gorm.DB, userID string) (database.Company, error) {
	var company database.Company
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return company, errCompanyNotFound
	}
	return company, err
}

// promoteRole 把资料角色改为 role；资料不存在时创建一条最小资料。
func promoteRole(tx *gorm.DB, userID, email string, role internship.Role) error {
	res := tx.Model(&database.Profile{}).Where("id = ?", userID).UpdateColumn("role", string(role))
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	return tx.Create(&database.Profile{
		Base:     database.Base{ID: userID},
		Username: userID,
		Email:    email,
		Role:     string(role),
	}).Error
}

// GetProfile 返回当前企业资料。
func (h *CompanyHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	company, err := companyFor(c.Request.Context(), h.db, userID)
	if errors.Is(err, errCompanyNotFound) {
		NotFound(c, "Company profile not found")
		return
	}
	if err != nil {
		h.logger.Error("load company", slog.Any("error", err))
		Internal(c, "failed to load company profile")
		return
	}
	Success(c, http.StatusOK, company)
}

type companyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
	Website     string `json:"website"`
	Industry    string `json:"industry"`
	CompanySize string `json:"company_size"`
	Location    string `json:"location"`
}

// UpsertProfile 创建或更新企业资料；首次创建时把账号角色改为 company。
func (h *CompanyHandler) UpsertProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req companyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	name := sanitizeText(req.Name)
	if name == "" {
		BadRequest(c, "name is required")
		return
	}

	var company database.Company
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).Take(&company).Error
		creating := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !creating {
			return err
		}
		company.UserID = userID
		company.Name = name
		company.Description = sanitizeText(req.Description)
		company.LogoURL = strings.TrimSpace(req.LogoURL)
		company.Website = strings.TrimSpace(req.Website)
		company.Industry = sanitizeText(req.Industry)
		company.CompanySize = sanitizeText(req.CompanySize)
		company.Location = sanitizeText(req.Location)
		if !creating {
			return tx.Save(&company).Error
		}
		if err := tx.Create(&company).Error; err != nil {
			return err
		}
		return promoteRole(tx, userID, userEmailFromContext(c), internship.RoleCompany)
	})
	if err != nil {
		h.logger.Error("upsert company", slog.Any("error", err))
		Internal(c, "failed to save company profile")
		return
	}
	Success(c, http.StatusOK, company)
}

// ListInternships 返回本企业发布的全部岗位。
func (h *CompanyHandler) ListInternships(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	company, err := companyFor(ctx, h.db, userID)
	if errors.Is(err, errCompanyNotFound) {
		NotFound(c, "Company profile not found")
		return
	}
	if err != nil {
		Internal(c, "failed to load company profile")
		return
	}
	var list []database.Internship
	if err := h.db.WithContext(ctx).Where("company_id = ?", company.ID).
		Order("created_at DESC").Find(&list).Error; err != nil {
		h.logger.Error("list company internships", slog.Any("error", err))
		Internal(c, "failed to load internships")
		return
	}
	Success(c, http.StatusOK, list)
}

// internshipFields 是企业可以写入的岗位字段，未出现的字段保持不变。
type internshipFields struct {
	Title               *string   `json:"title"`
	Description         *string   `json:"description"`
	Requirements        *string   `json:"requirements"`
	Responsibilities    *string   `json:"responsibilities"`
	Domain              *string   `json:"domain"`
	Location            *string   `json:"location"`
	LocationType        *string   `json:"location_type"`
	StipendMin          *int      `json:"stipend_min"`
	StipendMax          *int      `json:"stipend_max"`
	DurationMonths      *int      `json:"duration_months"`
	StartDate           *string   `json:"start_date"`
	ApplicationDeadline *string   `json:"application_deadline"`
	PositionsAvailable  *int      `json:"positions_available"`
	SkillsRequired      *[]string `json:"skills_required"`
	Perks               *[]string `json:"perks"`
	Status              *string   `json:"status"`
}

// validate 校验出现的枚举字段。
func (f internshipFields) validate() error {
	if f.Domain != nil && !internship.KnownDomain(*f.Domain) {
		return fmt.Errorf("unknown domain %q", *f.Domain)
	}
	if f.LocationType != nil && !internship.LocationType(*f.LocationType).Valid() {
		return fmt.Errorf("location_type must be remote, onsite or hybrid")
	}
	if f.Status != nil && !internship.InternshipStatus(*f.Status).Valid() {
		return fmt.Errorf("invalid internship status %q", *f.Status)
	}
	if f.DurationMonths != nil && *f.DurationMonths <= 0 {
		return errors.New("duration_months must be positive")
	}
	if f.StipendMin != nil && *f.StipendMin < 0 {
		return errors.New("stipend_min must not be negative")
	}
	if f.PositionsAvailable != nil && *f.PositionsAvailable < 1 {
		return errors.New("positions_available must be at least 1")
	}
	return nil
}

// updates 把出现的字段转换为 gorm 更新映射。
func (f internshipFields) updates() map[string]any {
	out := map[string]any{}
	text := func(col string, v *string) {
		if v != nil {
			out[col] = sanitizeText(*v)
		}
	}
	text("title", f.Title)
	text("description", f.Description)
	text("requirements", f.Requirements)
	text("responsibilities", f.Responsibilities)
	text("location", f.Location)
	if f.Domain != nil {
		out["domain"] = *f.Domain
	}
	if f.LocationType != nil {
		out["location_type"] = *f.LocationType
	}
	if f.Status != nil {
		out["status"] = *f.Status
	}
	if f.StipendMin != nil {
		out["stipend_min"] = *f.StipendMin
	}
	if f.StipendMax != nil {
		out["stipend_max"] = *f.StipendMax
	}
	if f.DurationMonths != nil {
		out["duration_months"] = *f.DurationMonths
	}
	if f.StartDate != nil {
		out["start_date"] = *f.StartDate
	}
	if f.ApplicationDeadline != nil {
		out["application_deadline"] = *f.ApplicationDeadline
	}
	if f.PositionsAvailable != nil {
		out["positions_available"] = *f.PositionsAvailable
	}
	if f.SkillsRequired != nil {
		out["skills_required"] = datatypes.NewJSONSlice(*f.SkillsRequired)
	}
	if f.Perks != nil {
		out["perks"] = datatypes.NewJSONSlice(*f.Perks)
	}
	return out
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// CreateInternship 发布新岗位。
func (h *CompanyHandler) CreateInternship(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req internshipFields
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	company, err := companyFor(ctx, h.db, userID)
	if errors.Is(err, errCompanyNotFound) {
		BadRequest(c, "Company profile not found. Please create company profile first.")
		return
	}
	if err != nil {
		Internal(c, "failed to load company profile")
		return
	}

	required := []struct {
		name    string
		present bool
	}{
		{"title", req.Title != nil && strings.TrimSpace(*req.Title) != ""},
		{"description", req.Description != nil && strings.TrimSpace(*req.Description) != ""},
		{"domain", req.Domain != nil && *req.Domain != ""},
		{"duration_months", req.DurationMonths != nil && *req.DurationMonths != 0},
	}
	for _, field := range required {
		if !field.present {
			BadRequest(c, field.name+" is required")
			return
		}
	}
	if err := req.validate(); err != nil {
		BadRequest(c, err.Error())
		return
	}

	in := database.Internship{
		CompanyID:           company.ID,
		Title:               sanitizeText(*req.Title),
		Description:         sanitizeText(*req.Description),
		Requirements:        sanitizeText(deref(req.Requirements, "")),
		Responsibilities:    sanitizeText(deref(req.Responsibilities, "")),
		Domain:              *req.Domain,
		Location:            sanitizeText(deref(req.Location, "")),
		LocationType:        deref(req.LocationType, string(internship.LocationRemote)),
		StipendMin:          deref(req.StipendMin, 0),
		StipendMax:          req.StipendMax,
		DurationMonths:      *req.DurationMonths,
		StartDate:           req.StartDate,
		ApplicationDeadline: req.ApplicationDeadline,
		PositionsAvailable:  deref(req.PositionsAvailable, 1),
		SkillsRequired:      deref(req.SkillsRequired, []string{}),
		Perks:               deref(req.Perks, []string{}),
		Status:              deref(req.Status, string(internship.InternshipActive)),
	}
	if err := h.db.WithContext(ctx).Create(&in).Error; err != nil {
		h.logger.Error("create internship", slog.Any("error", err))
		Internal(c, "failed to create internship")
		return
	}
	SuccessMessage(c, http.StatusCreated, "Internship created successfully", in)
}

// ownedInternship 校验岗位属于当前企业。
func (h *CompanyHandler) ownedInternship(ctx context.Context, userID, internshipID string) (database.Internship, error) {
	var in database.Internship
	company, err := companyFor(ctx, h.db, userID)
	if err != nil {
		return in, err
	}
	err = h.db.WithContext(ctx).Where("id = ? AND company_id = ?", internshipID, company.ID).Take(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return in, errInternshipNotFound
	}
	return in, err
}

func (h *CompanyHandler) writeOwnershipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errCompanyNotFound):
		NotFound(c, "Company not found")
	case errors.Is(err, errInternshipNotFound):
		NotFound(c, "Internship not found or access denied")
	default:
		h.logger.Error("load owned internship", slog.Any("error", err))
		Internal(c, "failed to load internship")
	}
}

// UpdateInternship 更新本企业岗位的白名单字段。
func (h *CompanyHandler) UpdateInternship(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req internshipFields
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	in, err := h.ownedInternship(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeOwnershipError(c, err)
		return
	}

	if updates := req.updates(); len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&in).Updates(updates).Error; err != nil {
			h.logger.Error("update internship", slog.Any("error", err))
			Internal(c, "failed to update internship")
			return
		}
	}
	if err := h.db.WithContext(ctx).Where("id = ?", in.ID).Take(&in).Error; err != nil {
		Internal(c, "failed to reload internship")
		return
	}
	Success(c, http.StatusOK, in)
}

// Applications 返回某个岗位收到的申请及学生资料。
func (h *CompanyHandler) Applications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	in, err := h.ownedInternship(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeOwnershipError(c, err)
		return
	}
	var apps []database.InternshipApplication
	if err := h.db.WithContext(ctx).Preload("Student").
		Where("internship_id = ?", in.ID).
		Order("applied_at DESC").
		Find(&apps).Error; err != nil {
		h.logger.Error("list internship applications", slog.Any("error", err))
		Internal(c, "failed to load applications")
		return
	}
	Success(c, http.StatusOK, apps)
}

type applicationStatusRequest struct {
	Status      string `json:"status"`
	CompanyNote string `json:"company_note"`
}

// UpdateApplicationStatus 企业筛选、拒绝或录用申请，只允许合法的状态迁移。
func (h *CompanyHandler) UpdateApplicationStatus(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req applicationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	next, err := internship.CompanyDecision(req.Status)
	if err != nil {
		BadRequest(c, "Invalid status")
		return
	}

	ctx := c.Request.Context()
	applicationID := c.Param("id")
	var app database.InternshipApplication
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Internship").Where("id = ?", applicationID).Take(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errApplicationNotFound
			}
			return err
		}
		company, err := companyFor(ctx, tx, userID)
		if errors.Is(err, errCompanyNotFound) || (err == nil && (app.Internship == nil || app.Internship.CompanyID != company.ID)) {
			return errAccessDenied
		}
		if err != nil {
			return err
		}

		current := internship.ApplicationStatus(app.Status)
		if err := internship.Transition(current, next); err != nil {
			return err
		}

		updates := map[string]any{"status": string(next)}
		if note := sanitizeText(req.CompanyNote); note != "" {
			updates["company_note"] = note
		}
		res := tx.Model(&database.InternshipApplication{}).
			Where("id = ? AND status = ?", app.ID, app.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStatusChanged
		}
		if next == internship.StatusHired {
			if err := tx.Model(&database.Internship{}).Where("id = ?", app.InternshipID).
				UpdateColumn("positions_filled", gorm.Expr("positions_filled + 1")).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", app.ID).Take(&app).Error
	})

	switch {
	case errors.Is(err, errApplicationNotFound):
		NotFound(c, "Application not found")
	case errors.Is(err, errAccessDenied):
		Forbidden(c, "Access denied")
	case errors.Is(err, internship.ErrInvalidTransition), errors.Is(err, errStatusChanged):
		Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("update application status", slog.Any("error", err))
		Internal(c, "failed to update application")
	default:
		h.logger.Info("application status updated",
			slog.String("application_id", app.ID),
			slog.String("status", app.Status))
		Success(c, http.StatusOK, app)
	}
}
