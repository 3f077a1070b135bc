package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"prashikshan/internal/admin"
	"prashikshan/internal/api/middleware"
	"prashikshan/internal/auth"
	"prashikshan/internal/internship"
	"prashikshan/internal/keepalive"
	"prashikshan/internal/news"
)

// Deps 汇总注册路由所需的依赖，由 cmd/api 组装。
type Deps struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Verifier       *auth.TokenVerifier
	AdminKeys      *auth.AdminKeyMatcher
	Storage        ObjectStore
	Scanner        VirusScanner
	Queue          TaskEnqueuer
	Settings       *admin.SettingsStore
	Refresh        *admin.RefreshTracker
	News           *news.Service
	KeepAlive      []keepalive.Target
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *slog.Logger
}

// RegisterRoutes 在 /api 下注册全部业务路由。
func RegisterRoutes(router *gin.Engine, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 避免把 nil *redis.Client 包装成非 nil 接口。
	var (
		publisher  MessagePublisher
		limiter    redisRateCounter
		statuses   keepalive.StatusReader
		subscriber Subscriber
		dms        DMSource
	)
	if d.Redis != nil {
		publisher, limiter, statuses, subscriber = d.Redis, d.Redis, d.Redis, d.Redis
		dms = RedisDMSource{Client: d.Redis}
	}

	authMW := middleware.AuthMiddleware(d.Verifier)
	lookup := roleLookup(d.DB)

	profiles := NewProfileHandler(d.DB, logger)
	posts := NewPostHandler(d.DB, logger)
	messages := NewMessageHandler(d.DB, publisher, logger)
	ws := NewWsHandler(dms, d.Verifier, logger, d.AllowedOrigins)
	uploads := NewUploadHandler(d.Storage, d.Scanner, limiter, d.MaxUploadBytes, logger)
	internships := NewInternshipHandler(d.DB, logger)
	companies := NewCompanyHandler(d.DB, logger)
	faculty := NewFacultyHandler(d.DB, logger)
	trends := NewTrendsHandler(d.News, logger)
	adminHandler := NewAdminHandler(AdminDeps{
		Settings:  d.Settings,
		Tracker:   d.Refresh,
		Queue:     d.Queue,
		News:      d.News,
		Keys:      d.AdminKeys,
		KeepAlive: statuses,
		Targets:   d.KeepAlive,
		Logger:    logger,
	})

	api := router.Group("/api")

	// websocket 在首帧内鉴权，不走 Authorization 头。
	api.GET("/ws", ws.HandleConnection)

	social := api.Group("")
	social.Use(authMW)
	{
		social.GET("/profile", profiles.GetProfile)
		social.POST("/profile", profiles.UpsertProfile)
		social.GET("/explore", profiles.Explore)
		social.POST("/follow", profiles.ToggleFollow)

		social.GET("/feed", posts.Feed)
		social.POST("/posts", posts.CreatePost)
		social.POST("/posts/like", posts.ToggleLike)
		social.GET("/comments", posts.ListComments)
		social.POST("/comments", posts.CreateComment)

		social.GET("/messages", messages.Conversation)
		social.POST("/messages", messages.Send)

		social.POST("/uploads", uploads.Upload)
		social.GET("/uploads", uploads.ListUploads)
		social.GET("/uploads/url", uploads.GetUploadURL)
		social.DELETE("/uploads", uploads.DeleteUpload)
	}

	registerInternshipRoutes(api.Group("/internships"), authMW, lookup, internships, companies, faculty)
	registerAdminRoutes(api.Group("/admin"), middleware.AdminKeyMiddleware(d.AdminKeys), adminHandler, subscriber)
	registerTrendsRoutes(api.Group("/trends"), trends)
}

func registerInternshipRoutes(
	g *gin.RouterGroup,
	authMW gin.HandlerFunc,
	lookup middleware.RoleLookup,
	internships *InternshipHandler,
	companies *CompanyHandler,
	faculty *FacultyHandler,
) {
	g.GET("", internships.List)
	g.GET("/domains", internships.Domains)
	g.GET("/stats", internships.Stats)
	g.GET("/:id", internships.Get)

	student := g.Group("")
	student.Use(authMW)
	{
		student.POST("/:id/apply", internships.Apply)
		student.POST("/:id/save", internships.ToggleSave)
		student.GET("/my-applications", internships.MyApplications)
		student.GET("/saved", internships.Saved)
	}

	// 资料创建只需要登录，创建后角色才会变成 company / faculty。
	company := g.Group("/company")
	company.Use(authMW)
	{
		company.GET("/profile", companies.GetProfile)
		company.POST("/profile", companies.UpsertProfile)
		company.PUT("/profile", companies.UpsertProfile)

		owned := company.Group("")
		owned.Use(middleware.RequireRole(lookup, internship.RoleCompany))
		owned.GET("/internships", companies.ListInternships)
		owned.POST("/internships", companies.CreateInternship)
		owned.PUT("/internships/:id", companies.UpdateInternship)
		owned.GET("/internships/:id/applications", companies.Applications)
		owned.PUT("/applications/:id/status", companies.UpdateApplicationStatus)
	}

	fac := g.Group("/faculty")
	fac.Use(authMW)
	{
		fac.GET("/profile", faculty.GetProfile)
		fac.POST("/profile", faculty.UpsertProfile)
		fac.PUT("/profile", faculty.UpsertProfile)

		reviewer := fac.Group("")
		reviewer.Use(middleware.RequireRole(lookup, internship.RoleFaculty))
		reviewer.GET("/pending-approvals", faculty.PendingApprovals)
		reviewer.POST("/approve/:id", faculty.Approve)
		reviewer.GET("/approval-history", faculty.ApprovalHistory)
	}
}

func registerAdminRoutes(g *gin.RouterGroup, adminMW gin.HandlerFunc, h *AdminHandler, sub Subscriber) {
	g.GET("/health", h.Health)
	g.POST("/login", h.Login)

	protected := g.Group("")
	protected.Use(adminMW)
	{
		protected.GET("/settings", h.GetSettings)
		protected.POST("/settings/playwright", h.TogglePlaywright)
		protected.POST("/settings/articles-limit", h.SetArticlesLimit)
		protected.POST("/settings/sort-order", h.SetSortOrder)

		protected.GET("/stats", h.Stats)
		protected.GET("/dashboard", h.Dashboard)
		protected.GET("/keepalive", h.KeepAlive)
		protected.GET("/events", h.Events(sub))

		protected.GET("/cache/stats", h.CacheStats)
		protected.GET("/cache/articles", h.CacheArticles)
		protected.POST("/cache/clear", h.ClearCache)

		protected.POST("/news/refresh", h.RefreshNews)
		protected.GET("/news/refresh/status", h.RefreshStatus)
		protected.POST("/news/force-update", h.ForceUpdate)

		protected.POST("/cloud/sync", h.CloudSync)
		protected.POST("/cloud/load", h.CloudLoad)
	}
}

func registerTrendsRoutes(g *gin.RouterGroup, h *TrendsHandler) {
	g.GET("", h.Overview)
	g.GET("/", h.Overview)
	g.GET("/version", h.Version)
	g.GET("/all", h.All)

	fixed := map[string]string{
		"tech":      news.CategoryTech,
		"education": news.CategoryEducation,
		"career":    news.CategoryCareer,
		"ai":        news.CategoryAIML,
		"startups":  news.CategoryStartups,
		"developer": news.CategoryDeveloper,
		"github":    news.CategoryGitHub,
	}
	for path, key := range fixed {
		g.GET("/"+path, h.Category(key))
	}

	g.GET("/category/:category", h.ByName)
	g.GET("/hackernews", h.HackerNews)
	g.GET("/reddit/:subreddit", h.Reddit)
	g.GET("/producthunt", h.ProductHunt)
	g.GET("/medium/:tag", h.Medium)
	g.GET("/search", h.Search)
	g.GET("/sources", h.Sources)
}
