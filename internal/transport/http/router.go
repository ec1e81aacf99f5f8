// Package httptransport 提供邮件子系统的管理 HTTP API。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/config"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver"
	"github.com/Case211/remnawave-admin-sub001/internal/middleware"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	Mail           *mailserver.Service
	Store          storage.Store
	MetricsHandler http.Handler
	HealthHandler  http.Handler
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(10 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Api-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 健康检查与指标端点（不走管理认证）
	if deps.HealthHandler != nil {
		router.GET("/health/live", gin.WrapH(deps.HealthHandler))
		router.GET("/health/ready", gin.WrapH(deps.HealthHandler))
	}
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	mailHandler := NewMailHandler(deps.Mail, deps.Store)
	domainHandler := NewDomainHandler(deps.Mail, deps.Store)
	inboxHandler := NewInboxHandler(deps.Store)
	credentialHandler := NewCredentialHandler(deps.Mail, deps.Store)
	settingHandler := NewSettingHandler(deps.Store)

	// 管理 API，静态 token 保护
	api := router.Group("/api/v1/mail")
	api.Use(middleware.AdminTokenAuth(deps.Config.Admin.APIToken))
	{
		api.POST("/send", mailHandler.Send)

		api.GET("/outbound", mailHandler.ListOutbound)
		api.GET("/outbound/:id", mailHandler.GetOutbound)
		api.POST("/outbound/:id/cancel", mailHandler.CancelOutbound)

		api.GET("/domains", domainHandler.List)
		api.POST("/domains", domainHandler.Setup)
		api.GET("/domains/:id", domainHandler.Get)
		api.POST("/domains/:id/dns-check", domainHandler.CheckDNS)
		api.GET("/domains/:id/dns-records", domainHandler.DNSRecords)

		api.GET("/inbox", inboxHandler.List)
		api.GET("/inbox/:id", inboxHandler.Get)
		api.POST("/inbox/:id/read", inboxHandler.MarkRead)
		api.POST("/inbox/:id/spam", inboxHandler.MarkSpam)
		api.DELETE("/inbox/:id", inboxHandler.Delete)

		api.GET("/credentials", credentialHandler.List)
		api.POST("/credentials", credentialHandler.Create)
		api.DELETE("/credentials/:id", credentialHandler.Delete)
		api.POST("/credentials/refresh", credentialHandler.Refresh)

		api.GET("/settings/:name", settingHandler.Get)
		api.PUT("/settings/:name", settingHandler.Set)
	}

	return router
}
