package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	api := router.Group("/api/v1")
	registerChatRoutes(api, handlers)
	registerUploadRoutes(api, handlers)
	registerAdminRoutes(api, handlers)
}

// registerChatRoutes 问答相关路由
func registerChatRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	chatGroup := apiGroup.Group("/chat")
	{
		chatGroup.POST("/ask", h.Chat.Ask)
		chatGroup.GET("/stream", h.Stream.Stream)
		chatGroup.GET("/history/:user_id", h.Chat.History)
		chatGroup.POST("/report", h.Chat.Report)
	}
}

// registerUploadRoutes 教材上传与目录路由
func registerUploadRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	uploadGroup := apiGroup.Group("/uploads")
	{
		uploadGroup.POST("/book", h.Upload.UploadBook)
		uploadGroup.GET("", h.Upload.List)
		uploadGroup.GET("/:id", h.Upload.Status)
		uploadGroup.DELETE("/:id", h.Upload.Delete)
	}

	apiGroup.GET("/books/chapters", h.Upload.Chapters)
}

// registerAdminRoutes 后台统计路由
func registerAdminRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	adminGroup := apiGroup.Group("/admin")
	{
		adminGroup.GET("/stats", h.Admin.Stats)
	}
}
