package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/chapterdl/api/handlers"
	"github.com/yourusername/chapterdl/api/middleware"
	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/pkg/logger"
)

// SetupRouter sets up the HTTP router
func SetupRouter(
	queueMgr *app.QueueManager,
	downloadMgr *app.DownloadManager,
	events handlers.EventSubscriber,
	multiLogger *logger.MultiLogger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(multiLogger))
	router.Use(middleware.Recovery(multiLogger))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(queueMgr, downloadMgr)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	webLog := multiLogger.Web()

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(queueMgr, downloadMgr, webLog)
		eventsHandler := handlers.NewEventsHandler(queueMgr, events, webLog)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)
			downloads.GET("/ws", eventsHandler.HandleWebSocket)
			downloads.DELETE("/finished", downloadHandler.ClearFinished)
			downloads.GET("/:manga/:chapter", downloadHandler.GetDownload)
			downloads.DELETE("/:manga/:chapter", downloadHandler.DeleteDownload)
			downloads.POST("/:manga/:chapter/retry", downloadHandler.RetryDownload)
		}

		downloader := v1.Group("/downloader")
		{
			downloader.POST("/start", downloadHandler.StartDownloader)
			downloader.POST("/stop", downloadHandler.StopDownloader)
		}

		logHandler := handlers.NewLogHandler(multiLogger.GetLogsDir())
		logStream := handlers.NewLogWebSocketHandler(multiLogger.GetLogsDir(), webLog)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
			logs.GET("/:category/ws", logStream.HandleWebSocket)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
