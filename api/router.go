package api

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest-worker/api/handler"
	"github.com/fyerfyer/doc-ingest-worker/api/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers 路由依赖的处理器
// Ingestions和Tasks为nil时不注册对应路由
type Handlers struct {
	Process    *handler.ProcessHandler
	Ingestions *handler.IngestionHandler
	Tasks      *handler.TaskHandler
	EnableCORS bool
}

// SetupRouter 设置API路由
func SetupRouter(h Handlers) *gin.Engine {
	router := gin.New()

	if h.EnableCORS {
		router.Use(Cors())
	}
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	// 上游分发器调用的同步接口
	router.POST("/process", h.Process.Process)

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})

		if h.Ingestions != nil {
			ingestGroup := api.Group("/ingestions")
			{
				// 异步摄取 - POST /api/ingestions
				ingestGroup.POST("", h.Ingestions.Enqueue)

				// 摄取记录 - GET /api/ingestions/:id
				ingestGroup.GET("/:id", h.Ingestions.GetIngestion)

				// 摄取记录列表 - GET /api/ingestions
				ingestGroup.GET("", h.Ingestions.ListIngestions)

				if h.Tasks != nil {
					ingestGroup.GET("/:id/tasks", h.Tasks.GetFileTasks)
				}
			}
		}

		if h.Tasks != nil {
			api.GET("/tasks/:id", h.Tasks.GetTaskStatus)
		}
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
