package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/graphport-backend/internal/handlers"
)

type RouterConfig struct {
	DatasetHandler *handlers.DatasetHandler
	UploadHandler  *handlers.UploadHandler
	TaskHandler    *handlers.TaskHandler
	SSEHandler     *handlers.SSEHandler
	SchemaHandler  *handlers.SchemaHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("graphport"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Datasets
		api.POST("/datasets", cfg.DatasetHandler.Create)
		api.GET("/datasets", cfg.DatasetHandler.List)
		api.GET("/datasets/:id", cfg.DatasetHandler.Get)
		api.DELETE("/datasets/:id", cfg.DatasetHandler.Delete)
		api.GET("/datasets/:id/tasks", cfg.DatasetHandler.ListTasks)
		// Uploads
		api.POST("/datasets/:id/upload", cfg.UploadHandler.Upload)
		// Tasks
		api.GET("/tasks/:id", cfg.TaskHandler.Get)
		// Graph schema
		api.GET("/graph/schema", cfg.SchemaHandler.Get)
		// SSE
		api.GET("/sse/tasks/:id", cfg.SSEHandler.StreamTask)
	}

	return router
}
