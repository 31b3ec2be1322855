package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/labgraph/labgraph-backend/internal/http/handlers"
)

type RouterConfig struct {
	AllowOrigins      []string
	LabHandler        *handlers.LabHandler
	SchemaHandler     *handlers.SchemaHandler
	ConnectionHandler *handlers.ConnectionHandler
	JobHandler        *handlers.JobHandler
	EventsHandler     *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.POST("/labs", cfg.LabHandler.Create)
		api.GET("/labs", cfg.LabHandler.List)

		lab := api.Group("/labs/:labID")
		{
			lab.GET("", cfg.LabHandler.Get)
			lab.GET("/audit-log", cfg.LabHandler.AuditTrail)
			lab.GET("/events", cfg.EventsHandler.Stream)

			lab.POST("/schemas", cfg.SchemaHandler.Create)
			lab.GET("/schemas", cfg.SchemaHandler.List)
			lab.GET("/schemas/diff", cfg.SchemaHandler.Diff)
			lab.GET("/schemas/:schemaID", cfg.SchemaHandler.Get)
			lab.POST("/schemas/:schemaID/validate", cfg.SchemaHandler.Validate)
			lab.POST("/schemas/:schemaID/activate", cfg.SchemaHandler.Activate)

			lab.POST("/connections", cfg.ConnectionHandler.Create)
			lab.GET("/connections", cfg.ConnectionHandler.List)
			lab.GET("/connections/:connectionID", cfg.ConnectionHandler.Get)
			lab.POST("/connections/:connectionID/test", cfg.ConnectionHandler.Test)
			lab.POST("/connections/:connectionID/rotate-secret", cfg.ConnectionHandler.RotateSecret)
			lab.POST("/connections/:connectionID/activate", cfg.ConnectionHandler.Activate)
			lab.POST("/connections/:connectionID/deactivate", cfg.ConnectionHandler.Deactivate)

			lab.POST("/jobs", cfg.JobHandler.Enqueue)
			lab.GET("/jobs", cfg.JobHandler.List)
			lab.GET("/jobs/:jobID", cfg.JobHandler.Get)
			lab.GET("/jobs/:jobID/steps", cfg.JobHandler.ListSteps)
			lab.POST("/jobs/:jobID/retry", cfg.JobHandler.Retry)
			lab.POST("/jobs/:jobID/cancel", cfg.JobHandler.Cancel)
		}
	}

	return router
}
