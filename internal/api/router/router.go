package router

import (
	"net/http"

	"github.com/cuongbtq/image-converter/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "converter-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	jobHandler := handler.NewJobHandler(deps)

	documents := r.Group("/api/documents")
	{
		// POST /api/documents/upload - Upload a file and queue a conversion
		documents.POST("/upload", jobHandler.Upload)

		// GET /api/documents/status/:job_id - Get job status
		documents.GET("/status/:job_id", jobHandler.GetStatus)

		// GET /api/documents/jobs - List jobs
		documents.GET("/jobs", jobHandler.ListJobs)

		// GET /api/documents/download/:job_id - Download a job result
		documents.GET("/download/:job_id", jobHandler.Download)

		// DELETE /api/documents/job/:job_id - Delete a job and its files
		documents.DELETE("/job/:job_id", jobHandler.DeleteJob)
	}

	return r
}
