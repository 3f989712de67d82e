package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiwilsonsam/cantomeet-notes/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "meeting-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	meetingHandler := handler.NewMeetingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		meetings := v1.Group("/meetings")
		{
			// POST /api/v1/meetings/upload - Upload a recording
			meetings.POST("/upload", jobHandler.Upload)

			// GET /api/v1/meetings - List meetings in a workspace
			meetings.GET("", meetingHandler.ListMeetings)

			// GET /api/v1/meetings/:meeting_id - Get a meeting record
			meetings.GET("/:meeting_id", meetingHandler.GetMeeting)

			// PATCH /api/v1/meetings/:meeting_id - Edit a meeting record
			meetings.PATCH("/:meeting_id", meetingHandler.UpdateMeeting)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs in a workspace
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/finalize - Finalize a reviewed job
			jobs.POST("/:job_id/finalize", jobHandler.FinalizeJob)
		}
	}

	return r
}
