package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aiwilsonsam/cantomeet-notes/internal/api/dto"
	"github.com/aiwilsonsam/cantomeet-notes/internal/blob"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

// JobHandler handles upload and job-lifecycle HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	pipeline      *pipeline.Service
	blobs         blob.Store
	maxUploadSize int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxUploadSize := deps.MaxUploadSize
	if maxUploadSize <= 0 {
		maxUploadSize = 512 << 20
	}
	return &JobHandler{
		logger:        deps.Logger,
		pipeline:      deps.Pipeline,
		blobs:         deps.Blobs,
		maxUploadSize: maxUploadSize,
	}
}

// Upload handles POST /api/v1/meetings/upload
// Accepts a recording and starts the processing pipeline
func (h *JobHandler) Upload(c *gin.Context) {
	workspaceID := c.PostForm("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "workspace_id is required",
		})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}

	if file.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds maximum upload size of %d bytes", h.maxUploadSize),
		})
		return
	}

	if err := pipeline.ValidateAudioFilename(file.Filename); err != nil {
		respondError(c, h.logger, err)
		return
	}

	src, err := file.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	defer src.Close()

	sourceRef := fmt.Sprintf("uploads/%s%s", uuid.New().String(), filepath.Ext(file.Filename))
	size, err := h.blobs.Save(c.Request.Context(), sourceRef, src)
	if err != nil {
		h.logger.Error("Failed to store uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	job, err := h.pipeline.CreateJob(c.Request.Context(), pipeline.CreateParams{
		WorkspaceID: workspaceID,
		SourceRef:   sourceRef,
		Filename:    file.Filename,
		FileSize:    size,
		Language:    c.PostForm("language"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// A job that failed to schedule is already terminal; 202 would promise
	// processing that will never happen.
	if job.State == pipeline.StateFailed {
		h.logger.Error("Upload stored but job could not be scheduled",
			slog.String("job_id", job.ID),
			slog.String("error", job.ErrorMessage),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to schedule processing, please retry",
		})
		return
	}

	h.logger.Info("Upload accepted",
		slog.String("job_id", job.ID),
		slog.String("workspace_id", workspaceID),
		slog.String("filename", file.Filename),
		slog.Int64("size", size),
	)

	c.JSON(http.StatusAccepted, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the live status of a processing job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.pipeline.Status(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs?workspace_id=...
// Lists jobs in a workspace, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	workspaceID := c.Query("workspace_id")

	jobs, err := h.pipeline.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		response[i] = dto.FromJob(job)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: response})
}

// FinalizeJob handles POST /api/v1/jobs/:job_id/finalize
// Accepts the reviewed summary and creates the permanent meeting record
func (h *JobHandler) FinalizeJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	var req dto.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.pipeline.Finalize(c.Request.Context(), jobID, pipeline.MeetingMetadata{
		Title:    req.Title,
		Template: req.Template,
		Tags:     req.Tags,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}
