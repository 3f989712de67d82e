package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiwilsonsam/cantomeet-notes/internal/blob"
	"github.com/aiwilsonsam/cantomeet-notes/internal/meeting"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Pipeline      *pipeline.Service
	Meetings      meeting.Store
	Blobs         blob.Store
	MaxUploadSize int64
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrJobNotFound), errors.Is(err, meeting.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrInvalidState), errors.Is(err, pipeline.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
