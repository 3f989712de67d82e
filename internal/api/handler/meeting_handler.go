package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aiwilsonsam/cantomeet-notes/internal/api/dto"
	"github.com/aiwilsonsam/cantomeet-notes/internal/meeting"
)

// MeetingHandler handles meeting-record HTTP requests
type MeetingHandler struct {
	logger   *slog.Logger
	meetings meeting.Store
}

// NewMeetingHandler creates a new MeetingHandler instance
func NewMeetingHandler(deps *Dependencies) *MeetingHandler {
	return &MeetingHandler{
		logger:   deps.Logger,
		meetings: deps.Meetings,
	}
}

// GetMeeting handles GET /api/v1/meetings/:meeting_id
func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	if _, err := uuid.Parse(meetingID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "meeting_id must be a valid UUID",
		})
		return
	}

	m, err := h.meetings.Get(c.Request.Context(), meetingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromMeeting(m))
}

// ListMeetings handles GET /api/v1/meetings?workspace_id=...
func (h *MeetingHandler) ListMeetings(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "workspace_id is required",
		})
		return
	}

	meetings, err := h.meetings.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]dto.MeetingDTO, len(meetings))
	for i, m := range meetings {
		response[i] = dto.FromMeeting(m)
	}

	c.JSON(http.StatusOK, dto.ListMeetingsResponse{Meetings: response})
}

// UpdateMeeting handles PATCH /api/v1/meetings/:meeting_id
// Edits the title, tags, or reviewed summary of a meeting
func (h *MeetingHandler) UpdateMeeting(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	if _, err := uuid.Parse(meetingID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "meeting_id must be a valid UUID",
		})
		return
	}

	var req dto.UpdateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Title == nil && req.Tags == nil && req.Summary == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one of title, tags or summary is required",
		})
		return
	}

	m, err := h.meetings.Update(c.Request.Context(), meetingID, meeting.UpdateParams{
		Title:   req.Title,
		Tags:    req.Tags,
		Summary: req.Summary,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Meeting updated", slog.String("meeting_id", meetingID))
	c.JSON(http.StatusOK, dto.FromMeeting(m))
}
