package registration

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
	httperr "github.com/remind-lab/remindd/internal/core/errors"
	"github.com/remind-lab/remindd/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist event"
	msgDuplicateEvent = "Event already exists"
	msgStoreDown      = "Storage backend unavailable"
	msgOwnerRequired  = "owner_id is required"
	msgPastEventTime  = "event_time must be in the future"
)

// createEventRequest is the registration payload. The reminder trigger time
// is computed server-side; clients never supply it.
type createEventRequest struct {
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryID  string    `json:"category_id"`
	EventTime   time.Time `json:"event_time"`
}

// CreateEventHandler handles HTTP POST requests registering a new event.
func (s *Service) CreateEventHandler(c *gin.Context) {
	limitedBody := io.LimitReader(c.Request.Body, int64(s.maxBodySizeBytes)+1)
	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, msgReadBodyFailed, nil)
		return
	}
	if len(bodyBytes) > s.maxBodySizeBytes {
		writeError(c, http.StatusRequestEntityTooLarge, httperr.HttpInvalidJsonError,
			"Request body exceeds maximum allowed size",
			map[string]interface{}{"max_size_mb": s.maxBodySizeBytes / (1024 * 1024)})
		return
	}

	var req createEventRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, err.Error())
		return
	}

	now := s.now().UTC()
	if !req.EventTime.IsZero() && req.EventTime.Before(now) {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, msgPastEventTime, nil)
		return
	}

	evt := v1.NewEvent(req.OwnerID, req.Title, req.Description, req.CategoryID, req.EventTime, s.leadInterval, now)
	if err := evt.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, err.Error(), nil)
		return
	}

	id, err := s.store.Insert(c.Request.Context(), evt)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			writeError(c, http.StatusConflict, httperr.HttpDuplicateEventError, msgDuplicateEvent, nil)
		case errors.Is(err, storage.ErrUnavailable):
			slog.Error("Event store unavailable", "error", err)
			writeError(c, http.StatusServiceUnavailable, httperr.HttpStoreUnavailableError, msgStoreDown, nil)
		default:
			slog.Error("Failed to persist event", "error", err)
			writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, msgPersistFailed, nil)
		}
		return
	}

	slog.Info("Registered event",
		"event_id", id,
		"owner_id", evt.OwnerID,
		"event_time", evt.EventTime,
		"remind_at", evt.RemindAt)

	c.JSON(http.StatusCreated, gin.H{
		"id":        id,
		"remind_at": evt.RemindAt,
	})
}

// UpcomingEventsHandler lists the owner's undelivered future events.
func (s *Service) UpcomingEventsHandler(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, msgOwnerRequired, nil)
		return
	}

	events, err := s.store.ListUpcoming(c.Request.Context(), ownerID, s.now().UTC())
	if err != nil {
		slog.Error("Failed to list upcoming events", "owner_id", ownerID, "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to list events", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// StatsHandler serves the per-owner aggregate over a closed window.
// Defaults to the current calendar month when no window is given.
func (s *Service) StatsHandler(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, msgOwnerRequired, nil)
		return
	}

	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now

	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(c, http.StatusBadRequest, httperr.HttpValidationError, "invalid from timestamp", err.Error())
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(c, http.StatusBadRequest, httperr.HttpValidationError, "invalid to timestamp", err.Error())
			return
		}
	}

	stats, err := s.store.StatsForPeriod(c.Request.Context(), ownerID, from, to)
	if err != nil {
		slog.Error("Failed to compute stats", "owner_id", ownerID, "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to compute stats", nil)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func writeError(c *gin.Context, status int, errorType, message string, details interface{}) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	})
}
