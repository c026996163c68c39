package registration

import (
	"time"

	"github.com/remind-lab/remindd/internal/core/storage"
	"github.com/gin-gonic/gin"
)

// Service is the HTTP glue between the outside registration flow and the
// event store: it collects event fields, computes the reminder trigger time
// and hands the rest to the engine.
type Service struct {
	store            storage.EventStore
	leadInterval     time.Duration
	maxBodySizeBytes int
	now              func() time.Time
}

func NewService(store storage.EventStore, leadInterval time.Duration, maxBodySizeMB int) *Service {
	if store == nil {
		panic("registration: store must not be nil")
	}
	if leadInterval <= 0 {
		leadInterval = 5 * time.Minute
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		leadInterval:     leadInterval,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		now:              time.Now,
	}
}

// RegisterRoutes registers the registration and reporting routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.CreateEventHandler)
	r.GET("/v1/events/upcoming", s.UpcomingEventsHandler)
	r.GET("/v1/stats", s.StatsHandler)
}
