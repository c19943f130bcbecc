package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hurttlocker/linewatch/internal/store"
)

// GET /api/notifications/stream?since_id=
// Server-sent events. Each notification is one "notification" event whose id
// is the notification id, so a reconnecting client resumes via Last-Event-ID.
func (s *Server) streamNotifications(c *gin.Context) {
	cursor, err := streamCursor(c)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	ctx := c.Request.Context()
	clientID := uuid.NewString()
	log := s.log.With("client", clientID)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", s.opts.PollInterval.Milliseconds())
	c.Writer.Flush()
	log.Debug("notification stream opened", "since_id", cursor)

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	// Deliver the backlog right away instead of waiting for the first tick.
	next, err := s.pushNotifications(c, cursor)
	if err != nil {
		log.Warn("notification stream failed", "error", err)
		return
	}
	cursor = next

	for {
		select {
		case <-ctx.Done():
			log.Debug("notification stream closed", "last_id", cursor)
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-poll.C:
			next, err := s.pushNotifications(c, cursor)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("notification stream failed", "error", err)
				}
				return
			}
			cursor = next
		}
	}
}

// pushNotifications drains everything after cursor in FeedBatchSize pages and
// returns the new cursor.
func (s *Server) pushNotifications(c *gin.Context, cursor int64) (int64, error) {
	for {
		batch, err := s.store.ListNotificationsAfter(c.Request.Context(), cursor, FeedBatchSize)
		if err != nil {
			return cursor, err
		}
		for _, n := range batch {
			if err := writeEvent(c.Writer, n); err != nil {
				return cursor, err
			}
			cursor = n.ID
		}
		if len(batch) > 0 {
			c.Writer.Flush()
		}
		if len(batch) < FeedBatchSize {
			return cursor, nil
		}
	}
}

func writeEvent(w io.Writer, n store.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification %d: %w", n.ID, err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: notification\ndata: %s\n\n", n.ID, data)
	return err
}

// streamCursor reads since_id, falling back to the Last-Event-ID header.
func streamCursor(c *gin.Context) (int64, error) {
	raw := strings.TrimSpace(c.Query("since_id"))
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader("Last-Event-ID"))
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("since_id must be a non-negative integer")
	}
	return id, nil
}
