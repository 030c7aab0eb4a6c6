package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorHandler serves the live proctoring view of one exam.
type MonitorHandler struct {
	rdb     *redis.Client
	monitor *service.MonitorService
	log     zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, monitor *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/staff/exams/:id/monitor
// Sends a snapshot, then relays start and submit events as they are published.
// A periodic refresh covers anything the subscription missed.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}
	staff := middleware.MustStaff(c)
	ctx := c.Request.Context()

	// The first snapshot doubles as the ownership check.
	snap, err := h.monitor.Snapshot(ctx, staff, examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	startEventStream(c)
	if err := writeTyped(c, "snapshot", snap); err != nil {
		return
	}

	var live <-chan *redis.Message
	if h.rdb != nil {
		sub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
		defer sub.Close()
		live = sub.Channel()
	}

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	log := h.log.With().Str("exam_id", examID.String()).Str("staff", staff.AccountID).Logger()
	log.Info().Msg("Monitor attached")
	defer log.Info().Msg("Monitor detached")

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-live:
			if !ok {
				return
			}
			// Published payloads are model.MonitorEvent JSON with their own type.
			err = writeEvent(c, []byte(msg.Payload))
		case <-refresh.C:
			err = h.refresh(c, ctx, staff, examID)
		case <-keepAlive.C:
			err = writeTyped(c, "ping", nil)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Monitor stream closed")
			return
		}
	}
}

// refresh re-reads the snapshot so counts converge even if a message was lost.
// A failed read is logged and skipped; only write errors end the stream.
func (h *MonitorHandler) refresh(c *gin.Context, parent context.Context, staff service.Staff, examID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, staff, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor refresh failed")
		return nil
	}
	return writeTyped(c, "refresh", snap)
}
