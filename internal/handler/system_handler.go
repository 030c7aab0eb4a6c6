package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
)

const metricsInterval = 7 * time.Second

// SystemHandler streams process health and worker backlog to admins via SSE.
type SystemHandler struct {
	rdb      *redis.Client
	clock    clock.Clock
	started  time.Time
	interval time.Duration
	log      zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, clk clock.Clock, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:      rdb,
		clock:    clk,
		started:  clk.Now(),
		interval: metricsInterval,
		log:      log.With().Str("component", "system_handler").Logger(),
	}
}

type runtimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

type systemSnapshot struct {
	ServerTime time.Time    `json:"server_time"`
	Uptime     string       `json:"uptime"`
	Runtime    runtimeStats `json:"runtime"`

	// Queues holds the backlog per worker queue; absent when Redis is down.
	Queues       map[string]int64 `json:"queues,omitempty"`
	RedisLatency string           `json:"redis_latency,omitempty"`
	RedisError   string           `json:"redis_error,omitempty"`
}

// SystemMetricsSSE godoc
// GET /api/v1/staff/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	ctx := c.Request.Context()

	startEventStream(c)

	h.log.Debug().Msg("Admin subscribed to system metrics")
	defer h.log.Debug().Msg("Admin left system metrics")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.writeSnapshot(c, h.snapshot(ctx)); err != nil {
			h.log.Warn().Err(err).Msg("System metrics write failed")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SystemHandler) writeSnapshot(c *gin.Context, snap systemSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeEvent(c, data)
}

func (h *SystemHandler) snapshot(ctx context.Context) systemSnapshot {
	now := h.clock.Now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := systemSnapshot{
		ServerTime: now.UTC(),
		Uptime:     formatUptime(now.Sub(h.started)),
		Runtime: runtimeStats{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  ms.HeapAlloc,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			GoVersion:  runtime.Version(),
		},
	}
	if h.rdb == nil {
		return snap
	}

	queues := config.WorkerKey.Queues()
	cmds := make(map[string]*redis.IntCmd, len(queues))

	began := time.Now()
	pipe := h.rdb.Pipeline()
	for name, key := range queues {
		cmds[name] = pipe.LLen(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		snap.RedisError = err.Error()
		return snap
	}
	snap.RedisLatency = time.Since(began).Round(time.Microsecond).String()

	snap.Queues = make(map[string]int64, len(cmds))
	for name, cmd := range cmds {
		snap.Queues[name] = cmd.Val()
	}
	return snap
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	if days == 0 {
		return d.String()
	}
	return fmt.Sprintf("%dd%s", days, (d - days*24*time.Hour).String())
}
