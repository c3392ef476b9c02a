package handler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by the storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports liveness and runtime state.
type SystemHandler struct {
	db        Pinger
	driver    string
	rdb       *redis.Client // optional
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(db Pinger, driver string, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		driver:    driver,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthReport struct {
	Status   string          `json:"status"`
	Uptime   string          `json:"uptime"`
	Database componentHealth `json:"database"`
	Redis    componentHealth `json:"redis"`
}

type systemInfo struct {
	Timestamp   int64  `json:"timestamp"`
	Uptime      string `json:"uptime"`
	Driver      string `json:"database_driver"`
	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	HeapSys     uint64 `json:"heap_sys"`
	NumGC       uint32 `json:"num_gc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	GoVersion   string `json:"go_version"`
	NumCPU      int    `json:"num_cpu"`
	// -1 when Redis is not configured or unreachable.
	QueueAudit int64 `json:"queue_audit"`
}

// Health godoc
// GET /health
// 200 when the database answers; Redis is reported but only degrades.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:   "ok",
		Uptime:   formatDuration(time.Since(h.startTime)),
		Database: componentHealth{Status: "ok"},
		Redis:    componentHealth{Status: "disabled"},
	}

	if err := h.db.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("Database health check failed")
		report.Status = "unavailable"
		report.Database = componentHealth{Status: "down", Error: err.Error()}
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			if report.Status == "ok" {
				report.Status = "degraded"
			}
			report.Redis = componentHealth{Status: "down", Error: err.Error()}
		} else {
			report.Redis = componentHealth{Status: "ok"}
		}
	}

	status := http.StatusOK
	if report.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

// SystemInfo godoc
// GET /api/v1/admin/system
func (h *SystemHandler) SystemInfo(c *gin.Context) {
	info := systemInfo{
		Timestamp:  time.Now().Unix(),
		Uptime:     formatDuration(time.Since(h.startTime)),
		Driver:     h.driver,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		QueueAudit: -1,
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.Goroutines = runtime.NumGoroutine()
	info.HeapAlloc = ms.HeapAlloc
	info.HeapSys = ms.Sys
	info.NumGC = ms.NumGC
	info.AppRSSBytes, _ = readProcessRSS()

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if n, err := h.rdb.LLen(ctx, config.WorkerKey.SessionAuditQueue).Result(); err == nil {
			info.QueueAudit = n
		}
	}

	response.Success(c, http.StatusOK, info)
}

// readProcessRSS reads VmRSS from /proc/self/status.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			// Format: "VmRSS:     16384 kB"
			fields := strings.Fields(line)
			if len(fields) < 2 {
				break
			}
			val, _ := strconv.ParseUint(fields[1], 10, 64)
			return val * 1024, nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found")
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
