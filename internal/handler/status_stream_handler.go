package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
	ws "github.com/stemsi/exstem-gate/internal/websocket"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // keeps a slow query from stalling the loop
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StatusStreamHandler pushes live completion status to operators.
type StatusStreamHandler struct {
	statusService   *service.StatusService
	rdb             *redis.Client // nil: periodic refresh only
	log             zerolog.Logger
	upgrader        websocket.Upgrader
	refreshInterval time.Duration
}

// NewStatusStreamHandler creates a new StatusStreamHandler.
func NewStatusStreamHandler(statusService *service.StatusService, rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *StatusStreamHandler {
	return &StatusStreamHandler{
		statusService:   statusService,
		rdb:             rdb,
		log:             log.With().Str("component", "status_stream").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
		refreshInterval: refreshInterval,
	}
}

// StreamStatus godoc
// WS /ws/v1/admin/assessments/:id/status?token=...
// Sends a snapshot on connect, after every session event of the assessment,
// periodically, and when the client asks for one.
func (h *StatusStreamHandler) StreamStatus(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Unknown assessments are rejected before the upgrade.
	initial, err := h.fetch(c.Request.Context(), assessmentID)
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wsLog := h.log.With().Str("assessment_id", assessmentID.String()).Logger()
	wsLog.Info().Msg("Operator attached to status stream")
	defer wsLog.Info().Msg("Operator detached from status stream")

	if err := ws.WriteTyped(conn, ws.SnapshotResponse{Event: ws.EventSnapshot, Reason: ws.ReasonInitial, Status: initial}); err != nil {
		return
	}

	var events <-chan *redis.Message
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()))
		defer pubsub.Close()
		events = pubsub.Channel()
	}

	actions := make(chan ws.Action, 4)
	go readActions(conn, actions, cancel, wsLog)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshInterval)
	defer refreshTicker.Stop()

	for {
		var werr error
		select {
		case <-ctx.Done():
			return

		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// A burst of submissions collapses into one snapshot.
			for len(events) > 0 {
				<-events
			}
			werr = h.sendSnapshot(ctx, conn, assessmentID, ws.ReasonSession)

		case action := <-actions:
			switch action {
			case ws.ActionPing:
				werr = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionRefresh:
				werr = h.sendSnapshot(ctx, conn, assessmentID, ws.ReasonRequested)
			default:
				werr = ws.WriteError(conn, "unknown action: "+string(action))
			}

		case <-refreshTicker.C:
			werr = h.sendSnapshot(ctx, conn, assessmentID, ws.ReasonPeriodic)

		case <-keepAliveTicker.C:
			werr = ws.WritePing(conn)
		}

		if werr != nil {
			wsLog.Debug().Err(werr).Msg("Write failed")
			return
		}
	}
}

func (h *StatusStreamHandler) fetch(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	return h.statusService.GetStatus(ctx, assessmentID)
}

// sendSnapshot only fails on write errors; a failed query skips the snapshot.
func (h *StatusStreamHandler) sendSnapshot(ctx context.Context, conn *websocket.Conn, assessmentID uuid.UUID, reason string) error {
	status, err := h.fetch(ctx, assessmentID)
	if err != nil {
		h.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Status refresh failed")
		return nil
	}
	return ws.WriteTyped(conn, ws.SnapshotResponse{Event: ws.EventSnapshot, Reason: reason, Status: status})
}

// readActions owns the read side of the connection. All writes stay on the
// handler goroutine.
func readActions(conn *websocket.Conn, actions chan<- ws.Action, cancel context.CancelFunc, log zerolog.Logger) {
	defer cancel()
	ws.ExtendOnPong(conn)

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		select {
		case actions <- msg.Action:
		default:
			// Client is flooding; drop.
		}
	}
}
