// Package events fans committed session transitions out to Redis: the
// assessment's monitor channel for live status views and the audit queue
// drained by the audit worker.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/model"
)

// RedisSink publishes lifecycle events. Failures are logged and swallowed:
// the transition has already committed.
type RedisSink struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisSink creates a new RedisSink.
func NewRedisSink(rdb *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		rdb: rdb,
		log: log.With().Str("component", "event_sink").Logger(),
	}
}

// Publish implements service.EventSink.
func (s *RedisSink) Publish(ctx context.Context, e model.AuditEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.log.Error().Err(err).Msg("Encode event")
		return
	}

	// The request may be cancelled right after the commit; the event still goes out.
	ctx = context.WithoutCancel(ctx)

	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(e.AssessmentID.String()), payload)
	pipe.RPush(ctx, config.WorkerKey.SessionAuditQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).
			Str("kind", string(e.Kind)).
			Str("session_id", e.SessionID.String()).
			Msg("Event publish failed")
	}
}
