// Package cache keeps read-mostly content in Redis in front of the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/model"
)

// AssessmentSource is the backing store of assessment definitions.
type AssessmentSource interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	UpsertAssessment(ctx context.Context, a *model.Assessment) error
}

// AssessmentCache is a read-through cache for assessment definitions.
// Writes go to the source first and then drop the cached copy. Redis
// failures degrade to reading the source.
type AssessmentCache struct {
	source AssessmentSource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewAssessmentCache creates a new AssessmentCache.
func NewAssessmentCache(source AssessmentSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *AssessmentCache {
	return &AssessmentCache{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "assessment_cache").Logger(),
	}
}

// GetAssessment returns the cached definition or loads and caches it.
func (c *AssessmentCache) GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	key := config.CacheKey.AssessmentDefinitionKey(id.String())

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a model.Assessment
		if jerr := json.Unmarshal(raw, &a); jerr == nil {
			return &a, nil
		}
		c.log.Warn().Str("assessment_id", id.String()).Msg("Discarding undecodable cached assessment")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Msg("Assessment cache read failed")
	}

	a, err := c.source.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Msg("Assessment cache write failed")
		}
	}
	return a, nil
}

// UpsertAssessment stores the definition and invalidates the cached copy.
func (c *AssessmentCache) UpsertAssessment(ctx context.Context, a *model.Assessment) error {
	if err := c.source.UpsertAssessment(ctx, a); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, config.CacheKey.AssessmentDefinitionKey(a.ID.String())).Err(); err != nil {
		return fmt.Errorf("invalidate cached assessment: %w", err)
	}
	return nil
}
