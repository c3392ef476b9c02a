package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AssessmentDefinitionKey returns the cache key for a cached assessment definition
func (r *CacheKeyStruct) AssessmentDefinitionKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:definition", assessmentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment's session events
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

// VerifyRateLimitKey returns the counter key for identity verification attempts from one client
func (r *CacheKeyStruct) VerifyRateLimitKey(clientIP string, window int64) string {
	return fmt.Sprintf("ratelimit:verify:%s:%d", clientIP, window)
}

var CacheKey = NewCacheKeyStruct()
