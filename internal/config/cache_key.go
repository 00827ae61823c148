package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamRecordsKey returns the cache key for an exam's full record list,
// correct indexes included. Never sent to candidates.
func (r *CacheKeyStruct) ExamRecordsKey(examID string) string {
	return fmt.Sprintf("exam:%s:records", examID)
}

// ExamPaperKey returns the cache key for an exam's candidate paper
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

// ExamDurationKey returns the cache key for an exam's duration in minutes
func (r *CacheKeyStruct) ExamDurationKey(examID string) string {
	return fmt.Sprintf("exam:%s:duration", examID)
}

// AttemptStartKey returns the cache key for an attempt's start time
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// AttemptAnswersKey returns the cache key for an attempt's autosaved answers
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptResultKey returns the cache key holding an attempt's published
// result until the result worker has persisted it
func (r *CacheKeyStruct) AttemptResultKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:result", attemptID)
}

var CacheKey = NewCacheKeyStruct()

// ExamMonitorChannel returns the Pub/Sub channel carrying live attempt
// events of an exam
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}
