package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamAnswerKey returns the cache key for an exam's answer key hash
// (question id -> "correct_index:option_count").
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamAnswerKeyVersion returns the counter bumped whenever an exam's answer
// key is rebuilt or dropped.
func (r *CacheKeyStruct) ExamAnswerKeyVersion(examID string) string {
	return fmt.Sprintf("exam:%s:key:version", examID)
}

// RegistrationDraftKey returns the cache key for a registration's draft answers hash.
func (r *CacheKeyStruct) RegistrationDraftKey(examID, identity string) string {
	return fmt.Sprintf("registration:%s:%s:draft", examID, identity)
}

// RegistrationLockKey returns the key guarding commits for one registration.
func (r *CacheKeyStruct) RegistrationLockKey(examID, identity string) string {
	return fmt.Sprintf("registration:%s:%s:lock", examID, identity)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
