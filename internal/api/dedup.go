package api

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryUpdateLog is the single-instance UpdateLog.
type MemoryUpdateLog struct {
	mu   sync.Mutex
	seen *expirable.LRU[int64, struct{}]
}

func NewMemoryUpdateLog(size int, ttl time.Duration) *MemoryUpdateLog {
	return &MemoryUpdateLog{seen: expirable.NewLRU[int64, struct{}](size, nil, ttl)}
}

func (m *MemoryUpdateLog) FirstSeen(_ context.Context, updateID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen.Contains(updateID) {
		return false, nil
	}
	m.seen.Add(updateID, struct{}{})
	return true, nil
}

func (m *MemoryUpdateLog) Forget(_ context.Context, updateID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen.Remove(updateID)
	return nil
}
