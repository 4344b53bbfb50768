package usecase

import (
	"hash/fnv"
	"sync"
	"time"
)

// LockManager hands out short-lived per-ladder processing locks.
// Acquisition is set-if-absent with an expiry, so a pass that dies
// without releasing only blocks its ladder until the TTL runs out.
// Losing callers skip the tick; they never wait.
type LockManager struct {
	ttl    time.Duration
	shards []lockShard
}

type lockShard struct {
	mu sync.Mutex
	m  map[string]time.Time // ladder id -> expiry
}

func NewLockManager(ttl time.Duration, shardCount int) *LockManager {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]lockShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &LockManager{ttl: ttl, shards: shards}
}

// TryAcquire grants exclusive processing rights for ladderID for up to
// ttl (the manager default when ttl <= 0). Returns false when another
// pass already holds an unexpired lock.
func (lm *LockManager) TryAcquire(ladderID string, ttl time.Duration) bool {
	if ladderID == "" {
		return false
	}
	if ttl <= 0 {
		ttl = lm.ttl
	}
	now := time.Now()
	sh := lm.shard(ladderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Purge expired entries in this shard while we hold its mutex.
	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}

	if exp, ok := sh.m[ladderID]; ok && exp.After(now) {
		return false
	}
	sh.m[ladderID] = now.Add(ttl)
	return true
}

// Release frees the lock early. Best-effort: a missing entry (already
// expired) is not an error.
func (lm *LockManager) Release(ladderID string) {
	if ladderID == "" {
		return
	}
	sh := lm.shard(ladderID)
	sh.mu.Lock()
	delete(sh.m, ladderID)
	sh.mu.Unlock()
}

func (lm *LockManager) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &lm.shards[int(h.Sum32())%len(lm.shards)]
}
