package lock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory is an in-process lock registry. Every acquire and release runs inside one
// critical section over the whole registry. Expired entries are swept lazily on each
// Acquire; RunJanitor only keeps memory bounded when keys stop being acquired.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	locks  map[Key]Lock
	logger *zap.Logger
}

// MemoryOption configures a Memory registry.
type MemoryOption func(*Memory)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithLogger sets the logger used for stale lock reports.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(m *Memory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMemory creates a registry whose locks expire after ttl (DefaultTTL if ttl <= 0).
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		ttl:    ttl,
		now:    time.Now,
		locks:  make(map[Key]Lock),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire implements Manager.
func (m *Memory) Acquire(ctx context.Context, key Key, runID, holder string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	if cur, ok := m.locks[key]; ok && cur.RunID != runID {
		return false, cur.RunID, nil
	}

	m.locks[key] = Lock{RunID: runID, Holder: holder, AcquiredAt: now}
	return true, "", nil
}

// Release implements Manager.
func (m *Memory) Release(_ context.Context, key Key, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.locks[key]
	if !ok || cur.RunID != runID {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Get returns the live holder of key, if any.
func (m *Memory) Get(key Key) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.locks[key]
	if !ok || m.expired(cur, m.now()) {
		return Lock{}, false
	}
	return cur, true
}

// Len returns the number of entries in the registry, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Sweep removes expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("swept expired execution locks", zap.Int("count", n))
			}
		}
	}
}

func (m *Memory) sweepLocked(now time.Time) int {
	removed := 0
	for key, cur := range m.locks {
		if m.expired(cur, now) {
			m.logger.Warn("execution lock expired",
				zap.String("key", key.String()),
				zap.String("run_id", cur.RunID),
				zap.String("holder", cur.Holder),
				zap.Time("acquired_at", cur.AcquiredAt),
			)
			delete(m.locks, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) expired(l Lock, now time.Time) bool {
	return now.Sub(l.AcquiredAt) > m.ttl
}
