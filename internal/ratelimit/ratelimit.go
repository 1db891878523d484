package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key against a fixed window. A fixed window
// permits up to 2N requests across a window boundary; that burst is an
// accepted tradeoff over a sliding log.
type Limiter interface {
	// Check records one request for key and reports whether it is within the
	// limit for the window.
	Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// WindowStore is the subset of the datastore the store-backed limiter needs.
type WindowStore interface {
	IncrementRateWindow(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// StoreLimiter keeps its counters in the shared datastore so every serving
// instance observes the same window state.
type StoreLimiter struct {
	store WindowStore
}

func NewStoreLimiter(s WindowStore) *StoreLimiter {
	return &StoreLimiter{store: s}
}

func (l *StoreLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	count, resetAt, err := l.store.IncrementRateWindow(ctx, key, window)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Limit:   limit,
		ResetAt: resetAt,
	}
	if count > limit {
		res.Allowed = false
		res.Remaining = 0
		return res, nil
	}

	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}

// MemoryLimiter is an in-process fallback with the same window semantics.
// It does not coordinate across instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, limit int, dur time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(dur)}
		l.windows[key] = w
	}
	w.count++

	res := Result{
		Limit:   limit,
		ResetAt: w.resetAt,
	}
	if w.count > limit {
		res.Remaining = 0
		return res, nil
	}

	res.Allowed = true
	res.Remaining = limit - w.count
	return res, nil
}

// Cleanup removes expired windows to prevent memory leaks
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to periodically clean up expired windows
func (l *MemoryLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			l.Cleanup()
		}
	}()
}

var (
	_ Limiter = (*StoreLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
