package middleware

import (
	"sync"
	"time"
)

// RateLimiter ограничивает число отправок на один ключ (chat_id).
// Использует алгоритм скользящего окна.
type RateLimiter struct {
	mu     sync.Mutex
	sent   map[int64][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter создаёт ограничитель и запускает фоновую очистку.
// limit <= 0 отключает ограничение.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := newRateLimiter(limit, window, time.Now)
	go rl.cleanup(5 * time.Minute)
	return rl
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		sent:   make(map[int64][]time.Time),
		limit:  limit,
		window: window,
		now:    now,
		stopCh: make(chan struct{}),
	}
}

// Close останавливает фоновую горутину очистки.
// Его надо вызывать на shutdown (иначе cleanup будет жить вечно).
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow резервирует отправку для key. false — лимит окна исчерпан.
func (rl *RateLimiter) Allow(key int64) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recentLocked(key, now)
	if len(recent) >= rl.limit {
		rl.sent[key] = recent
		return false
	}
	rl.sent[key] = append(recent, now)
	return true
}

// RetryAfter — сколько ждать до освобождения слота для key.
func (rl *RateLimiter) RetryAfter(key int64) time.Duration {
	if rl.limit <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recentLocked(key, now)
	if len(recent) < rl.limit {
		return 0
	}
	return recent[0].Add(rl.window).Sub(now)
}

func (rl *RateLimiter) recentLocked(key int64, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	var recent []time.Time
	for _, t := range rl.sent[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key := range rl.sent {
				if recent := rl.recentLocked(key, now); len(recent) == 0 {
					delete(rl.sent, key)
				} else {
					rl.sent[key] = recent
				}
			}
			rl.mu.Unlock()
		}
	}
}
