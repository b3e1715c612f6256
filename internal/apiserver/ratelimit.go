package apiserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL 闲置超过该时长的会话限流器被回收。
const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// sendLimiter 每个会话一个令牌桶: 每分钟 perMin 次, 突发 perMin 次。
type sendLimiter struct {
	mu      sync.Mutex
	perMin  int
	entries map[string]*limiterEntry
	now     func() time.Time
}

func newSendLimiter(perMin int) *sendLimiter {
	if perMin < 1 {
		perMin = 1
	}
	return &sendLimiter{perMin: perMin, entries: make(map[string]*limiterEntry), now: time.Now}
}

// Allow 消耗一个令牌, 不足返回 false。
func (l *sendLimiter) Allow(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweepLocked(now)

	e, ok := l.entries[conversationID]
	if !ok {
		every := rate.Every(time.Minute / time.Duration(l.perMin))
		e = &limiterEntry{lim: rate.NewLimiter(every, l.perMin)}
		l.entries[conversationID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *sendLimiter) sweepLocked(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, id)
		}
	}
}

// Len 当前跟踪的会话数。
func (l *sendLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
