// Package guard is the ingress guard: per-origin and per-identity
// connection caps plus a two-window rate limiter for bid submissions.
// All state is process-local and owned by one Guard behind one mutex.
package guard

import (
	"fmt"
	"sync"
	"time"
)

// Default limits.
const (
	DefaultMaxPerIP   = 3
	DefaultMaxPerUser = 3
	MaxPerSecond      = 3
	MaxPer10Seconds   = 6
)

// CapExceededError reports which connection cap was hit.
type CapExceededError struct {
	By    string // "ip" or "user"
	Limit int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("too many connections by %s (limit %d)", e.By, e.Limit)
}

// RateLimitError reports a bid submission rate breach. The connection
// stays open; only the operation is refused.
type RateLimitError struct {
	PerSec int
	Per10s int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%d/s, %d/10s)", e.PerSec, e.Per10s)
}

type window struct {
	n     int
	reset time.Time
}

// Guard owns the admission-control counters. Construct once per process
// and hand the same instance to every connection handler.
type Guard struct {
	mu sync.Mutex

	maxPerIP   int
	maxPerUser int

	ipConns   map[string]map[string]struct{}
	userConns map[int64]map[string]struct{}

	win1  map[string]*window
	win10 map[string]*window

	now func() time.Time
}

// New creates a guard with the given connection caps.
func New(maxPerIP, maxPerUser int) *Guard {
	if maxPerIP <= 0 {
		maxPerIP = DefaultMaxPerIP
	}
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	return &Guard{
		maxPerIP:   maxPerIP,
		maxPerUser: maxPerUser,
		ipConns:    make(map[string]map[string]struct{}),
		userConns:  make(map[int64]map[string]struct{}),
		win1:       make(map[string]*window),
		win10:      make(map[string]*window),
		now:        time.Now,
	}
}

// Register admits a new connection or returns a CapExceededError. A
// rejected connection is not registered, so it needs no Unregister.
// userID 0 means anonymous.
func (g *Guard) Register(connID, ip string, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.ipConns[ip]) >= g.maxPerIP {
		return &CapExceededError{By: "ip", Limit: g.maxPerIP}
	}
	if userID > 0 && len(g.userConns[userID]) >= g.maxPerUser {
		return &CapExceededError{By: "user", Limit: g.maxPerUser}
	}

	if g.ipConns[ip] == nil {
		g.ipConns[ip] = make(map[string]struct{})
	}
	g.ipConns[ip][connID] = struct{}{}

	if userID > 0 {
		if g.userConns[userID] == nil {
			g.userConns[userID] = make(map[string]struct{})
		}
		g.userConns[userID][connID] = struct{}{}
	}
	return nil
}

// Unregister removes a connection from both counters. Counters never go
// negative and empty sets are deleted, so a key's count reaches zero once
// its last session closes.
func (g *Guard) Unregister(connID, ip string, userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, ok := g.ipConns[ip]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.ipConns, ip)
		}
	}
	if userID > 0 {
		if set, ok := g.userConns[userID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(g.userConns, userID)
			}
		}
	}
}

// ConnCounts returns the current counts for an origin and identity.
func (g *Guard) ConnCounts(ip string, userID int64) (byIP, byUser int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ipConns[ip]), len(g.userConns[userID])
}

// AllowBid checks the submission rate for the identity (preferred) or
// origin. Both windows are bumped on every attempt; a window lazily
// resets once its deadline has passed.
func (g *Guard) AllowBid(userID int64, ip string) error {
	key := bucketKey(userID, ip)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	a := g.bump(g.win1, key, now, time.Second)
	b := g.bump(g.win10, key, now, 10*time.Second)

	if a.n > MaxPerSecond || b.n > MaxPer10Seconds {
		return &RateLimitError{PerSec: MaxPerSecond, Per10s: MaxPer10Seconds}
	}
	return nil
}

func (g *Guard) bump(windows map[string]*window, key string, now time.Time, span time.Duration) *window {
	w := windows[key]
	if w == nil || !w.reset.After(now) {
		w = &window{reset: now.Add(span)}
		windows[key] = w
	}
	w.n++
	return w
}

func bucketKey(userID int64, ip string) string {
	if userID > 0 {
		return fmt.Sprintf("u:%d", userID)
	}
	return "ip:" + ip
}
