package routers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter bounds the number of concurrent calls to Do.
type Limiter struct {
	limit chan struct{}
}

func NewLimiter(maxConcurrency int) Limiter {
	serializer := make(chan struct{}, maxConcurrency)
	return Limiter{
		limit: serializer,
	}
}

func (c *Limiter) Do(ctx context.Context, f func()) (canceled bool) {
	select {
	case c.limit <- struct{}{}:
		defer func() {
			<-c.limit
		}()
		f()
		canceled = false
	case <-ctx.Done():
		canceled = true
	}
	return
}

func (c *Limiter) active() int {
	return len(c.limit)
}

// clientLimiter throttles one client address.
type clientLimiter struct {
	requests   *rate.Limiter
	syncs      Limiter
	lastAccess time.Time
}

// ClientLimiters hands out a request token bucket and a concurrent sync limit per client
// address.
type ClientLimiters struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rps      rate.Limit
	burst    int
	maxSyncs int
}

func NewClientLimiters(rps float64, burst int, maxSyncs int) *ClientLimiters {
	if burst < 1 {
		burst = 1
	}
	if maxSyncs < 1 {
		maxSyncs = 1
	}
	return &ClientLimiters{
		clients:  map[string]*clientLimiter{},
		rps:      rate.Limit(rps),
		burst:    burst,
		maxSyncs: maxSyncs,
	}
}

func (l *ClientLimiters) get(key string) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{
			requests: rate.NewLimiter(l.rps, l.burst),
			syncs:    NewLimiter(l.maxSyncs),
		}
		l.clients[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl
}

// Allow takes a request token of the client.
func (l *ClientLimiters) Allow(key string) bool {
	return l.get(key).requests.Allow()
}

// DoSync runs f once the client has fewer than maxSyncs syncs in flight.
func (l *ClientLimiters) DoSync(ctx context.Context, key string, f func()) (canceled bool) {
	cl := l.get(key)
	return cl.syncs.Do(ctx, f)
}

// Cleanup forgets clients idle for longer than idle.
func (l *ClientLimiters) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	threshold := time.Now().Add(-idle)
	removed := 0
	for key, cl := range l.clients {
		if cl.lastAccess.Before(threshold) && cl.syncs.active() == 0 {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}
