// Package signalbus issues in-process notifications that named events have occurred.
// The API server uses it to wake long-polling gateway syncs when commands are queued.
package signalbus

import (
	"context"
	"sync"
	"time"
)

type SignalBus interface {
	// Notify will notify all the subscriptions created for the given named signal.
	Notify(name string)
	// NotifyAll will notify all the subscriptions
	NotifyAll()
	// Subscribe creates a subscription the named signal
	Subscribe(name string) *Subscription
}

var _ SignalBus = &signalBus{}

type signalBus struct {
	sync.RWMutex
	signals map[string][]*Subscription
}

// NewSignalBus creates a new in memory SignalBus
func NewSignalBus() SignalBus {
	return &signalBus{
		signals: make(map[string][]*Subscription),
	}
}

func (sb *signalBus) Notify(name string) {
	sb.RLock()
	subs := append([]*Subscription(nil), sb.signals[name]...)
	sb.RUnlock()
	signal(subs)
}

func (sb *signalBus) NotifyAll() {
	var subs []*Subscription
	sb.RLock()
	for _, s := range sb.signals {
		subs = append(subs, s...)
	}
	sb.RUnlock()
	signal(subs)
}

// signal never blocks, a subscription holds at most one pending signal.
func signal(subs []*Subscription) {
	for _, sub := range subs {
		select {
		case sub.c <- struct{}{}:
		default:
		}
	}
}

func (sb *signalBus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		sb:   sb,
		name: name,
		c:    make(chan struct{}, 1),
	}

	sb.Lock()
	sb.signals[name] = append(sb.signals[name], sub)
	sb.Unlock()
	return sub
}

func (sb *signalBus) close(sub *Subscription) {
	sb.Lock()
	defer sb.Unlock()
	subs := sb.signals[sub.name]
	for i, s := range subs {
		if s != sub {
			continue
		}
		last := len(subs) - 1
		if last == 0 {
			delete(sb.signals, sub.name)
			return
		}
		subs[i] = subs[last]
		sb.signals[sub.name] = subs[:last]
		return
	}
}

type Subscription struct {
	sb        *signalBus
	name      string
	closeOnce sync.Once
	c         chan struct{}
}

// Signal returns a channel that receives a message when the subscription is notified.
func (sub *Subscription) Signal() <-chan struct{} {
	return sub.c
}

// IsSignaled checks to see if the subscription has been notified.
func (sub *Subscription) IsSignaled() bool {
	select {
	case <-sub.c:
		return true
	default:
		return false
	}
}

// Wait blocks until the subscription is notified, the timeout elapses or ctx is done.
// It reports whether a signal was received.
func (sub *Subscription) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sub.c:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close is used to close out the subscription.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.sb.close(sub)
	})
}
