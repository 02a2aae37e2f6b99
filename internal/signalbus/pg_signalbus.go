package signalbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hercules-io/hercules/internal/util"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pgChannel = "hercules_signals"

var _ SignalBus = &PgSignalBus{}

// PgSignalBus is a SignalBus clustered with postgresql LISTEN/NOTIFY, so that a signal
// raised on one apiserver replica reaches subscriptions on all of them.
type PgSignalBus struct {
	db         *gorm.DB
	local      SignalBus
	connectDSN string
	logger     *zap.SugaredLogger
}

func NewPgSignalBus(local SignalBus, db *gorm.DB, connectDSN string, logger *zap.SugaredLogger) *PgSignalBus {
	return &PgSignalBus{
		db:         db,
		connectDSN: connectDSN,
		local:      local,
		logger:     logger,
	}
}

// Notify sends the signal through the database; it comes back to every listening
// process, this one included.
func (pgsb *PgSignalBus) Notify(name string) {
	if err := pgsb.db.Exec("SELECT pg_notify(?, ?)", pgChannel, name).Error; err != nil {
		pgsb.logger.Warnw("pg_notify failed, signaling locally", "signal", name, "error", err)
		pgsb.local.Notify(name)
	}
}

func (pgsb *PgSignalBus) NotifyAll() {
	pgsb.Notify("*")
}

// Subscribe subscribes on the local bus.
func (pgsb *PgSignalBus) Subscribe(name string) *Subscription {
	return pgsb.local.Subscribe(name)
}

// Start listens for notifications until ctx is done.
func (pgsb *PgSignalBus) Start(ctx context.Context, wg *sync.WaitGroup) {
	util.GoWithWaitGroup(wg, func() {
		listener := pq.NewListener(pgsb.connectDSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				pgsb.logger.Warnw("pq listener error", "error", err)
			}
			if ev == pq.ListenerEventReconnected {
				// signals may have been lost while disconnected
				pgsb.local.NotifyAll()
			}
		})
		defer util.IgnoreError(listener.Close)

		if err := listener.Listen(pgChannel); err != nil {
			pgsb.logger.Errorw("error listening to signals", "error", err)
			return
		}
		for {
			exit, err := pgsb.dispatch(ctx, listener)
			if err != nil {
				pgsb.logger.Warnw("error waiting for signal", "error", err)
				time.Sleep(time.Second)
			}
			if exit {
				return
			}
		}
	})
}

func (pgsb *PgSignalBus) dispatch(ctx context.Context, l *pq.Listener) (exit bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case n := <-l.Notify:
			if n == nil {
				return false, fmt.Errorf("postgres listener channel closed")
			}
			if n.Extra == "*" {
				pgsb.local.NotifyAll()
			} else {
				pgsb.local.Notify(n.Extra)
			}
			return false, nil
		case <-time.After(90 * time.Second):
			if err := l.Ping(); err != nil {
				return false, err
			}
		}
	}
}
