// Package cache keeps the in-process rate catalog coherent with master-data writes
// made by other processes, using PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"costengine/pkg/logger"
)

// CatalogChannel is notified by a trigger on cost_elements.
const CatalogChannel = "cost_elements_changed"

// Invalidator drops a cached snapshot.
type Invalidator interface {
	Invalidate()
}

// CatalogListener invalidates the rate catalog whenever cost elements change.
type CatalogListener struct {
	pool   *pgxpool.Pool
	target Invalidator

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewCatalogListener creates a listener.
func NewCatalogListener(pool *pgxpool.Pool, target Invalidator) *CatalogListener {
	return &CatalogListener{pool: pool, target: target}
}

// Start begins listening in the background.
func (l *CatalogListener) Start(ctx context.Context) {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop(ctx)
	logger.Info(ctx, "catalog listener started", "channel", CatalogChannel)
}

// Stop ends listening and waits for the loop to exit.
func (l *CatalogListener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	cancel()
	l.wg.Wait()
	logger.Info(context.Background(), "catalog listener stopped")
}

func (l *CatalogListener) listenLoop(ctx context.Context) {
	defer l.wg.Done()

	for ctx.Err() == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			logger.Error(ctx, "acquire connection for LISTEN failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+CatalogChannel); err != nil {
			logger.Error(ctx, "LISTEN failed", "error", err)
			conn.Release()
			sleep(ctx, time.Second)
			continue
		}

		// Changes made while the connection was down are not replayed.
		l.target.Invalidate()
		l.wait(ctx, conn)
		conn.Release()
	}
}

func (l *CatalogListener) wait(ctx context.Context, conn *pgxpool.Conn) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			logger.Warn(ctx, "catalog listener connection lost", "error", err)
			return
		}

		logger.Debug(ctx, "catalog change notified", "operation", n.Payload)
		l.target.Invalidate()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
