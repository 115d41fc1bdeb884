package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"relmap/pkg/logger"
)

// DefaultChannel is the NOTIFY channel announcing schema changes.
const DefaultChannel = "relmap_schema_changed"

// Resetter drops memoized state (metadata.Cache).
type Resetter interface {
	Reset()
}

// InvalidationListener is called after the targets were reset.
type InvalidationListener func(channel string, payload string)

// Invalidator resets metadata caches when another process announces a
// schema change through PostgreSQL NOTIFY.
type Invalidator struct {
	pool    *pgxpool.Pool
	channel string
	targets []Resetter

	listeners   []InvalidationListener
	listenersMu sync.RWMutex

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewInvalidator creates an invalidator for channel (DefaultChannel if empty).
func NewInvalidator(pool *pgxpool.Pool, channel string, targets ...Resetter) *Invalidator {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Invalidator{
		pool:    pool,
		channel: channel,
		targets: targets,
		ctx:     context.Background(),
	}
}

// OnInvalidate registers a listener.
func (i *Invalidator) OnInvalidate(l InvalidationListener) {
	i.listenersMu.Lock()
	i.listeners = append(i.listeners, l)
	i.listenersMu.Unlock()
}

// Start begins listening in a background goroutine.
func (i *Invalidator) Start(ctx context.Context) error {
	if i.pool == nil {
		return fmt.Errorf("invalidator requires a connection pool")
	}

	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()
	if i.started {
		return nil
	}
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.started = true

	i.wg.Add(1)
	go i.listenLoop()
	logger.Info(i.ctx, "metadata invalidator started", "channel", i.channel)
	return nil
}

// Stop cancels the listener and waits for it to exit.
func (i *Invalidator) Stop() {
	i.lifecycleMu.Lock()
	if !i.started {
		i.lifecycleMu.Unlock()
		return
	}
	cancel := i.cancel
	i.started = false
	i.cancel = nil
	i.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	i.wg.Wait()
	logger.Info(context.Background(), "metadata invalidator stopped")
}

// Notify announces a schema change to every listening process.
func (i *Invalidator) Notify(ctx context.Context, payload string) error {
	if _, err := i.pool.Exec(ctx, "SELECT pg_notify($1, $2)", i.channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", i.channel, err)
	}
	return nil
}

func (i *Invalidator) listenLoop() {
	defer i.wg.Done()

	for {
		select {
		case <-i.ctx.Done():
			return
		default:
		}

		conn, err := i.pool.Acquire(i.ctx)
		if err != nil {
			logger.Error(i.ctx, "failed to acquire connection for LISTEN", "error", err)
			time.Sleep(time.Second)
			continue
		}

		// Channel names cannot be bound; quote them as identifiers.
		ident := fmt.Sprintf("%q", i.channel)
		if _, err := conn.Exec(i.ctx, "LISTEN "+ident); err != nil {
			logger.Error(i.ctx, "failed to LISTEN", "channel", i.channel, "error", err)
			conn.Release()
			time.Sleep(time.Second)
			continue
		}

		i.waitForNotifications(conn)
		conn.Release()
	}
}

func (i *Invalidator) waitForNotifications(conn *pgxpool.Conn) {
	for {
		select {
		case <-i.ctx.Done():
			return
		default:
		}

		// Bounded wait so shutdown is noticed.
		ctx, cancel := context.WithTimeout(i.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if i.ctx.Err() != nil {
				return
			}
			if !timedOut {
				// Connection failure; reacquire.
				logger.Warn(i.ctx, "notification wait failed", "error", err)
				return
			}
			continue
		}

		i.handleNotification(n.Channel, n.Payload)
	}
}

// handleNotification resets every target, then runs the listeners.
// A panicking listener is logged and skipped.
func (i *Invalidator) handleNotification(channel, payload string) {
	for _, t := range i.targets {
		t.Reset()
	}
	logger.Info(i.ctx, "foreign key metadata invalidated", "channel", channel, "payload", payload)

	i.listenersMu.RLock()
	defer i.listenersMu.RUnlock()
	for _, listener := range i.listeners {
		func(l InvalidationListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(i.ctx, "listener panic recovered", "channel", channel, "panic", r)
				}
			}()
			l(channel, payload)
		}(listener)
	}
}
