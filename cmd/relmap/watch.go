package main

import (
	"context"
	"fmt"
	"strings"

	"relmap/internal/infrastructure/cache"
	"relmap/pkg/logger"
)

func (a *app) invalidator(ctx context.Context) (*cache.Invalidator, error) {
	if _, err := a.connect(ctx); err != nil {
		return nil, err
	}
	return cache.NewInvalidator(a.pool.Pool, a.cfg.Metadata.InvalidationChannel, a.cache), nil
}

// watch blocks until interrupted.
func (a *app) watch(ctx context.Context) error {
	inv, err := a.invalidator(ctx)
	if err != nil {
		return err
	}
	inv.OnInvalidate(func(channel, payload string) {
		if a.store == nil {
			return
		}
		if err := a.store.Clear(); err != nil {
			logger.Warn(ctx, "failed to clear metadata cache files", "dir", a.store.Dir(), "error", err)
		}
	})
	if err := inv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	inv.Stop()
	return nil
}

func (a *app) notify(ctx context.Context, args []string) error {
	inv, err := a.invalidator(ctx)
	if err != nil {
		return err
	}
	payload := strings.Join(args, " ")
	if err := inv.Notify(ctx, payload); err != nil {
		return err
	}
	fmt.Printf("notified %s\n", a.cfg.Metadata.InvalidationChannel)
	return nil
}
