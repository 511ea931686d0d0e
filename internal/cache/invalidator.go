package cache

import (
	"context"
	"fmt"

	"github.com/prudhvinik1/liverelay/internal/hub"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	eventKeyPrefix       = "event:"
	eventListKey         = "events:list"
	participantKeyPrefix = "participant:"
	participantsByParent = "participants:"
)

// Invalidator is a hub subscriber that keeps the server-side Redis cache
// honest: every change event deletes the cached representations the CRUD
// layer may have stored for the affected entities. It runs on its own queue,
// so a slow Redis can at worst get this subscriber evicted, never stall
// fan-out to clients.
type Invalidator struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewInvalidator(client *redis.Client, logger *logrus.Logger) *Invalidator {
	return &Invalidator{client: client, logger: logger}
}

// Run drains the subscriber queue until it closes or ctx is cancelled.
func (i *Invalidator) Run(ctx context.Context, sub *hub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				i.logger.Warn("Cache invalidator evicted from hub; cached rows may go stale until TTL")
				return
			}
			if err := i.invalidate(ctx, event); err != nil {
				i.logger.Errorf("Cache invalidation failed for %s: %v", event.Type(), err)
			}
		}
	}
}

func (i *Invalidator) invalidate(ctx context.Context, event *models.ChangeEvent) error {
	keys, patterns := KeysFor(event)

	if len(keys) > 0 {
		if err := i.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	for _, pattern := range patterns {
		if err := i.deleteByPattern(ctx, pattern); err != nil {
			return err
		}
	}

	i.logger.Debugf("Invalidated %d keys, %d patterns for %s", len(keys), len(patterns), event.Type())
	return nil
}

// deleteByPattern walks the keyspace with SCAN so a resync never blocks the
// server the way KEYS would.
func (i *Invalidator) deleteByPattern(ctx context.Context, pattern string) error {
	iter := i.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := i.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan pattern %q: %w", pattern, err)
	}
	return nil
}

// KeysFor maps one change event to the exact cache keys it stales, plus
// patterns for resync hints where the affected ids are unknown.
func KeysFor(event *models.ChangeEvent) (keys []string, patterns []string) {
	if event.Resync {
		switch event.EntityKind {
		case models.KindPrimary:
			return []string{eventListKey}, []string{eventKeyPrefix + "*"}
		default:
			return nil, []string{participantKeyPrefix + "*", participantsByParent + "*"}
		}
	}

	switch event.EntityKind {
	case models.KindPrimary:
		keys = []string{eventListKey, eventKeyPrefix + event.EntityID}
	case models.KindDependent:
		keys = []string{participantKeyPrefix + event.EntityID}
		if event.ParentID != "" {
			keys = append(keys, participantsByParent+event.ParentID)
		}
	}
	return keys, nil
}
