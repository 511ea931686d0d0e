package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Adapter maintains a dedicated LISTEN subscription to the configured
// notification channels and decodes raw payloads into change events.
// Connection loss is never fatal: the adapter reconnects with capped
// exponential backoff and keeps going until the context is cancelled.
type Adapter struct {
	databaseURL string
	channels    []string
	logger      *logrus.Logger
}

func New(databaseURL string, channels []string, logger *logrus.Logger) *Adapter {
	return &Adapter{
		databaseURL: databaseURL,
		channels:    channels,
		logger:      logger,
	}
}

// Run blocks, invoking publish for every decoded event, until ctx is
// cancelled. Events that arrive while the connection is down are lost; after
// each successful reconnect the adapter publishes one synthetic resync hint
// per entity kind so connected clients refetch instead of trusting stale
// caches.
func (a *Adapter) Run(ctx context.Context, publish func(*models.ChangeEvent)) error {
	backoff := backoffBase
	recovering := false

	for {
		conn, err := a.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Errorf("Notification subscription failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffCap)
			continue
		}
		backoff = backoffBase

		a.logger.Infof("Subscribed to notification channels %v", a.channels)

		if recovering {
			now := time.Now()
			publish(models.NewResyncEvent(models.KindPrimary, now))
			publish(models.NewResyncEvent(models.KindDependent, now))
		}

		err = a.consume(ctx, conn, publish)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return nil
		}

		a.logger.Warnf("Notification subscription lost: %v", err)
		recovering = true
	}
}

// subscribe opens a dedicated connection and issues LISTEN for each channel.
// The connection must not come from a pool: LISTEN is bound to the session.
func (a *Adapter) subscribe(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, a.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for notifications: %w", err)
	}

	for _, channel := range a.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Close(context.Background())
			return nil, fmt.Errorf("failed to listen on %q: %w", channel, err)
		}
	}

	return conn, nil
}

// consume blocks on the notification stream until the connection errors or
// ctx is cancelled. A payload that fails to decode is dropped and logged;
// the subscription continues.
func (a *Adapter) consume(ctx context.Context, conn *pgx.Conn, publish func(*models.ChangeEvent)) error {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		event, err := models.DecodeNotification(notification.Payload)
		if err != nil {
			a.logger.Warnf("Dropping malformed notification on %q: %v", notification.Channel, err)
			continue
		}

		a.logger.Debugf("Decoded %s for %s %s", event.Type(), event.EntityKind, event.EntityID)
		publish(event)
	}
}
