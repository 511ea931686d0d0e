package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prudhvinik1/liverelay/internal/hub"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/sirupsen/logrus"
)

const subjectPrefix = "liverelay.changes."

// Publisher republishes every change event to NATS so sibling relay
// instances (and any other interested consumer) observe mutations that were
// delivered through this instance's datastore subscription. Like the cache
// invalidator, it is an ordinary hub subscriber with its own bounded queue.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Logger
}

func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return &Publisher{conn: conn, logger: logger}, nil
}

// Run drains the subscriber queue until it closes or ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, sub *hub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				p.logger.Warn("NATS bridge evicted from hub")
				return
			}
			if err := p.publish(event); err != nil {
				p.logger.Errorf("Failed to bridge %s: %v", event.Type(), err)
			}
		}
	}
}

func (p *Publisher) publish(event *models.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(Subject(event), data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Bridged %s for %s", event.Type(), event.EntityID)
	return nil
}

// Subject derives the NATS subject for an event, one per entity kind.
func Subject(event *models.ChangeEvent) string {
	return subjectPrefix + string(event.EntityKind)
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
