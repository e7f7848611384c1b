package eventbus

import (
	"context"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/domain"
	"tokenserver/internal/pubsub"
)

// Bridge subscribes to every topic on the in-process Bus and republishes
// each event on a pubsub.Broadcaster (NATS), giving the bus cross-instance
// fan-out without every engine needing to know about NATS directly.
type Bridge struct {
	broadcaster pubsub.Broadcaster
	log         logger.Logger
}

func NewBridge(bus *Bus, broadcaster pubsub.Broadcaster, log logger.Logger) *Bridge {
	b := &Bridge{broadcaster: broadcaster, log: log}
	bus.On("*", b.forward)
	bus.On("*.*", b.forward)
	bus.On("*.*.*", b.forward)
	bus.On("*.*.*.*", b.forward)
	return b
}

func (b *Bridge) forward(event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.broadcaster.Publish(ctx, event.Topic, event); err != nil {
		b.log.Errorf("event bus bridge: publish %s to nats: %v", event.Topic, err)
	}
}
