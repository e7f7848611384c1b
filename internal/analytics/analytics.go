// Package analytics bridges the in-process Event Bus to the ClickHouse
// analytics sink (A8): every classified TokenRecord and every accepted
// comment/reaction is appended to a queryable audit table, outside the
// scanner's sliding in-memory window and the KV cache's capped lists.
// Grounded on eventbus.Bridge's same "subscribe to the bus, forward
// elsewhere" shape, adapted from re-publishing on NATS to enqueueing rows
// on a clickhouse.Writer.
package analytics

import (
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/domain"
	"tokenserver/internal/eventbus"
	"tokenserver/internal/reactions"
	"tokenserver/internal/stores/clickhouse"
)

const schemaVersion = 1

// Sink owns the two analytics writers and registers itself on the bus.
type Sink struct {
	log        logger.Logger
	discoveries *clickhouse.Writer[clickhouse.PoolDiscoveryRow]
	engagement  *clickhouse.Writer[clickhouse.EngagementEventRow]
}

func New(log logger.Logger, bus *eventbus.Bus, discoveries *clickhouse.Writer[clickhouse.PoolDiscoveryRow], engagement *clickhouse.Writer[clickhouse.EngagementEventRow]) *Sink {
	s := &Sink{log: log, discoveries: discoveries, engagement: engagement}
	bus.On(domain.TopicNewTokenCreated, s.handleNewToken)
	bus.On(domain.TopicCommentCreated, s.handleCommentCreated)
	bus.On(domain.TopicEmojiReacted, s.handleEmojiReacted)
	return s
}

func (s *Sink) handleNewToken(event domain.Event) {
	record, ok := event.Payload.(domain.TokenRecord)
	if !ok {
		return // launchpad.LaunchpadToken payloads belong to the feed handler, not the scanner audit trail
	}

	row := clickhouse.PoolDiscoveryRow{
		EventTime:      time.Now(),
		PoolID:         string(record.PoolId),
		AppType:        string(record.AppType),
		CoinType:       string(record.CoinType),
		TokenAddress:   record.TokenAddress,
		TokenSymbol:    record.TokenSymbol,
		HumanPrice:     record.HumanPrice,
		DiscoveryBlock: record.DiscoveryBlock,
		SchemaVersion:  schemaVersion,
	}
	if err := s.discoveries.Enqueue(row); err != nil {
		s.log.Errorf("analytics sink: enqueue pool discovery for %s: %v", record.TokenAddress, err)
	}
}

func (s *Sink) handleCommentCreated(event domain.Event) {
	comment, ok := event.Payload.(domain.Comment)
	if !ok {
		return
	}

	row := clickhouse.EngagementEventRow{
		EventTime:     comment.CreatedAt,
		EventType:     "comment",
		TokenAddress:  comment.TokenAddress,
		WalletAddress: comment.WalletAddress,
		Detail:        comment.Content,
		SchemaVersion: schemaVersion,
	}
	if err := s.engagement.Enqueue(row); err != nil {
		s.log.Errorf("analytics sink: enqueue comment engagement for %s: %v", comment.TokenAddress, err)
	}
}

func (s *Sink) handleEmojiReacted(event domain.Event) {
	req, ok := event.Payload.(reactions.ReactionRequest)
	if !ok {
		return
	}

	row := clickhouse.EngagementEventRow{
		EventTime:     event.Timestamp,
		EventType:     "reaction",
		TokenAddress:  req.TokenAddress,
		WalletAddress: "",
		Detail:        fmt.Sprintf("%s:%d", req.Kind, req.Increment),
		SchemaVersion: schemaVersion,
	}
	if err := s.engagement.Enqueue(row); err != nil {
		s.log.Errorf("analytics sink: enqueue reaction engagement for %s: %v", req.TokenAddress, err)
	}
}
