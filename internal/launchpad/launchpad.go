// Package launchpad implements the External Feed Ingestor (C15): a
// websocket subscriber to one upstream launchpad feed, filtering and
// normalizing batches into domain.LaunchpadToken and emitting
// new-token-created on the event bus. Grounded on the reconnect/backoff
// loop shape of internal/stores/clickhouse/writer.go's insertBatch retry
// (exponential, bounded, logged through alerting) and on gorilla/websocket
// as used elsewhere in the example pack for upstream push feeds.
package launchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/dedupe"
	"tokenserver/internal/domain"
	"tokenserver/internal/kv"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	dedupeTTL      = 86400 * time.Second
	listCap        = 200

	// replayDedupeWindow filters the same address re-announced by the
	// upstream feed across a reconnect replay, so a flapping connection
	// doesn't re-emit a burst of already-seen tokens onto the bus. This is
	// separate from the Handler's HSetNX dedupe below: that one guards
	// cross-instance persistence, this one is a cheap single-instance
	// pre-filter before anything touches Redis.
	replayDedupeWindow = 10 * time.Minute
)

// AllowList filters incoming items by (networkId, protocol).
type AllowList struct {
	NetworkIDs map[string]struct{}
	Protocols  map[string]struct{}
}

func NewAllowList(networkIDs, protocols []string) AllowList {
	al := AllowList{NetworkIDs: make(map[string]struct{}), Protocols: make(map[string]struct{})}
	for _, n := range networkIDs {
		al.NetworkIDs[n] = struct{}{}
	}
	for _, p := range protocols {
		al.Protocols[p] = struct{}{}
	}
	return al
}

func (al AllowList) allows(networkID, protocol string) bool {
	if len(al.NetworkIDs) > 0 {
		if _, ok := al.NetworkIDs[networkID]; !ok {
			return false
		}
	}
	if len(al.Protocols) > 0 {
		if _, ok := al.Protocols[protocol]; !ok {
			return false
		}
	}
	return true
}

// rawItem is the upstream feed's wire shape for one launchpad token.
type rawItem struct {
	Address           string  `json:"address"`
	Name              string  `json:"name"`
	Symbol            string  `json:"symbol"`
	Network           string  `json:"network"`
	Protocol          string  `json:"protocol"`
	NetworkID         string  `json:"networkId"`
	PriceUSD          *string `json:"priceUsd"`
	MarketCap         *string `json:"marketCap"`
	Volume24          *string `json:"volume24"`
	Holders           *int64  `json:"holders"`
	ImageURL          *string `json:"imageUrl"`
	GraduationPercent *string `json:"graduationPercent"`
	LaunchpadProtocol *string `json:"launchpadProtocol"`
}

type batch struct {
	Items []rawItem `json:"items"`
}

// Publisher is the Event Bus's emit side.
type Publisher interface {
	Emit(topic string, event domain.Event)
}

// Dialer abstracts websocket.DefaultDialer for testability.
type Dialer interface {
	Dial(urlStr string, header map[string][]string) (*websocket.Conn, error)
}

type defaultDialer struct{}

func (defaultDialer) Dial(urlStr string, header map[string][]string) (*websocket.Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(urlStr, header)
	return c, err
}

// Ingestor owns the upstream subscription and reconnect policy.
type Ingestor struct {
	log       logger.Logger
	url       string
	apiKey    string
	allowList AllowList
	publisher Publisher
	dialer    Dialer
	replaySeen dedupe.Deduper
}

func New(log logger.Logger, url, apiKey string, allowList AllowList, publisher Publisher) *Ingestor {
	return &Ingestor{
		log:        log,
		url:        url,
		apiKey:     apiKey,
		allowList:  allowList,
		publisher:  publisher,
		dialer:     defaultDialer{},
		replaySeen: dedupe.NewInMemoryDedupe(log, replayDedupeWindow, replayDedupeWindow),
	}
}

// Run blocks until ctx is cancelled, reconnecting with exponential backoff
// on every upstream failure. All state is recoverable from the next batch,
// so a dropped connection never needs a resume cursor.
func (in *Ingestor) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := in.runOnce(ctx); err != nil {
			in.log.Errorf("launchpad ingestor: %v, reconnecting in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
	}
}

func (in *Ingestor) runOnce(ctx context.Context) error {
	header := map[string][]string{}
	if in.apiKey != "" {
		header["Authorization"] = []string{"Bearer " + in.apiKey}
	}

	conn, err := in.dialer.Dial(in.url, header)
	if err != nil {
		return fmt.Errorf("dial upstream feed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(done)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read upstream feed: %w", err)
		}

		var b batch
		if err := json.Unmarshal(msg, &b); err != nil {
			in.log.Warnf("launchpad ingestor: malformed batch: %v", err)
			continue
		}
		in.processBatch(ctx, b)

		select {
		case <-done:
			return nil
		default:
		}
	}
}

func (in *Ingestor) processBatch(ctx context.Context, b batch) {
	now := time.Now()
	for _, item := range b.Items {
		if !in.allowList.allows(item.NetworkID, item.Protocol) {
			continue
		}

		addr := domain.LowerAddress(item.Address)
		if seen, err := in.replaySeen.Seen(ctx, addr); err != nil {
			in.log.Warnf("launchpad ingestor: replay dedupe check for %s: %v", addr, err)
		} else if seen {
			continue
		}

		token := domain.LaunchpadToken{
			Address:           addr,
			Name:              item.Name,
			Symbol:            item.Symbol,
			Network:           item.Network,
			Protocol:          item.Protocol,
			NetworkID:         item.NetworkID,
			CreatedAt:         now,
			PriceUSD:          item.PriceUSD,
			MarketCap:         item.MarketCap,
			Volume24:          item.Volume24,
			Holders:           item.Holders,
			ImageURL:          item.ImageURL,
			GraduationPercent: item.GraduationPercent,
			LaunchpadProtocol: item.LaunchpadProtocol,
			Timestamp:         now,
		}

		in.publisher.Emit(domain.TopicNewTokenCreated, domain.Event{
			Topic:       domain.TopicNewTokenCreated,
			AggregateID: token.Address,
			Timestamp:   now,
			Payload:     token,
		})
	}
}

// Handler is the async dedupe/persist/publish side of new-token-created,
// wired separately from Ingestor so it does not depend on the websocket
// client. It handles only LaunchpadToken payloads; the TokenRecord events
// the token repository emits on the same topic are ignored.
type Handler struct {
	log logger.Logger
	kv  *kv.Gateway
}

func NewHandler(log logger.Logger, kvGateway *kv.Gateway) *Handler {
	return &Handler{log: log, kv: kvGateway}
}

const (
	eventsKey = "new-tokens:events"
	listKey   = "new-tokens:list"
	updatesCh = "new-tokens:updates"
)

// HandleNewTokenCreated dedupes a launchpad token by address before
// pushing it onto the bounded feed list and publishing the delta.
func (h *Handler) HandleNewTokenCreated(event domain.Event) {
	token, ok := event.Payload.(domain.LaunchpadToken)
	if !ok {
		return // pool-discovery TokenRecord payloads are not launchpad feed items
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isNew, err := h.kv.HSetNX(ctx, eventsKey, token.Address, token.Timestamp.Unix())
	if err != nil {
		h.log.Errorf("launchpad handler: dedupe check for %s: %v", token.Address, err)
		return
	}
	if !isNew {
		return
	}
	if err := h.kv.Expire(ctx, eventsKey, dedupeTTL); err != nil {
		h.log.Errorf("launchpad handler: refresh dedupe ttl: %v", err)
	}

	if err := h.kv.LPushLTrim(ctx, listKey, token, listCap); err != nil {
		h.log.Errorf("launchpad handler: push feed list for %s: %v", token.Address, err)
	}

	if err := h.kv.Publish(ctx, updatesCh, token); err != nil {
		h.log.Errorf("launchpad handler: publish update for %s: %v", token.Address, err)
	}
}

// Latest returns up to limit entries from the head of the cached feed list.
func (h *Handler) Latest(ctx context.Context, limit int) ([]domain.LaunchpadToken, error) {
	tokens, _, err := h.Page(ctx, 0, limit)
	return tokens, err
}

// Page returns a slice of the cached feed list starting at offset, along
// with the list's total length.
func (h *Handler) Page(ctx context.Context, offset, limit int) ([]domain.LaunchpadToken, int64, error) {
	total, err := h.kv.LLen(ctx, listKey)
	if err != nil {
		return nil, 0, err
	}

	raw, err := h.kv.LRange(ctx, listKey, int64(offset), int64(offset+limit-1))
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.LaunchpadToken, 0, len(raw))
	for _, r := range raw {
		var t domain.LaunchpadToken
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, total, nil
}
