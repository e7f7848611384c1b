// Package comments implements the Comment Engine (C11): synchronous
// validation and stub creation, with persistence and cache-fill pushed to
// an asynchronous event handler dispatched off the event bus's per-topic
// worker pool (internal/eventbus). Grounded on the teacher's split between
// a fast request path and a background-persisted side effect.
package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/apperr"
	"tokenserver/internal/domain"
	"tokenserver/internal/kv"
)

const (
	maxContentLength = 500
	cacheListCap     = 50
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// UserResolver is the subset of the postgres repository needed here.
type UserResolver interface {
	GetOrCreateUserByWallet(ctx context.Context, wallet string) (int64, error)
}

// Store is the subset of the postgres repository needed for persistence.
type Store interface {
	InsertComment(ctx context.Context, c domain.Comment) error
	LatestComments(ctx context.Context, tokenAddress string, limit int) ([]domain.Comment, error)
	PruneComments(ctx context.Context, tokenAddress string, keep int) error
}

// Publisher is the Event Bus's emit side.
type Publisher interface {
	Emit(topic string, event domain.Event)
}

func listKey(tokenAddress string) string {
	return fmt.Sprintf("comments:%s:list", domain.LowerAddress(tokenAddress))
}

func channelName(tokenAddress string) string {
	return fmt.Sprintf("comments:%s", domain.LowerAddress(tokenAddress))
}

type Engine struct {
	log       logger.Logger
	users     UserResolver
	store     Store
	kv        *kv.Gateway
	publisher Publisher
}

func New(log logger.Logger, users UserResolver, store Store, kvGateway *kv.Gateway, publisher Publisher) *Engine {
	return &Engine{log: log, users: users, store: store, kv: kvGateway, publisher: publisher}
}

// HandleCommentCreated is the async persistence path; wire it onto the
// Event Bus with bus.On(domain.TopicCommentCreated, engine.HandleCommentCreated).

// Create validates synchronously, publishes comment.created, and returns a
// Processing stub. Persistence runs on HandleCommentCreated, dispatched
// asynchronously by the event bus, so the caller never blocks on it.
func (e *Engine) Create(ctx context.Context, tokenAddress, walletAddress, content string) (domain.Comment, error) {
	wallet := domain.LowerAddress(walletAddress)
	token := domain.LowerAddress(tokenAddress)

	if !walletPattern.MatchString(wallet) {
		return domain.Comment{}, apperr.Validation("walletAddress must match ^0x[0-9a-fA-F]{40}$")
	}
	if len(content) < 1 || len(content) > maxContentLength {
		return domain.Comment{}, apperr.Validationf("content length must be between 1 and %d", maxContentLength)
	}

	userID, err := e.users.GetOrCreateUserByWallet(ctx, wallet)
	if err != nil {
		return domain.Comment{}, err
	}

	comment := domain.Comment{
		ID:            generateID("comment"),
		TokenAddress:  token,
		UserID:        userID,
		WalletAddress: wallet,
		Content:       content,
		CreatedAt:     time.Now(),
		Status:        domain.CommentProcessing,
	}

	e.publisher.Emit(domain.TopicCommentCreated, domain.Event{
		Topic:       domain.TopicCommentCreated,
		AggregateID: token,
		Timestamp:   comment.CreatedAt,
		Payload:     comment,
	})

	return comment, nil
}

// HandleCommentCreated is the async persistence path: persist the comment,
// push it onto the cached list, publish the delta, and prune old rows.
func (e *Engine) HandleCommentCreated(event domain.Event) {
	comment, ok := event.Payload.(domain.Comment)
	if !ok {
		e.log.Errorf("comment engine: unexpected payload type on %s", event.Topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	comment.Status = domain.CommentPersisted
	if err := e.store.InsertComment(ctx, comment); err != nil {
		e.log.Errorf("comment engine: persist comment %s: %v", comment.ID, err)
		return
	}

	if err := e.kv.LPushLTrim(ctx, listKey(comment.TokenAddress), comment, cacheListCap); err != nil {
		e.log.Errorf("comment engine: cache comment %s: %v", comment.ID, err)
	}

	if err := e.kv.Publish(ctx, channelName(comment.TokenAddress), newCommentPayload(comment)); err != nil {
		e.log.Errorf("comment engine: publish comment %s: %v", comment.ID, err)
	}

	if err := e.store.PruneComments(ctx, comment.TokenAddress, cacheListCap); err != nil {
		e.log.Errorf("comment engine: prune comments for %s: %v", comment.TokenAddress, err)
	}
}

func newCommentPayload(c domain.Comment) map[string]any {
	return map[string]any{"type": "newComment", "comment": c}
}

// Latest returns up to limit comments, trying the cache first and falling
// back to the database, warming the cache on a miss.
func (e *Engine) Latest(ctx context.Context, tokenAddress string, limit int) ([]domain.Comment, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	token := domain.LowerAddress(tokenAddress)

	cached, err := e.kv.LRange(ctx, listKey(token), 0, int64(limit-1))
	if err == nil && len(cached) > 0 {
		return decodeComments(cached)
	}

	rows, err := e.store.LatestComments(ctx, token, limit)
	if err != nil {
		return nil, err
	}

	e.warmCache(ctx, token, rows)
	return rows, nil
}

// warmCache pushes rows back onto the list in reverse (oldest first, so the
// final lpush sequence leaves the newest at the head) and trims to cap.
func (e *Engine) warmCache(ctx context.Context, token string, rows []domain.Comment) {
	for i := len(rows) - 1; i >= 0; i-- {
		if err := e.kv.LPush(ctx, listKey(token), rows[i]); err != nil {
			e.log.Errorf("comment engine: warm cache for %s: %v", token, err)
			return
		}
	}
	if err := e.kv.LTrim(ctx, listKey(token), 0, cacheListCap-1); err != nil {
		e.log.Errorf("comment engine: trim warmed cache for %s: %v", token, err)
	}
}

func decodeComments(raw []string) ([]domain.Comment, error) {
	out := make([]domain.Comment, 0, len(raw))
	for _, r := range raw {
		var c domain.Comment
		if err := json.Unmarshal([]byte(r), &c); err != nil {
			return nil, apperr.Invariant(fmt.Sprintf("decode cached comment: %v", err))
		}
		out = append(out, c)
	}
	return out, nil
}

// generateID follows spec.md §4.11's comment_<epoch_ms>_<random> shape; the
// random component is a uuid rather than a short hex suffix so it stays
// collision-free across concurrent requests within the same millisecond.
func generateID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString())
}
