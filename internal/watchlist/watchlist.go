// Package watchlist implements the Watchlist Engine (C13): the persistent
// store is the source of truth, the KV set is an advisory membership
// cache. Grounded on the "DB insert precedes cache update" ordering
// spec.md §5 mandates, the same defensive-write-order idiom the teacher
// applies in internal/stores/clickhouse/writer.go (buffer flushed before
// acking the batch).
package watchlist

import (
	"context"
	"fmt"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/apperr"
	"tokenserver/internal/domain"
	"tokenserver/internal/kv"
)

const (
	maxTokensPerRequest = 50
	defaultPage         = 1
	defaultLimit        = 20
	maxLimit            = 100
)

func setKey(wallet string) string {
	return fmt.Sprintf("watchlist:%s", domain.LowerAddress(wallet))
}

// UserResolver is the subset of the postgres repository needed here.
type UserResolver interface {
	GetOrCreateUserByWallet(ctx context.Context, wallet string) (int64, error)
	FindUserByWallet(ctx context.Context, wallet string) (int64, bool, error)
}

// Store is the subset of the postgres repository needed for persistence.
type Store interface {
	ExistingWatchlistTokens(ctx context.Context, userID int64, tokens []string) (map[string]struct{}, error)
	InsertWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error)
	DeleteWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error)
	ListWatchlist(ctx context.Context, userID int64, limit, offset int) ([]domain.WatchlistEntry, int, error)
	CountWatchlist(ctx context.Context, userID int64) (int64, error)
	ContainsWatchlist(ctx context.Context, userID int64, token string) (bool, error)
}

// Publisher is the Event Bus's emit side.
type Publisher interface {
	Emit(topic string, event domain.Event)
}

type Page struct {
	Data       []domain.WatchlistEntry
	Total      int
	Page       int
	Limit      int
	TotalPages int
	Skip       int
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

func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, domain.LowerAddress(t))
	}
	return out
}

// Add implements spec.md 4.13's add operation: DB insert precedes cache
// update, and only genuinely new tokens are inserted/published.
func (e *Engine) Add(ctx context.Context, walletAddress string, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, apperr.Validation("tokenAddresses must not be empty")
	}
	if len(tokens) > maxTokensPerRequest {
		return 0, apperr.Validationf("tokenAddresses must not exceed %d entries", maxTokensPerRequest)
	}

	wallet := domain.LowerAddress(walletAddress)
	tokens = normalizeTokens(tokens)

	userID, err := e.users.GetOrCreateUserByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}

	existing, err := e.store.ExistingWatchlistTokens(ctx, userID, tokens)
	if err != nil {
		return 0, err
	}

	var fresh []string
	for _, t := range tokens {
		if _, ok := existing[t]; !ok {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	added, err := e.store.InsertWatchlistEntries(ctx, userID, fresh)
	if err != nil {
		return 0, err
	}

	members := make([]any, len(fresh))
	for i, t := range fresh {
		members[i] = t
	}
	if err := e.kv.SAdd(ctx, setKey(wallet), members...); err != nil {
		e.log.Errorf("watchlist engine: cache sadd for %s: %v", wallet, err)
	}

	e.publisher.Emit(domain.TopicWatchlistTokenAdded, domain.Event{
		Topic:       domain.TopicWatchlistTokenAdded,
		AggregateID: wallet,
		Payload:     fresh,
	})

	return added, nil
}

// Remove implements spec.md 4.13's remove operation.
func (e *Engine) Remove(ctx context.Context, walletAddress string, tokens []string) (int, error) {
	wallet := domain.LowerAddress(walletAddress)
	tokens = normalizeTokens(tokens)

	userID, ok, err := e.users.FindUserByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.NotFound("user not found for wallet")
	}

	removed, err := e.store.DeleteWatchlistEntries(ctx, userID, tokens)
	if err != nil {
		return 0, err
	}

	members := make([]any, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	if err := e.kv.SRem(ctx, setKey(wallet), members...); err != nil {
		e.log.Errorf("watchlist engine: cache srem for %s: %v", wallet, err)
	}

	e.publisher.Emit(domain.TopicWatchlistTokenRemoved, domain.Event{
		Topic:       domain.TopicWatchlistTokenRemoved,
		AggregateID: wallet,
		Payload:     tokens,
	})

	return removed, nil
}

// List paginates newest-first from the persistent store.
func (e *Engine) List(ctx context.Context, walletAddress string, page, limit int) (Page, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	wallet := domain.LowerAddress(walletAddress)
	userID, ok, err := e.users.FindUserByWallet(ctx, wallet)
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, apperr.NotFound("user not found for wallet")
	}

	skip := (page - 1) * limit
	entries, total, err := e.store.ListWatchlist(ctx, userID, limit, skip)
	if err != nil {
		return Page{}, err
	}

	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	return Page{
		Data:       entries,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		Skip:       skip,
	}, nil
}

// Contains reports membership, returning false for an unknown wallet.
func (e *Engine) Contains(ctx context.Context, walletAddress, tokenAddress string) (bool, error) {
	wallet := domain.LowerAddress(walletAddress)
	userID, ok, err := e.users.FindUserByWallet(ctx, wallet)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return e.store.ContainsWatchlist(ctx, userID, tokenAddress)
}

// Count returns the watchlist size, 0 for an unknown wallet.
func (e *Engine) Count(ctx context.Context, walletAddress string) (int64, error) {
	wallet := domain.LowerAddress(walletAddress)
	userID, ok, err := e.users.FindUserByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return e.store.CountWatchlist(ctx, userID)
}
