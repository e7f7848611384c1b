// Package tokenrepo implements the Token Repository (C8): a write-through,
// mutex-guarded cache of TokenRecords split into the Primary and Paired
// partitions, backed by the KV/Stream Gateway (C10) for persistence across
// process restarts. Grounded on internal/window/window.go's
// `sync.RWMutex`-guarded in-memory map shape (the window engine's own
// state is not reused, since it aggregates swap volume, not token
// identity, but the concurrency pattern is the same: one mutex over one
// map, atomic read-modify-write on merge).
package tokenrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/domain"
)

const defaultTTL = time.Hour

// KV is the subset of the KV/Stream Gateway the repository persists
// through. zora:tokens / tba:tokens style keys are supplied by the caller.
type KV interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, out any) (bool, error)
}

// Repository holds the two partitions and publishes downstream events on
// every successful merge.
type Repository struct {
	log       logger.Logger
	kv        KV
	ttl       time.Duration
	publisher Publisher

	mu         sync.RWMutex
	partitions map[domain.AppType]*domain.TokenPartition
}

// Publisher is the Event Bus's emit side, used to notify subscribers once a
// partition changes.
type Publisher interface {
	Emit(topic string, event domain.Event)
}

func New(log logger.Logger, kv KV, publisher Publisher) *Repository {
	return &Repository{
		log:       log,
		kv:        kv,
		ttl:       defaultTTL,
		publisher: publisher,
		partitions: map[domain.AppType]*domain.TokenPartition{
			domain.AppTypePrimary: emptyPartition(domain.AppTypePrimary),
			domain.AppTypePaired:  emptyPartition(domain.AppTypePaired),
		},
	}
}

func emptyPartition(name domain.AppType) *domain.TokenPartition {
	return &domain.TokenPartition{
		Name:    name,
		Records: nil,
		Meta: domain.PartitionMeta{
			LastUpdatedAt: time.Now(),
			ByCoinType:    map[domain.CoinType]int{},
		},
	}
}

// kvKeyFor uses spec.md §6's zora:tokens/tba:tokens aliases for the
// Primary/Paired partitions — the persisted key names, not the coinType.
func kvKeyFor(appType domain.AppType) string {
	switch appType {
	case domain.AppTypePaired:
		return "tba:tokens"
	default:
		return "zora:tokens"
	}
}

// Merge folds new records into the named partition with address-keyed
// newest-wins semantics, persists the partition, and publishes.
func (r *Repository) Merge(ctx context.Context, appType domain.AppType, records []domain.TokenRecord) error {
	r.mu.Lock()

	existing := r.partitions[appType]
	if existing == nil {
		existing = emptyPartition(appType)
	}

	byAddress := make(map[string]domain.TokenRecord, len(existing.Records)+len(records))
	for _, rec := range existing.Records {
		byAddress[domain.LowerAddress(rec.TokenAddress)] = rec
	}
	for _, rec := range records {
		byAddress[domain.LowerAddress(rec.TokenAddress)] = rec
	}

	merged := make([]domain.TokenRecord, 0, len(byAddress))
	for _, rec := range byAddress {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].DiscoveryBlock > merged[j].DiscoveryBlock })

	byCoinType := map[domain.CoinType]int{}
	for _, rec := range merged {
		byCoinType[rec.CoinType]++
	}

	partition := &domain.TokenPartition{
		Name:    appType,
		Records: merged,
		Meta: domain.PartitionMeta{
			LastUpdatedAt: time.Now(),
			TotalTokens:   len(merged),
			ByCoinType:    byCoinType,
		},
	}
	r.partitions[appType] = partition

	r.mu.Unlock()

	if err := r.kv.SetJSON(ctx, kvKeyFor(appType), partition, r.ttl); err != nil {
		r.log.Errorf("persist %s partition: %v", appType, err)
		return err
	}

	for _, rec := range records {
		r.publisher.Emit(domain.TopicNewTokenCreated, domain.Event{
			Topic:       domain.TopicNewTokenCreated,
			AggregateID: rec.TokenAddress,
			Timestamp:   time.Now(),
			Payload:     rec,
		})
	}

	return nil
}

// All returns both partitions concatenated.
func (r *Repository) All() []domain.TokenRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TokenRecord, 0)
	for _, p := range r.partitions {
		out = append(out, p.Records...)
	}
	return out
}

// ByPartition returns one named partition's records.
func (r *Repository) ByPartition(name domain.AppType) []domain.TokenRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.partitions[name]
	if !ok {
		return nil
	}
	out := make([]domain.TokenRecord, len(p.Records))
	copy(out, p.Records)
	return out
}

// ByCoinType filters every partition's records down to a single
// classifier-derived coinType (e.g. a specific hook's name), independent
// of which appType partition a record lives in.
func (r *Repository) ByCoinType(coinType domain.CoinType) []domain.TokenRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TokenRecord, 0)
	for _, p := range r.partitions {
		for _, rec := range p.Records {
			if rec.CoinType == coinType {
				out = append(out, rec)
			}
		}
	}
	return out
}

// Meta returns a snapshot of both partitions' metadata.
func (r *Repository) Meta() map[domain.AppType]domain.PartitionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.AppType]domain.PartitionMeta, len(r.partitions))
	for name, p := range r.partitions {
		out[name] = p.Meta
	}
	return out
}
