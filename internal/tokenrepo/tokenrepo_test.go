package tokenrepo

import (
	"context"
	"testing"
	"time"

	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/domain"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

type fakeKV struct {
	stored map[string]any
}

func newFakeKV() *fakeKV { return &fakeKV{stored: map[string]any{}} }

func (f *fakeKV) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.stored[key] = value
	return nil
}

func (f *fakeKV) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	_, ok := f.stored[key]
	return ok, nil
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Emit(topic string, event domain.Event) {
	p.events = append(p.events, event)
}

func TestRepository_Merge_NewestWinsByAddress(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	err := repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{
		{TokenAddress: "0xAAA", DiscoveryBlock: 100, TokenSymbol: "OLD"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{
		{TokenAddress: "0xaaa", DiscoveryBlock: 200, TokenSymbol: "NEW"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := repo.ByPartition(domain.AppTypePrimary)
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (newest-wins by lowercased address)", len(records))
	}
	if records[0].TokenSymbol != "NEW" {
		t.Fatalf("TokenSymbol = %q, want %q", records[0].TokenSymbol, "NEW")
	}
}

func TestRepository_Merge_SortsByDiscoveryBlockDescending(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	err := repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{
		{TokenAddress: "0x1", DiscoveryBlock: 10},
		{TokenAddress: "0x2", DiscoveryBlock: 30},
		{TokenAddress: "0x3", DiscoveryBlock: 20},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := repo.ByPartition(domain.AppTypePrimary)
	blocks := []uint64{records[0].DiscoveryBlock, records[1].DiscoveryBlock, records[2].DiscoveryBlock}
	want := []uint64{30, 20, 10}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", blocks, want)
		}
	}
}

func TestRepository_Merge_PersistsAndEmitsPerRecord(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	err := repo.Merge(context.Background(), domain.AppTypePaired, []domain.TokenRecord{
		{TokenAddress: "0x1"},
		{TokenAddress: "0x2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := kv.stored["tba:tokens"]; !ok {
		t.Fatal("expected the Paired partition to be persisted under tba:tokens")
	}
	if len(pub.events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(pub.events))
	}
	for _, evt := range pub.events {
		if evt.Topic != domain.TopicNewTokenCreated {
			t.Fatalf("Topic = %q, want %q", evt.Topic, domain.TopicNewTokenCreated)
		}
	}
}

func TestRepository_ByCoinType_FiltersAcrossPartitions(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	_ = repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{
		{TokenAddress: "0x1", CoinType: "zora"},
		{TokenAddress: "0x2", CoinType: "tba"},
	})
	_ = repo.Merge(context.Background(), domain.AppTypePaired, []domain.TokenRecord{
		{TokenAddress: "0x3", CoinType: "zora"},
	})

	zora := repo.ByCoinType("zora")
	if len(zora) != 2 {
		t.Fatalf("len(zora) = %d, want 2", len(zora))
	}
}

func TestRepository_All_ConcatenatesBothPartitions(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	_ = repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{{TokenAddress: "0x1"}})
	_ = repo.Merge(context.Background(), domain.AppTypePaired, []domain.TokenRecord{{TokenAddress: "0x2"}})

	all := repo.All()
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
}

func TestRepository_Meta_ReflectsTotalTokensPerPartition(t *testing.T) {
	kv := newFakeKV()
	pub := &recordingPublisher{}
	repo := New(newTestLogger(), kv, pub)

	_ = repo.Merge(context.Background(), domain.AppTypePrimary, []domain.TokenRecord{
		{TokenAddress: "0x1"}, {TokenAddress: "0x2"},
	})

	meta := repo.Meta()
	if meta[domain.AppTypePrimary].TotalTokens != 2 {
		t.Fatalf("TotalTokens = %d, want 2", meta[domain.AppTypePrimary].TotalTokens)
	}
	if meta[domain.AppTypePaired].TotalTokens != 0 {
		t.Fatalf("TotalTokens(paired) = %d, want 0", meta[domain.AppTypePaired].TotalTokens)
	}
}
