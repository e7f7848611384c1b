package scanner

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tokenserver/internal/blocktime"
	"tokenserver/internal/chain"
	"tokenserver/internal/config"
	"tokenserver/internal/currency"
	"tokenserver/internal/domain"
)

type fakeEvents struct {
	logs   []chain.InitializeLog
	latest uint64
}

func (f *fakeEvents) Events(ctx context.Context, fromBlock, toBlock uint64) ([]chain.InitializeLog, error) {
	return f.logs, nil
}

func (f *fakeEvents) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

type fakeChainReader struct{}

func (fakeChainReader) ReadFungibleMeta(ctx context.Context, address string) (chain.FungibleMeta, error) {
	return chain.FungibleMeta{Name: "Foo", Symbol: "FOO", Decimals: 18}, nil
}

func (fakeChainReader) BlockHeader(ctx context.Context, blockNumber uint64) (chain.BlockHeader, error) {
	return chain.BlockHeader{Number: blockNumber, Timestamp: 1_700_000_000 + blockNumber}, nil
}

type fakeStateReader struct{}

// sqrtPriceX96 for a 1:1 ratio: 2^96.
var oneToOneSqrtPrice = new(big.Int).Lsh(big.NewInt(1), 96)

func (fakeStateReader) ReadStateView(ctx context.Context, poolId string) (chain.PoolState, error) {
	return chain.PoolState{SqrtPriceX96: oneToOneSqrtPrice, Tick: 0, Liquidity: big.NewInt(0)}, nil
}

// fixedPriceStateReader reports a caller-supplied sqrtPriceX96, used to
// exercise classifyAppType's price-direction choice against a known ratio.
type fixedPriceStateReader struct {
	sqrtPriceX96 *big.Int
}

func (f fixedPriceStateReader) ReadStateView(ctx context.Context, poolId string) (chain.PoolState, error) {
	return chain.PoolState{SqrtPriceX96: f.sqrtPriceX96, Tick: 0, Liquidity: big.NewInt(0)}, nil
}

var two96Float = new(big.Float).SetPrec(200).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// sqrtPriceX96For derives an integer sqrtPriceX96 encoding the given
// currency0->currency1 price ratio (at equal decimals, so no decimal shift
// applies), by inverting priceutil.SqrtPriceX96ToPrice's own
// (sqrtPriceX96/2^96)^2 formula.
func sqrtPriceX96For(ratio float64) *big.Int {
	r := new(big.Float).SetPrec(200).SetFloat64(ratio)
	sqrtRatio := new(big.Float).SetPrec(200).Sqrt(r)
	sqrtPriceX96 := new(big.Float).SetPrec(200).Mul(sqrtRatio, two96Float)
	i, _ := sqrtPriceX96.Int(nil)
	return i
}

type fakeRepo struct {
	mu     sync.Mutex
	merged map[domain.AppType][]domain.TokenRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{merged: make(map[domain.AppType][]domain.TokenRecord)}
}

func (f *fakeRepo) Merge(ctx context.Context, appType domain.AppType, records []domain.TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged[appType] = append(f.merged[appType], records...)
	return nil
}

func (f *fakeRepo) all() map[domain.AppType][]domain.TokenRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.AppType][]domain.TokenRecord, len(f.merged))
	for k, v := range f.merged {
		out[k] = append([]domain.TokenRecord(nil), v...)
	}
	return out
}

func newTestScanner(cfg config.ScannerConfig, events *fakeEvents, repo *fakeRepo) *Scanner {
	// The hook's coinType is deliberately unrelated to "zora"/"tba": those
	// are spec.md's aliases for the appType partition (Primary/Paired),
	// not for whatever name happens to live in the classifier's hook map.
	classifier := NewClassifier(
		map[string]string{"0xhook1": "creatorHookA"},
		[]string{"0xbase"},
	)
	resolver := currency.NewResolver(8453, fakeChainReader{})
	processor := NewProcessor(resolver, fakeStateReader{}, classifier)
	timestamps := blocktime.NewCache(fakeChainReader{})

	return NewScanner(cfg, events, timestamps, processor, classifier, repo)
}

func baseCfg() config.ScannerConfig {
	return config.ScannerConfig{
		StartBlock:      100,
		BlockRange:      50,
		IntervalSeconds: 2,
		Window:          config.ScannerWindowFixed,
	}
}

func TestScan_DropsUnknownHook(t *testing.T) {
	events := &fakeEvents{
		latest: 200,
		logs: []chain.InitializeLog{
			{Currency0: "0xbase", Currency1: "0xtoken", FeeTier: 3000, TickSpacing: 60, Hook: "0xdeadbeef", BlockNumber: 110},
		},
	}
	repo := newFakeRepo()
	s := newTestScanner(baseCfg(), events, repo)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PoolsDiscovered != 0 || result.TokensAdded != 0 {
		t.Fatalf("expected the unknown-hook pool to be dropped, got %+v", result)
	}
	if len(repo.all()) != 0 {
		t.Fatalf("expected no merge for a dropped pool")
	}
}

func TestScan_ClassifiesPairedPool(t *testing.T) {
	events := &fakeEvents{
		latest: 200,
		logs: []chain.InitializeLog{
			{Currency0: "0xbase", Currency1: "0xtoken", FeeTier: 3000, TickSpacing: 60, Hook: "0xhook1", BlockNumber: 110},
		},
	}
	repo := newFakeRepo()
	s := newTestScanner(baseCfg(), events, repo)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Currency0 ("0xbase") is a configured base pairing, so this pool's
	// AppType is Paired: it must count toward TBATokens, not ZoraTokens,
	// regardless of the classifier's unrelated "creatorHookA" coinType.
	if result.PoolsDiscovered != 1 || result.TokensAdded != 1 || result.ZoraTokens != 0 || result.TBATokens != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	merged := repo.all()
	records := merged[domain.AppTypePaired]
	if len(records) != 1 {
		t.Fatalf("expected exactly one paired record, got %d", len(records))
	}
	rec := records[0]
	if rec.AppType != domain.AppTypePaired {
		t.Fatalf("expected AppTypePaired, got %s", rec.AppType)
	}
	if rec.TokenAddress != "0xtoken" {
		t.Fatalf("expected token side 0xtoken (the non-base currency), got %s", rec.TokenAddress)
	}
	if rec.DiscoveryTimestamp != 1_700_000_000+110 {
		t.Fatalf("expected resolved discovery timestamp, got %d", rec.DiscoveryTimestamp)
	}
}

// TestScan_ComputesHumanPriceFromBaseToToken is the S1 numeric scenario:
// currency0 (the base) trades at price(c0->c1) = 0.0005 against currency1
// (the token). Expected humanPrice rounds to 6 significant digits of the
// direct ratio (0.000500000, per RoundSignificant's own tested scale — see
// priceutil_test.go's TestRoundSignificant), not its inverse (~2000) —
// asserting the exact string pins classifyAppType's price-direction choice
// against regressions.
func TestScan_ComputesHumanPriceFromBaseToToken(t *testing.T) {
	classifier := NewClassifier(
		map[string]string{"0xhook1": "ZoraCreator"},
		[]string{"0xbase"},
	)
	resolver := currency.NewResolver(8453, fakeChainReader{})
	state := fixedPriceStateReader{sqrtPriceX96: sqrtPriceX96For(0.0005)}
	processor := NewProcessor(resolver, state, classifier)
	timestamps := blocktime.NewCache(fakeChainReader{})

	events := &fakeEvents{
		latest: 200,
		logs: []chain.InitializeLog{
			{Currency0: "0xbase", Currency1: "0xtoken", FeeTier: 3000, TickSpacing: 60, Hook: "0xhook1", BlockNumber: 110},
		},
	}
	repo := newFakeRepo()
	s := NewScanner(baseCfg(), events, timestamps, processor, classifier, repo)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PoolsDiscovered != 1 || result.TokensAdded != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	records := repo.all()[domain.AppTypePaired]
	if len(records) != 1 {
		t.Fatalf("expected exactly one paired record, got %d", len(records))
	}
	if records[0].HumanPrice != "0.000500000" {
		t.Fatalf("HumanPrice = %q, want %q", records[0].HumanPrice, "0.000500000")
	}
}

func TestScan_FixedWindowAdvancesHighWaterMark(t *testing.T) {
	events := &fakeEvents{latest: 1000}
	repo := newFakeRepo()
	cfg := baseCfg()
	s := newTestScanner(cfg, events, repo)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FromBlock != cfg.StartBlock || result.ToBlock != cfg.StartBlock+uint64(cfg.BlockRange) {
		t.Fatalf("unexpected window: %+v", result)
	}

	result2, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2.FromBlock != result.ToBlock+1 {
		t.Fatalf("expected fixed window to advance from %d, got %d", result.ToBlock+1, result2.FromBlock)
	}
}

func TestScan_SlidingWindowTracksChainTip(t *testing.T) {
	events := &fakeEvents{latest: 1000}
	repo := newFakeRepo()
	cfg := baseCfg()
	cfg.Window = config.ScannerWindowSliding
	s := newTestScanner(cfg, events, repo)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToBlock != 1000 || result.FromBlock != 1000-uint64(cfg.BlockRange) {
		t.Fatalf("unexpected sliding window: %+v", result)
	}
}

func TestScanner_ExclusivityDropsConcurrentTrigger(t *testing.T) {
	events := &fakeEvents{latest: 1000}
	repo := newFakeRepo()
	s := newTestScanner(baseCfg(), events, repo)

	// Manually hold the flag as tryScan would, then confirm a concurrent
	// attempt is dropped rather than queued.
	if !s.acquire() {
		t.Fatal("expected to acquire the idle scanner")
	}
	if s.acquire() {
		t.Fatal("expected a concurrent acquire to be rejected")
	}
	s.release()
	if !s.acquire() {
		t.Fatal("expected to re-acquire after release")
	}
	s.release()
}

func TestTryScan_ReportsDroppedTrigger(t *testing.T) {
	events := &fakeEvents{latest: 1000}
	repo := newFakeRepo()
	s := newTestScanner(baseCfg(), events, repo)

	var ran int32
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, started, err := s.TryScan(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if started {
				atomic.AddInt32(&ran, 1)
			}
		}()
	}
	wg.Wait()

	// Both goroutines race to acquire; since Scan completes very fast in
	// this fake setup there is no strict guarantee only one wins, but at
	// least one must have run and state must end Idle.
	if atomic.LoadInt32(&ran) == 0 {
		t.Fatal("expected at least one scan to run")
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != statusIdle {
		t.Fatalf("expected scanner to end idle, got state %d", state)
	}
}

func TestWindow_ConfigValidation(t *testing.T) {
	cfg := baseCfg()
	cfg.Window = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unset scanner window")
	}

	cfg = baseCfg()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a valid config to pass, got %v", err)
	}
}

func TestScan_RespectsShortDeadline(t *testing.T) {
	events := &fakeEvents{latest: 1000}
	repo := newFakeRepo()
	s := newTestScanner(baseCfg(), events, repo)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	if _, err := s.Scan(ctx); err == nil {
		t.Fatal("expected an error from an already-expired context")
	}
}
