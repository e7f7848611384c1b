package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokenserver/internal/apperr"
	"tokenserver/internal/blocktime"
	"tokenserver/internal/chain"
	"tokenserver/internal/config"
	"tokenserver/internal/domain"
	"tokenserver/internal/retry"
)

// status is the scanner's non-reentrant state flag, mirroring
// internal/window/window.go's sync.RWMutex-guarded state field.
type status int

const (
	statusIdle status = iota
	statusScanning
)

// EventReader is the subset of the Chain Gateway the scanner needs for
// event discovery and the chain tip.
type EventReader interface {
	Events(ctx context.Context, fromBlock, toBlock uint64) ([]chain.InitializeLog, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Repository is where the scanner hands off classified records.
type Repository interface {
	Merge(ctx context.Context, appType domain.AppType, records []domain.TokenRecord) error
}

// ScanResult is the per-cycle summary spec.md §4.7 requires.
type ScanResult struct {
	BlocksScanned   uint64    `json:"blocksScanned"`
	FromBlock       uint64    `json:"fromBlock"`
	ToBlock         uint64    `json:"toBlock"`
	PoolsDiscovered int       `json:"poolsDiscovered"`
	TokensAdded     int       `json:"tokensAdded"`
	ZoraTokens      int       `json:"zoraTokens"`
	TBATokens       int       `json:"tbaTokens"`
	DurationMs      int64     `json:"durationMs"`
	Timestamp       time.Time `json:"timestamp"`
}

// Scanner drives the end-to-end scan cycle: discover events, collect block
// timestamps, process pools, and hand results to the repository.
type Scanner struct {
	cfg        config.ScannerConfig
	events     EventReader
	timestamps *blocktime.Cache
	processor  *Processor
	classifier *Classifier
	repo       Repository

	mu            sync.Mutex
	state         status
	lastFromBlock uint64 // high-water mark for the fixed window
}

func NewScanner(cfg config.ScannerConfig, events EventReader, timestamps *blocktime.Cache, processor *Processor, classifier *Classifier, repo Repository) *Scanner {
	return &Scanner{
		cfg:           cfg,
		events:        events,
		timestamps:    timestamps,
		processor:     processor,
		classifier:    classifier,
		repo:          repo,
		lastFromBlock: cfg.StartBlock,
	}
}

// Run ticks every cfg.IntervalSeconds until ctx is cancelled. A tick arriving
// while a scan is already in progress is dropped, not queued.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryScan(ctx)
		}
	}
}

func (s *Scanner) tryScan(ctx context.Context) {
	if !s.acquire() {
		return
	}
	defer s.release()

	if _, err := s.Scan(ctx); err != nil {
		// Scan's error is dropped here without being logged; the scheduler
		// continues on the next tick regardless.
		return
	}
}

func (s *Scanner) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == statusScanning {
		return false
	}
	s.state = statusScanning
	return true
}

func (s *Scanner) release() {
	s.mu.Lock()
	s.state = statusIdle
	s.mu.Unlock()
}

// Scan runs exactly one cycle regardless of the ticker, used both by the
// scheduler and by the synchronous POST /tokens/scan endpoint. Callers that
// invoke Scan directly (outside Run) are responsible for respecting
// exclusivity if that matters to them; the HTTP handler uses TryScan too.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()

	fromBlock, toBlock, err := s.window(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	logs, err := retry.Do(ctx, retry.Options{}, func(ctx context.Context) ([]chain.InitializeLog, error) {
		return s.events.Events(ctx, fromBlock, toBlock)
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan events: %w", err)
	}

	keys := decodeKeys(logs)
	filtered := s.filterByHook(keys)

	blockNumbers := uniqueDiscoveryBlocks(filtered)
	timestamps, err := s.timestamps.Timestamps(ctx, blockNumbers)
	if err != nil {
		return ScanResult{}, fmt.Errorf("resolve block timestamps: %w", err)
	}

	records := s.processor.Process(ctx, filtered, timestamps)

	primary := make([]domain.TokenRecord, 0, len(records))
	paired := make([]domain.TokenRecord, 0, len(records))
	for _, r := range records {
		if r.AppType == domain.AppTypePaired {
			paired = append(paired, r)
		} else {
			primary = append(primary, r)
		}
	}

	if len(primary) > 0 {
		if err := s.repo.Merge(ctx, domain.AppTypePrimary, primary); err != nil {
			return ScanResult{}, fmt.Errorf("merge primary partition: %w", err)
		}
	}
	if len(paired) > 0 {
		if err := s.repo.Merge(ctx, domain.AppTypePaired, paired); err != nil {
			return ScanResult{}, fmt.Errorf("merge paired partition: %w", err)
		}
	}

	// zora/tba are spec.md's aliases for the Primary/Paired appType
	// partitions, not the hook-derived coinType.
	zora, tba := len(primary), len(paired)

	if s.cfg.Window == config.ScannerWindowFixed {
		s.mu.Lock()
		s.lastFromBlock = toBlock + 1
		s.mu.Unlock()
	}

	return ScanResult{
		BlocksScanned:   toBlock - fromBlock + 1,
		FromBlock:       fromBlock,
		ToBlock:         toBlock,
		PoolsDiscovered: len(filtered),
		TokensAdded:     len(records),
		ZoraTokens:      zora,
		TBATokens:       tba,
		DurationMs:      time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}, nil
}

// TryScan exposes the non-reentrant guard for external callers (the
// POST /tokens/scan handler), so a manually triggered scan is dropped the
// same way a ticker trigger would be if a scan is already running.
func (s *Scanner) TryScan(ctx context.Context) (ScanResult, bool, error) {
	if !s.acquire() {
		return ScanResult{}, false, nil
	}
	defer s.release()

	result, err := s.Scan(ctx)
	return result, true, err
}

// window computes [fromBlock, toBlock] per the configured strategy. Fixed
// advances a high-water mark by the configured block range each cycle;
// sliding always looks back blockRange blocks from the chain tip. An
// unrecognized window is rejected at config load time (config.ScannerConfig.Validate),
// so this switch should never hit its default in practice.
func (s *Scanner) window(ctx context.Context) (fromBlock, toBlock uint64, err error) {
	latest, err := retry.Do(ctx, retry.Options{}, func(ctx context.Context) (uint64, error) {
		return s.events.LatestBlockNumber(ctx)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fetch latest block number: %w", err)
	}

	switch s.cfg.Window {
	case config.ScannerWindowFixed:
		s.mu.Lock()
		from := s.lastFromBlock
		s.mu.Unlock()
		to := from + uint64(s.cfg.BlockRange)
		if to > latest {
			to = latest
		}
		if from > to {
			return 0, 0, apperr.Invariant("scanner high-water mark is ahead of chain tip")
		}
		return from, to, nil
	case config.ScannerWindowSliding:
		if latest < uint64(s.cfg.BlockRange) {
			return 0, latest, nil
		}
		return latest - uint64(s.cfg.BlockRange), latest, nil
	default:
		return 0, 0, apperr.Invariant(fmt.Sprintf("unrecognized scanner window %q", s.cfg.Window))
	}
}

func decodeKeys(logs []chain.InitializeLog) []domain.PoolKey {
	out := make([]domain.PoolKey, 0, len(logs))
	for _, lg := range logs {
		out = append(out, domain.PoolKey{
			Currency0:      lg.Currency0,
			Currency1:      lg.Currency1,
			FeeTier:        lg.FeeTier,
			TickSpacing:    lg.TickSpacing,
			Hook:           lg.Hook,
			DiscoveryBlock: lg.BlockNumber,
		})
	}
	return out
}

func (s *Scanner) filterByHook(keys []domain.PoolKey) []domain.PoolKey {
	out := make([]domain.PoolKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := s.classifier.CoinType(k.Hook); ok {
			out = append(out, k)
		}
	}
	return out
}

func uniqueDiscoveryBlocks(keys []domain.PoolKey) []uint64 {
	seen := make(map[uint64]struct{}, len(keys))
	out := make([]uint64, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k.DiscoveryBlock]; ok {
			continue
		}
		seen[k.DiscoveryBlock] = struct{}{}
		out = append(out, k.DiscoveryBlock)
	}
	return out
}
