// Package scanner implements the Pool Processor (C6) and Token Scanner
// (C7). The processor turns discovered PoolKeys into classified,
// priced TokenRecords using the Batch Executor (C2) for bounded
// concurrency; the scanner drives the end-to-end scan cycle on a ticker,
// grounded on internal/dedupe/memory.go's ticker-driven janitor loop and
// internal/window/window.go's mutex-guarded state-flag pattern.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tokenserver/internal/batch"
	"tokenserver/internal/chain"
	"tokenserver/internal/currency"
	"tokenserver/internal/domain"
	"tokenserver/internal/priceutil"
	"tokenserver/internal/retry"
)

const (
	processorBatchSize  = 3
	processorBatchDelay = 300 * time.Millisecond
)

// StateReader is the subset of the Chain Gateway the processor needs.
type StateReader interface {
	ReadStateView(ctx context.Context, poolId string) (chain.PoolState, error)
}

// Classifier resolves coinType from a hook address and decides appType from
// a pool's two currencies.
type Classifier struct {
	// Hooks maps a lower-cased hook address to its coinType.
	Hooks map[string]domain.CoinType
	// BasePairings is the set of lower-cased addresses treated as the base
	// leg of a pool (e.g. WETH, USDC).
	BasePairings map[string]struct{}
}

func NewClassifier(hooks map[string]string, basePairings []string) *Classifier {
	h := make(map[string]domain.CoinType, len(hooks))
	for addr, coinType := range hooks {
		h[domain.LowerAddress(addr)] = domain.CoinType(coinType)
	}
	b := make(map[string]struct{}, len(basePairings))
	for _, addr := range basePairings {
		b[domain.LowerAddress(addr)] = struct{}{}
	}
	return &Classifier{Hooks: h, BasePairings: b}
}

// CoinType returns (coinType, true) when hook is a configured hook.
func (c *Classifier) CoinType(hook string) (domain.CoinType, bool) {
	coinType, ok := c.Hooks[domain.LowerAddress(hook)]
	return coinType, ok
}

func (c *Classifier) isBase(address string) bool {
	_, ok := c.BasePairings[domain.LowerAddress(address)]
	return ok
}

// Processor implements C6: process(keys, timestamps) -> []TokenRecord.
type Processor struct {
	resolver   *currency.Resolver
	state      StateReader
	classifier *Classifier
}

func NewProcessor(resolver *currency.Resolver, state StateReader, classifier *Classifier) *Processor {
	return &Processor{resolver: resolver, state: state, classifier: classifier}
}

// Process runs C2 over keys with (batchSize=3, delay=300ms). Pools that fail
// any step are dropped; the order of the remaining records is not
// significant to callers (Token Repository merges by address).
func (p *Processor) Process(ctx context.Context, keys []domain.PoolKey, timestamps map[uint64]uint64) []domain.TokenRecord {
	results := batch.Run(ctx, keys, batch.Options{Size: processorBatchSize, Delay: processorBatchDelay},
		func(ctx context.Context, key domain.PoolKey) (domain.TokenRecord, error) {
			return p.processOne(ctx, key, timestamps)
		})

	out := make([]domain.TokenRecord, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		out = append(out, r.Value)
	}
	return out
}

func (p *Processor) processOne(ctx context.Context, key domain.PoolKey, timestamps map[uint64]uint64) (domain.TokenRecord, error) {
	coinType, ok := p.classifier.CoinType(key.Hook)
	if !ok {
		return domain.TokenRecord{}, fmt.Errorf("hook %s matches no configured coinType", key.Hook)
	}

	c0, c1, err := p.resolver.ResolvePair(ctx, key.Currency0, key.Currency1)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("resolve currencies: %w", err)
	}

	poolId := domain.ComputePoolId(key.Currency0, key.Currency1, key.FeeTier, key.TickSpacing, key.Hook)

	state, err := retry.Do(ctx, retry.Options{}, func(ctx context.Context) (chain.PoolState, error) {
		return p.state.ReadStateView(ctx, string(poolId))
	})
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("read state view: %w", err)
	}

	priceC0toC1 := priceutil.SqrtPriceX96ToPrice(state.SqrtPriceX96, c0.Decimals, c1.Decimals)
	priceC1toC0 := priceutil.Invert(priceC0toC1)

	appType, token, tokenPrice := classifyAppType(p.classifier, key, c0, c1, priceC0toC1, priceC1toC0)

	timestamp := timestamps[key.DiscoveryBlock]

	return domain.TokenRecord{
		PoolId:             poolId,
		AppType:            appType,
		CoinType:           coinType,
		TokenAddress:       token.Address,
		TokenName:          token.Name,
		TokenSymbol:        token.Symbol,
		TokenDecimals:      token.Decimals,
		CurrentTick:        state.Tick,
		SqrtPriceX96:       state.SqrtPriceX96.String(),
		HumanPrice:         priceutil.RoundSignificant(tokenPrice, 6).String(),
		DiscoveryBlock:     key.DiscoveryBlock,
		DiscoveryTimestamp: timestamp,
	}, nil
}

// classifyAppType implements spec.md 4.6 step 6: if either currency is a
// base pairing, appType is Paired and the token side is the non-base
// currency; otherwise appType is Primary and the token side is currency0.
// On the documented edge case where both currencies are base pairings,
// currency1 is chosen as the token.
//
// For a Paired pool, humanPrice is price(base→token): how many units of the
// token one unit of the base currency is worth. Per spec.md's S1 worked example, a sqrtPriceX96 for which
// SqrtPriceX96ToPrice(c0, c1) = price(c0→c1) = 0.0005 with c0 the base and
// c1 the token yields humanPrice = "0.000500" directly, not its inverse —
// so the base side always supplies the first argument to the price that
// gets reported: price(base→token), not price(token→base).
func classifyAppType(c *Classifier, key domain.PoolKey, c0, c1 domain.Currency, priceC0toC1, priceC1toC0 decimal.Decimal) (domain.AppType, domain.Currency, decimal.Decimal) {
	c0IsBase := c.isBase(key.Currency0)
	c1IsBase := c.isBase(key.Currency1)

	if !c0IsBase && !c1IsBase {
		return domain.AppTypePrimary, c0, priceC0toC1
	}

	if c0IsBase && c1IsBase {
		return domain.AppTypePaired, c1, priceC0toC1
	}

	if c1IsBase {
		return domain.AppTypePaired, c0, priceC1toC0
	}
	return domain.AppTypePaired, c1, priceC0toC1
}
