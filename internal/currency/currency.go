// Package currency implements the Currency Resolver (C4): turns a raw
// address into a domain.Currency, short-circuiting the well-known zero
// address to Native. Grounded on the teacher's thin-service style (no
// internal state, one exported func) seen across internal/dedupe — this
// resolver intentionally does not cache, matching spec.md's "the resolver
// does not cache across calls" contract; the Block Timestamp Cache (C5)
// next to it is where caching actually belongs.
package currency

import (
	"context"

	"tokenserver/internal/chain"
	"tokenserver/internal/domain"
)

// ChainReader is the subset of the Chain Gateway the resolver needs.
type ChainReader interface {
	ReadFungibleMeta(ctx context.Context, address string) (chain.FungibleMeta, error)
}

type Resolver struct {
	chainID uint64
	reader  ChainReader
}

func NewResolver(chainID uint64, reader ChainReader) *Resolver {
	return &Resolver{chainID: chainID, reader: reader}
}

// Resolve returns domain.Native for the zero address, otherwise reads the
// token's on-chain metadata through the Chain Gateway.
func (r *Resolver) Resolve(ctx context.Context, address string) (domain.Currency, error) {
	addr := domain.LowerAddress(address)

	if domain.IsZeroAddress(addr) {
		return domain.Currency{
			Kind:    domain.CurrencyNative,
			ChainID: r.chainID,
			Address: domain.ZeroAddress,
		}, nil
	}

	meta, err := r.reader.ReadFungibleMeta(ctx, addr)
	if err != nil {
		return domain.Currency{}, err
	}

	return domain.Currency{
		Kind:     domain.CurrencyFungible,
		ChainID:  r.chainID,
		Address:  addr,
		Decimals: meta.Decimals,
		Symbol:   meta.Symbol,
		Name:     meta.Name,
	}, nil
}

// ResolvePair resolves currency0 and currency1 concurrently, as spec.md's
// Pool Processor (C6) requires.
func (r *Resolver) ResolvePair(ctx context.Context, currency0, currency1 string) (c0, c1 domain.Currency, err error) {
	type result struct {
		currency domain.Currency
		err      error
	}

	ch0 := make(chan result, 1)
	ch1 := make(chan result, 1)

	go func() {
		c, e := r.Resolve(ctx, currency0)
		ch0 <- result{currency: c, err: e}
	}()
	go func() {
		c, e := r.Resolve(ctx, currency1)
		ch1 <- result{currency: c, err: e}
	}()

	res0, res1 := <-ch0, <-ch1
	if res0.err != nil {
		return domain.Currency{}, domain.Currency{}, res0.err
	}
	if res1.err != nil {
		return domain.Currency{}, domain.Currency{}, res1.err
	}
	return res0.currency, res1.currency, nil
}
