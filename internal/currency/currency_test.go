package currency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tokenserver/internal/chain"
	"tokenserver/internal/domain"
)

type fakeReader struct {
	mu       sync.Mutex
	calls    []string
	metaFor  map[string]chain.FungibleMeta
	errFor   map[string]error
}

func (f *fakeReader) ReadFungibleMeta(ctx context.Context, address string) (chain.FungibleMeta, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()

	if err, ok := f.errFor[address]; ok {
		return chain.FungibleMeta{}, err
	}
	return f.metaFor[address], nil
}

func TestResolve_ZeroAddressIsNative(t *testing.T) {
	r := NewResolver(8453, &fakeReader{})

	c, err := r.Resolve(context.Background(), domain.ZeroAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsNative() {
		t.Fatalf("expected native currency, got %+v", c)
	}
	if c.ChainID != 8453 {
		t.Fatalf("expected chainID 8453, got %d", c.ChainID)
	}
}

func TestResolve_FungibleReadsMetadata(t *testing.T) {
	reader := &fakeReader{
		metaFor: map[string]chain.FungibleMeta{
			"0xtoken": {Name: "Foo", Symbol: "FOO", Decimals: 18},
		},
	}
	r := NewResolver(8453, reader)

	c, err := r.Resolve(context.Background(), "0xTOKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsNative() {
		t.Fatalf("expected fungible currency")
	}
	if c.Symbol != "FOO" || c.Name != "Foo" || c.Decimals != 18 {
		t.Fatalf("unexpected currency metadata: %+v", c)
	}
	if c.Address != "0xtoken" {
		t.Fatalf("expected lower-cased address, got %s", c.Address)
	}
}

func TestResolve_PropagatesReaderError(t *testing.T) {
	wantErr := errors.New("rpc down")
	reader := &fakeReader{errFor: map[string]error{"0xtoken": wantErr}}
	r := NewResolver(8453, reader)

	_, err := r.Resolve(context.Background(), "0xtoken")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
}

func TestResolvePair_ResolvesConcurrently(t *testing.T) {
	reader := &fakeReader{
		metaFor: map[string]chain.FungibleMeta{
			"0xaaa": {Name: "A", Symbol: "AAA", Decimals: 18},
		},
	}
	r := NewResolver(8453, reader)

	c0, c1, err := r.ResolvePair(context.Background(), domain.ZeroAddress, "0xAAA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c0.IsNative() {
		t.Fatalf("expected currency0 native, got %+v", c0)
	}
	if c1.Symbol != "AAA" {
		t.Fatalf("expected currency1 AAA, got %+v", c1)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.calls) != 1 {
		t.Fatalf("expected exactly one on-chain read (native side is short-circuited), got %d", len(reader.calls))
	}
}

func TestResolvePair_FirstErrorWins(t *testing.T) {
	wantErr := errors.New("boom")
	reader := &fakeReader{errFor: map[string]error{
		"0xaaa": wantErr,
		"0xbbb": wantErr,
	}}
	r := NewResolver(8453, reader)

	_, _, err := r.ResolvePair(context.Background(), "0xaaa", "0xbbb")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected propagated error, got %v", err)
	}
}
