package domain

import "testing"

func TestComparableCurrencies(t *testing.T) {
	lo := "0x0000000000000000000000000000000000000001"
	hi := "0x0000000000000000000000000000000000000002"

	gotLo, gotHi, ok := ComparableCurrencies(hi, lo)
	if !ok {
		t.Fatalf("expected ok=true for distinct currencies")
	}
	if gotLo != lo || gotHi != hi {
		t.Fatalf("expected (%s, %s), got (%s, %s)", lo, hi, gotLo, gotHi)
	}

	// Already-ordered input is returned unchanged.
	gotLo, gotHi, ok = ComparableCurrencies(lo, hi)
	if !ok || gotLo != lo || gotHi != hi {
		t.Fatalf("expected unchanged ordering, got (%s, %s, %v)", gotLo, gotHi, ok)
	}

	// Identical currencies are never a valid pool.
	if _, _, ok := ComparableCurrencies(lo, lo); ok {
		t.Fatalf("expected ok=false for identical currencies")
	}
}

func TestComputePoolId_Deterministic(t *testing.T) {
	c0 := "0x0000000000000000000000000000000000000001"
	c1 := "0x0000000000000000000000000000000000000002"
	hook := "0x00000000000000000000000000000000000003"

	id1 := ComputePoolId(c0, c1, 3000, 60, hook)
	id2 := ComputePoolId(c0, c1, 3000, 60, hook)
	if id1 != id2 {
		t.Fatalf("expected deterministic poolId, got %s vs %s", id1, id2)
	}

	if len(id1) != 66 { // "0x" + 64 hex chars = 32 bytes
		t.Fatalf("expected a 32-byte hex-encoded digest, got length %d (%s)", len(id1), id1)
	}
}

func TestComputePoolId_SensitiveToEveryField(t *testing.T) {
	c0 := "0x0000000000000000000000000000000000000001"
	c1 := "0x0000000000000000000000000000000000000002"
	hook := "0x00000000000000000000000000000000000003"

	base := ComputePoolId(c0, c1, 3000, 60, hook)

	cases := map[string]PoolId{
		"fee":         ComputePoolId(c0, c1, 500, 60, hook),
		"tickSpacing": ComputePoolId(c0, c1, 3000, 10, hook),
		"hook":        ComputePoolId(c0, c1, 3000, 60, "0x0000000000000000000000000000000000000004"),
		"swappedC0C1": ComputePoolId(c1, c0, 3000, 60, hook),
	}
	for name, id := range cases {
		if id == base {
			t.Errorf("changing %s did not change poolId", name)
		}
	}
}

func TestLowerAddress(t *testing.T) {
	if got := LowerAddress("  0xABCDEF  "); got != "0xabcdef" {
		t.Fatalf("expected trimmed lower-case address, got %q", got)
	}
}

func TestIsZeroAddress(t *testing.T) {
	if !IsZeroAddress(ZeroAddress) {
		t.Fatalf("expected zero address to be recognized")
	}
	if IsZeroAddress("0x0000000000000000000000000000000000000001") {
		t.Fatalf("did not expect a non-zero address to be recognized as zero")
	}
}

func TestNormalizeReactionCounters(t *testing.T) {
	in := map[ReactionKind]int64{ReactionLike: 5}
	out := NormalizeReactionCounters(in)

	if len(out) != len(AllReactionKinds) {
		t.Fatalf("expected %d kinds, got %d", len(AllReactionKinds), len(out))
	}
	if out[ReactionLike] != 5 {
		t.Fatalf("expected like=5, got %d", out[ReactionLike])
	}
	if out[ReactionSad] != 0 {
		t.Fatalf("expected absent kind to default to 0, got %d", out[ReactionSad])
	}
}
