package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// jsonrpcServer answers every request with the response resultFor returns
// for that request's method, mirroring the httptest JSON-RPC fixture
// pattern used in VladislavFirsov-solana-token-lab/internal/solana/rpc_client_test.go
// (Solana's JSON-RPC shape there, Ethereum's here).
func jsonrpcServer(t *testing.T, resultFor func(method string, params json.RawMessage) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      json.RawMessage(req.ID),
			"result":  resultFor(req.Method, req.Params),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode rpc response: %v", err)
		}
	}))
}

func newTestGateway(t *testing.T, resultFor func(method string, params json.RawMessage) any) *Gateway {
	t.Helper()
	server := jsonrpcServer(t, resultFor)
	t.Cleanup(server.Close)

	g, err := NewGateway(context.Background(), server.URL,
		"0x0000000000000000000000000000000000000010",
		"0x0000000000000000000000000000000000000020")
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestGateway_LatestBlockNumber(t *testing.T) {
	g := newTestGateway(t, func(method string, params json.RawMessage) any {
		if method != "eth_blockNumber" {
			t.Fatalf("unexpected method %s", method)
		}
		return "0x4b7" // 1207
	})

	n, err := g.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1207 {
		t.Fatalf("expected 1207, got %d", n)
	}
}

func TestGateway_Health_OK(t *testing.T) {
	g := newTestGateway(t, func(method string, params json.RawMessage) any {
		return "0x1"
	})
	if err := g.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGateway_Health_TransientOnRPCFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g, err := NewGateway(context.Background(), server.URL,
		"0x0000000000000000000000000000000000000010",
		"0x0000000000000000000000000000000000000020")
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	if err := g.Health(context.Background()); err == nil {
		t.Fatal("expected an error from a failing endpoint")
	}
}

// decodeInitializeLog is exercised directly (no JSON-RPC round trip) since
// it operates on an already-decoded types.Log; this avoids hand-crafting a
// full eth_getLogs response body, which no pack repo does either.
func TestDecodeInitializeLog(t *testing.T) {
	currency0 := common.HexToAddress("0x0000000000000000000000000000000000000001")
	currency1 := common.HexToAddress("0x0000000000000000000000000000000000000002")
	hook := common.HexToAddress("0x0000000000000000000000000000000000000003")

	data := make([]byte, 32*5)
	// word0: fee = 3000
	data[30] = 0x0b
	data[31] = 0xb8
	// word1 (32:64): tickSpacing = 60
	data[63] = 60
	// word2 (64:96): hook address, right-aligned in the 32-byte word
	copy(data[64+12:96], hook.Bytes())

	log := types.Log{
		Topics: []common.Hash{
			{}, // topic0: event signature, unused by the decoder
			common.BytesToHash(currency0.Bytes()),
			common.BytesToHash(currency1.Bytes()),
		},
		Data:        data,
		BlockNumber: 12345,
	}

	decoded, err := decodeInitializeLog(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Currency0 != "0x0000000000000000000000000000000000000001" {
		t.Errorf("unexpected currency0: %s", decoded.Currency0)
	}
	if decoded.Currency1 != "0x0000000000000000000000000000000000000002" {
		t.Errorf("unexpected currency1: %s", decoded.Currency1)
	}
	if decoded.Hook != "0x0000000000000000000000000000000000000003" {
		t.Errorf("unexpected hook: %s", decoded.Hook)
	}
	if decoded.FeeTier != 3000 {
		t.Errorf("expected fee 3000, got %d", decoded.FeeTier)
	}
	if decoded.TickSpacing != 60 {
		t.Errorf("expected tickSpacing 60, got %d", decoded.TickSpacing)
	}
	if decoded.BlockNumber != 12345 {
		t.Errorf("expected blockNumber 12345, got %d", decoded.BlockNumber)
	}
}

func TestDecodeInitializeLog_RejectsShortData(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{{}, {}, {}},
		Data:   make([]byte, 32),
	}
	if _, err := decodeInitializeLog(log); err == nil {
		t.Fatal("expected an error for a short data word")
	}
}

func TestDecodeInitializeLog_RejectsMissingTopics(t *testing.T) {
	log := types.Log{Topics: []common.Hash{{}}, Data: make([]byte, 32*5)}
	if _, err := decodeInitializeLog(log); err == nil {
		t.Fatal("expected an error for missing indexed topics")
	}
}
