// Package chain implements the Chain Gateway (C3): a typed wrapper over an
// EVM JSON-RPC endpoint exposing exactly the reads the scanner pipeline
// needs. Grounded on go-ethereum usage patterns in
// duongtuttbn-toolkit/client_pool/client.go (ethclient.Dial/rpc.Client split)
// and duongtuttbn-toolkit/client_pool/client_pool.go's single-endpoint call
// shapes (GetLogs, BlockTime, GetTokenInfo), collapsed from a multi-endpoint
// pool (not required by spec.md) into one endpoint per Gateway instance.
// Every method here is retryable by the caller through internal/retry; the
// gateway itself never retries.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"tokenserver/internal/apperr"
)

// InitializeLog is one decoded Uniswap-v4-style pool Initialize event.
type InitializeLog struct {
	Currency0      string
	Currency1      string
	FeeTier        uint32
	TickSpacing    int32
	Hook           string
	BlockNumber    uint64
}

// BlockHeader carries the subset of a block header the scanner needs.
type BlockHeader struct {
	Number    uint64
	Timestamp uint64
}

// PoolState is the result of a readStateView call.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
}

// FungibleMeta is an ERC-20-style token's on-chain metadata.
type FungibleMeta struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// initializeEventSig is the topic0 of the pool manager's Initialize event:
// Initialize(bytes32 id, address currency0, address currency1, uint24 fee,
// int24 tickSpacing, address hooks, uint160 sqrtPriceX96, int24 tick).
var initializeEventSig = crypto.Keccak256Hash([]byte("Initialize(bytes32,address,address,uint24,int24,address,uint160,int24)"))

// Gateway wraps one RPC endpoint. PoolManager emits Initialize events;
// StateView exposes getSlot0/getLiquidity for a given poolId.
type Gateway struct {
	client             *ethclient.Client
	poolManagerAddress common.Address
	stateViewAddress   common.Address

	erc20ABI abi.ABI
	svABI    abi.ABI
}

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const stateViewABIJSON = `[
	{"inputs":[{"internalType":"bytes32","name":"poolId","type":"bytes32"}],"name":"getSlot0","outputs":[{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"internalType":"int24","name":"tick","type":"int24"},{"internalType":"uint24","name":"protocolFee","type":"uint24"},{"internalType":"uint24","name":"lpFee","type":"uint24"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"poolId","type":"bytes32"}],"name":"getLiquidity","outputs":[{"internalType":"uint128","name":"liquidity","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

// NewGateway dials endpoint once. The same *ethclient.Client is safe for
// concurrent use by every Gateway method.
func NewGateway(ctx context.Context, endpoint, poolManagerAddress, stateViewAddress string) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain endpoint: %w", err)
	}

	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	svABI, err := abi.JSON(strings.NewReader(stateViewABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse state view abi: %w", err)
	}

	return &Gateway{
		client:             client,
		poolManagerAddress: common.HexToAddress(poolManagerAddress),
		stateViewAddress:   common.HexToAddress(stateViewAddress),
		erc20ABI:           erc20ABI,
		svABI:              svABI,
	}, nil
}

// Health reports the endpoint reachable by asking for the latest block.
func (g *Gateway) Health(ctx context.Context) error {
	_, err := g.client.BlockNumber(ctx)
	if err != nil {
		return apperr.Transient("chain health check", err)
	}
	return nil
}

// Events returns decoded Initialize logs emitted by the pool manager in
// [fromBlock, toBlock], inclusive.
func (g *Gateway) Events(ctx context.Context, fromBlock, toBlock uint64) ([]InitializeLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{g.poolManagerAddress},
		Topics:    [][]common.Hash{{initializeEventSig}},
	}

	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, apperr.Transient("filter logs", err)
	}

	out := make([]InitializeLog, 0, len(logs))
	for _, lg := range logs {
		decoded, err := decodeInitializeLog(lg)
		if err != nil {
			return nil, apperr.Invariant(fmt.Sprintf("decode Initialize log at block %d: %v", lg.BlockNumber, err))
		}
		out = append(out, decoded)
	}
	return out, nil
}

// decodeInitializeLog unpacks topics (currency0, currency1 indexed) and the
// data word (fee, tickSpacing, hooks, sqrtPriceX96, tick).
func decodeInitializeLog(lg types.Log) (InitializeLog, error) {
	if len(lg.Topics) < 3 {
		return InitializeLog{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}
	currency0 := common.HexToAddress(lg.Topics[1].Hex())
	currency1 := common.HexToAddress(lg.Topics[2].Hex())

	if len(lg.Data) < 32*5 {
		return InitializeLog{}, fmt.Errorf("short data word: %d bytes", len(lg.Data))
	}

	fee := new(big.Int).SetBytes(lg.Data[0:32]).Uint64()
	tickSpacing := new(big.Int).SetBytes(lg.Data[32:64])
	hook := common.BytesToAddress(lg.Data[64:96])

	return InitializeLog{
		Currency0:   strings.ToLower(currency0.Hex()),
		Currency1:   strings.ToLower(currency1.Hex()),
		FeeTier:     uint32(fee),
		TickSpacing: int32(tickSpacing.Int64()),
		Hook:        strings.ToLower(hook.Hex()),
		BlockNumber: lg.BlockNumber,
	}, nil
}

// BlockHeader fetches timestamp (and number, for sanity) of a single block.
func (g *Gateway) BlockHeader(ctx context.Context, blockNumber uint64) (BlockHeader, error) {
	header, err := g.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return BlockHeader{}, apperr.Transient("fetch block header", err)
	}
	return BlockHeader{Number: header.Number.Uint64(), Timestamp: header.Time}, nil
}

// LatestBlockNumber returns the chain tip.
func (g *Gateway) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, apperr.Transient("fetch latest block number", err)
	}
	return n, nil
}

// ReadStateView performs the logical read (sqrtPriceX96, tick, liquidity),
// composed of two eth_call invocations against the StateView contract —
// getSlot0 and getLiquidity — issued sequentially since they share the
// same call site; callers never see the split.
func (g *Gateway) ReadStateView(ctx context.Context, poolId string) (PoolState, error) {
	poolIDBytes := common.HexToHash(poolId)

	slot0Data, err := g.svABI.Pack("getSlot0", poolIDBytes)
	if err != nil {
		return PoolState{}, apperr.Invariant(fmt.Sprintf("pack getSlot0: %v", err))
	}
	slot0Result, err := g.ethCall(ctx, g.stateViewAddress, slot0Data)
	if err != nil {
		return PoolState{}, apperr.Transient("call getSlot0", err)
	}
	var slot0 struct {
		SqrtPriceX96 *big.Int
		Tick         *big.Int
		ProtocolFee  *big.Int
		LpFee        *big.Int
	}
	if err := g.svABI.UnpackIntoInterface(&slot0, "getSlot0", slot0Result); err != nil {
		return PoolState{}, apperr.Invariant(fmt.Sprintf("unpack getSlot0: %v", err))
	}

	liqData, err := g.svABI.Pack("getLiquidity", poolIDBytes)
	if err != nil {
		return PoolState{}, apperr.Invariant(fmt.Sprintf("pack getLiquidity: %v", err))
	}
	liqResult, err := g.ethCall(ctx, g.stateViewAddress, liqData)
	if err != nil {
		return PoolState{}, apperr.Transient("call getLiquidity", err)
	}
	var liquidity *big.Int
	if err := g.svABI.UnpackIntoInterface(&liquidity, "getLiquidity", liqResult); err != nil {
		return PoolState{}, apperr.Invariant(fmt.Sprintf("unpack getLiquidity: %v", err))
	}

	return PoolState{
		SqrtPriceX96: slot0.SqrtPriceX96,
		Tick:         int32(slot0.Tick.Int64()),
		Liquidity:    liquidity,
	}, nil
}

// ReadFungibleMeta issues name/symbol/decimals concurrently against an
// ERC-20-style token contract.
func (g *Gateway) ReadFungibleMeta(ctx context.Context, address string) (FungibleMeta, error) {
	addr := common.HexToAddress(address)

	type result struct {
		name, symbol string
		decimals     uint8
		err          error
	}

	nameCh := make(chan result, 1)
	symbolCh := make(chan result, 1)
	decimalsCh := make(chan result, 1)

	go func() {
		var name string
		err := g.call(ctx, addr, "name", &name)
		nameCh <- result{name: name, err: err}
	}()
	go func() {
		var symbol string
		err := g.call(ctx, addr, "symbol", &symbol)
		symbolCh <- result{symbol: symbol, err: err}
	}()
	go func() {
		var decimals uint8
		err := g.call(ctx, addr, "decimals", &decimals)
		decimalsCh <- result{decimals: decimals, err: err}
	}()

	nameRes, symbolRes, decimalsRes := <-nameCh, <-symbolCh, <-decimalsCh
	if nameRes.err != nil {
		return FungibleMeta{}, apperr.Transient("read token name", nameRes.err)
	}
	if symbolRes.err != nil {
		return FungibleMeta{}, apperr.Transient("read token symbol", symbolRes.err)
	}
	if decimalsRes.err != nil {
		return FungibleMeta{}, apperr.Transient("read token decimals", decimalsRes.err)
	}

	return FungibleMeta{Name: nameRes.name, Symbol: symbolRes.symbol, Decimals: decimalsRes.decimals}, nil
}

func (g *Gateway) call(ctx context.Context, contract common.Address, method string, out any) error {
	data, err := g.erc20ABI.Pack(method)
	if err != nil {
		return err
	}
	result, err := g.ethCall(ctx, contract, data)
	if err != nil {
		return err
	}
	return g.erc20ABI.UnpackIntoInterface(out, method, result)
}

func (g *Gateway) ethCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	return g.client.CallContract(ctx, msg, nil)
}
