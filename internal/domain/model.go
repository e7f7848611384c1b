package domain

import "time"

// AppType classifies which side of a pool is treated as "the token" — a pool
// paired against a configured base currency (Paired) or standing on its own
// (Primary).
type AppType string

const (
	AppTypePrimary AppType = "PRIMARY"
	AppTypePaired  AppType = "PAIRED"
)

// CoinType is resolved from the pool's hook address against the configured
// classifier.hooks map.
type CoinType string

// CurrencyKind discriminates the Currency sum type.
type CurrencyKind string

const (
	CurrencyNative   CurrencyKind = "native"
	CurrencyFungible CurrencyKind = "fungible"
	ZeroAddress                   = "0x0000000000000000000000000000000000000000"
)

// Currency is the sum type described in spec §3: either the chain's native
// asset or a fungible token with lazily fetched metadata.
type Currency struct {
	Kind     CurrencyKind
	ChainID  uint64
	Address  string // lower-cased, zero address for Native
	Decimals uint8
	Symbol   string
	Name     string
}

func (c Currency) IsNative() bool { return c.Kind == CurrencyNative }

// PoolKey is the immutable tuple identifying a pool-initialization event.
// Invariant: Currency0 < Currency1 as unsigned 160-bit integers.
type PoolKey struct {
	Currency0      string
	Currency1      string
	FeeTier        uint32
	TickSpacing    int32
	Hook           string
	DiscoveryBlock uint64
}

// PoolId is the deterministic 32-byte digest of a pool's identity tuple,
// hex-encoded with a 0x prefix.
type PoolId string

// TokenRecord is the classified, priced result of processing one pool.
type TokenRecord struct {
	PoolId             PoolId   `json:"poolId"`
	AppType            AppType  `json:"appType"`
	CoinType           CoinType `json:"coinType"`
	TokenAddress       string   `json:"tokenAddress"`
	TokenName          string   `json:"tokenName"`
	TokenSymbol        string   `json:"tokenSymbol"`
	TokenDecimals      uint8    `json:"tokenDecimals"`
	CurrentTick        int32    `json:"currentTick"`
	SqrtPriceX96       string   `json:"sqrtPriceX96"`
	HumanPrice         string   `json:"humanPrice"`
	DiscoveryBlock     uint64   `json:"discoveryBlock"`
	DiscoveryTimestamp uint64   `json:"discoveryTimestamp"`
}

// PartitionMeta summarizes the records held by one TokenPartition.
type PartitionMeta struct {
	LastUpdatedAt time.Time        `json:"lastUpdatedAt"`
	TotalTokens   int              `json:"totalTokens"`
	ByCoinType    map[CoinType]int `json:"byCoinType"`
}

// TokenPartition is a named container of token records. Exactly two
// partitions exist: Primary and Paired.
type TokenPartition struct {
	Name    AppType       `json:"name"`
	Records []TokenRecord `json:"records"`
	Meta    PartitionMeta `json:"meta"`
}

// WatchlistEntry is one (userId, tokenAddress) membership row.
type WatchlistEntry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	TokenAddress string    `json:"tokenAddress"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CommentStatus tracks whether a comment has reached durable storage yet.
type CommentStatus string

const (
	CommentProcessing CommentStatus = "PROCESSING"
	CommentPersisted  CommentStatus = "PERSISTED"
)

// Comment is one piece of per-token commentary.
type Comment struct {
	ID            string        `json:"id"`
	TokenAddress  string        `json:"tokenAddress"`
	UserID        int64         `json:"userId"`
	WalletAddress string        `json:"walletAddress"`
	Content       string        `json:"content"`
	CreatedAt     time.Time     `json:"createdAt"`
	Status        CommentStatus `json:"status"`
}

// ReactionKind enumerates the accepted emoji reactions.
type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionLove  ReactionKind = "love"
	ReactionLaugh ReactionKind = "laugh"
	ReactionWow   ReactionKind = "wow"
	ReactionSad   ReactionKind = "sad"
)

// AllReactionKinds lists every valid reaction in hash-field order.
var AllReactionKinds = []ReactionKind{ReactionLike, ReactionLove, ReactionLaugh, ReactionWow, ReactionSad}

// ReactionCounters maps each reaction kind to its non-negative total for one
// token. Absent fields default to zero.
type ReactionCounters map[ReactionKind]int64

// NormalizeReactionCounters fills in zero defaults for every known kind.
func NormalizeReactionCounters(in map[ReactionKind]int64) ReactionCounters {
	out := make(ReactionCounters, len(AllReactionKinds))
	for _, k := range AllReactionKinds {
		out[k] = in[k]
	}
	return out
}

// LaunchpadToken is a normalized record from the external feed ingestor.
type LaunchpadToken struct {
	Address           string    `json:"address"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	Network           string    `json:"network"`
	Protocol          string    `json:"protocol"`
	NetworkID         string    `json:"networkId"`
	CreatedAt         time.Time `json:"createdAt"`
	PriceUSD          *string   `json:"priceUsd,omitempty"`
	MarketCap         *string   `json:"marketCap,omitempty"`
	Volume24          *string   `json:"volume24,omitempty"`
	Holders           *int64    `json:"holders,omitempty"`
	ImageURL          *string   `json:"imageUrl,omitempty"`
	GraduationPercent *string   `json:"graduationPercent,omitempty"`
	LaunchpadProtocol *string   `json:"launchpadProtocol,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Event is the envelope carried over the in-process Event Bus.
type Event struct {
	Topic       string    `json:"topic"`
	AggregateID string    `json:"aggregateId"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// Event bus topics used internally.
const (
	TopicUserCreated           = "user.created"
	TopicWatchlistTokenAdded   = "user.watchlist.token.added"
	TopicWatchlistTokenRemoved = "user.watchlist.token.removed"
	TopicCommentCreated        = "comment.created"
	TopicEmojiReacted          = "emoji.reacted"
	TopicNewTokenCreated       = "new-token-created"
)
