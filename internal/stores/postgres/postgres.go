// Package postgres is the system-of-record store for users, comments, and
// watchlist entries, backing the KV cache that Comment/Reaction/Watchlist
// engines read through on the hot path. Grounded on the teacher's
// connection-wrapper pattern (internal/stores/redis/conn.go,
// internal/stores/clickhouse/conn.go: dial once at startup, fail fast,
// wrap the driver's native client), adapted to pgxpool since this domain
// needs transactional relational writes the teacher's stores never did.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokenserver/internal/apperr"
	"tokenserver/internal/config"
	"tokenserver/internal/domain"
)

type Pool struct {
	*pgxpool.Pool
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{pool}, nil
}

// Health pings the pool.
func (p *Pool) Health(ctx context.Context) error {
	if err := p.Pool.Ping(ctx); err != nil {
		return apperr.Transient("postgres health check", err)
	}
	return nil
}

// Repository implements the relational side of C11/C13: users, comments,
// watchlist membership.
type Repository struct {
	pool *Pool
}

func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateUserByWallet implements the "get-or-upsert user by wallet"
// step used by both the Comment and Watchlist engines.
func (r *Repository) GetOrCreateUserByWallet(ctx context.Context, wallet string) (int64, error) {
	wallet = domain.LowerAddress(wallet)

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address, created_at)
		VALUES ($1, now())
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING id
	`, wallet).Scan(&id)
	if err != nil {
		return 0, apperr.Transient("get-or-create user", err)
	}
	return id, nil
}

func (r *Repository) FindUserByWallet(ctx context.Context, wallet string) (int64, bool, error) {
	wallet = domain.LowerAddress(wallet)

	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE wallet_address = $1`, wallet).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Transient("find user by wallet", err)
	}
	return id, true, nil
}

// InsertComment persists one comment row.
func (r *Repository) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO comments (id, token_address, user_id, wallet_address, content, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.TokenAddress, c.UserID, c.WalletAddress, c.Content, c.CreatedAt, c.Status)
	if err != nil {
		return apperr.Transient("insert comment", err)
	}
	return nil
}

// LatestComments returns up to limit comments for tokenAddress, newest
// first.
func (r *Repository) LatestComments(ctx context.Context, tokenAddress string, limit int) ([]domain.Comment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, token_address, user_id, wallet_address, content, created_at, status
		FROM comments
		WHERE token_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, domain.LowerAddress(tokenAddress), limit)
	if err != nil {
		return nil, apperr.Transient("query latest comments", err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TokenAddress, &c.UserID, &c.WalletAddress, &c.Content, &c.CreatedAt, &c.Status); err != nil {
			return nil, apperr.Transient("scan comment", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneComments is the best-effort, non-transactional pruning decided in
// DESIGN.md: delete everything beyond the newest 50 rows for a token,
// issued right after the insert rather than inside the same transaction.
func (r *Repository) PruneComments(ctx context.Context, tokenAddress string, keep int) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM comments
		WHERE token_address = $1
		AND id NOT IN (
			SELECT id FROM comments WHERE token_address = $1 ORDER BY created_at DESC LIMIT $2
		)
	`, domain.LowerAddress(tokenAddress), keep)
	if err != nil {
		return apperr.Transient("prune comments", err)
	}
	return nil
}

// InsertWatchlistEntries batch-inserts with skip-duplicates on the
// (user_id, token_address) unique constraint, returning how many tokens
// were actually newly inserted.
func (r *Repository) InsertWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Transient("begin watchlist tx", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	now := time.Now()
	for _, token := range tokens {
		tag, err := tx.Exec(ctx, `
			INSERT INTO watchlist_entries (user_id, token_address, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id, token_address) DO NOTHING
		`, userID, domain.LowerAddress(token), now)
		if err != nil {
			return 0, apperr.Transient("insert watchlist entry", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Transient("commit watchlist tx", err)
	}
	return inserted, nil
}

// ExistingWatchlistTokens returns the subset of tokens already on the
// user's watchlist.
func (r *Repository) ExistingWatchlistTokens(ctx context.Context, userID int64, tokens []string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token_address FROM watchlist_entries WHERE user_id = $1 AND token_address = ANY($2)
	`, userID, tokens)
	if err != nil {
		return nil, apperr.Transient("query existing watchlist", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, apperr.Transient("scan watchlist token", err)
		}
		out[addr] = struct{}{}
	}
	return out, rows.Err()
}

// DeleteWatchlistEntries removes the given tokens from userID's watchlist,
// returning the count actually removed.
func (r *Repository) DeleteWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM watchlist_entries WHERE user_id = $1 AND token_address = ANY($2)
	`, userID, tokens)
	if err != nil {
		return 0, apperr.Transient("delete watchlist entries", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListWatchlist paginates a user's watchlist, newest first.
func (r *Repository) ListWatchlist(ctx context.Context, userID int64, limit, offset int) ([]domain.WatchlistEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM watchlist_entries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Transient("count watchlist", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, token_address, created_at, updated_at
		FROM watchlist_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Transient("query watchlist page", err)
	}
	defer rows.Close()

	var out []domain.WatchlistEntry
	for rows.Next() {
		var e domain.WatchlistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenAddress, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, apperr.Transient("scan watchlist entry", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *Repository) CountWatchlist(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM watchlist_entries WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, apperr.Transient("count watchlist", err)
	}
	return n, nil
}

func (r *Repository) ContainsWatchlist(ctx context.Context, userID int64, token string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM watchlist_entries WHERE user_id = $1 AND token_address = $2)
	`, userID, domain.LowerAddress(token)).Scan(&exists)
	if err != nil {
		return false, apperr.Transient("check watchlist membership", err)
	}
	return exists, nil
}
