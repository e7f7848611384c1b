package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"gitlab.com/nevasik7/alerting"

	"tokenserver/internal/config"
)

// PoolDiscoveryRow is one classified TokenRecord, appended for every
// successful scan merge — the scanner's audit trail beyond the sliding
// in-memory window.
type PoolDiscoveryRow struct {
	EventTime      time.Time
	PoolID         string
	AppType        string
	CoinType       string
	TokenAddress   string
	TokenSymbol    string
	HumanPrice     string
	DiscoveryBlock uint64
	SchemaVersion  uint16
}

// EngagementEventRow is one accepted comment or reaction, appended for
// query-able engagement history beyond the capped KV lists.
type EngagementEventRow struct {
	EventTime     time.Time
	EventType     string // "comment" | "reaction"
	TokenAddress  string
	WalletAddress string
	Detail        string // comment content, or "kind:increment" for a reaction
	SchemaVersion uint16
}

// Writer batches rows of one row type into periodic INSERTs, retrying with
// exponential backoff per batch. Grounded on the teacher's enqueue/flush/
// retry-with-backoff shape (internal/stores/clickhouse/writer.go), made
// generic over the row type and the insert statement so both analytics
// tables this domain needs (pool_discoveries, engagement_events) reuse the
// same channel-buffered batching loop instead of duplicating it.
type Writer[T any] struct {
	alert alerting.Alerting

	conn       ch.Conn
	cfg        config.ClickHouseWriterConfig
	insertStmt string
	appendRow  func(b driver.Batch, row T) error

	inCh      chan T
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWriter[T any](alert alerting.Alerting, conn ch.Conn, cfg config.ClickHouseWriterConfig, insertStmt string, appendRow func(b driver.Batch, row T) error) *Writer[T] {
	if cfg.BatchMaxRows <= 0 {
		cfg.BatchMaxRows = 1000
	}
	if cfg.BatchMaxInterval <= 0 {
		cfg.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer[T]{
		alert:      alert,
		conn:       conn,
		cfg:        cfg,
		insertStmt: insertStmt,
		appendRow:  appendRow,
		inCh:       make(chan T, 8192),
		closedCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// NewPoolDiscoveryWriter batches PoolDiscoveryRow into pool_discoveries.
func NewPoolDiscoveryWriter(alert alerting.Alerting, conn ch.Conn, cfg config.ClickHouseWriterConfig) *Writer[PoolDiscoveryRow] {
	return newWriter(alert, conn, cfg, `
		INSERT INTO pool_discoveries (
			event_time, pool_id, app_type, coin_type, token_address,
			token_symbol, human_price, discovery_block, schema_version
		)
	`, func(b driver.Batch, r PoolDiscoveryRow) error {
		return b.Append(r.EventTime, r.PoolID, r.AppType, r.CoinType, r.TokenAddress,
			r.TokenSymbol, r.HumanPrice, r.DiscoveryBlock, r.SchemaVersion)
	})
}

// NewEngagementWriter batches EngagementEventRow into engagement_events.
func NewEngagementWriter(alert alerting.Alerting, conn ch.Conn, cfg config.ClickHouseWriterConfig) *Writer[EngagementEventRow] {
	return newWriter(alert, conn, cfg, `
		INSERT INTO engagement_events (
			event_time, event_type, token_address, wallet_address, detail, schema_version
		)
	`, func(b driver.Batch, r EngagementEventRow) error {
		return b.Append(r.EventTime, r.EventType, r.TokenAddress, r.WalletAddress, r.Detail, r.SchemaVersion)
	})
}

func (w *Writer[T]) Enqueue(row T) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

func (w *Writer[T]) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer[T]) loop() {
	defer w.wg.Done()

	batch := make([]T, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.alert.ErrorfLogAndAlert("clickhouse writer: insert %d rows into %s: %v", len(batch), w.insertStmt, err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closedCh:
		}
	}
}

func (w *Writer[T]) insertBatch(ctx context.Context, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	backoff := w.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		b, err := w.conn.PrepareBatch(ctx, w.insertStmt)
		if err != nil {
			lastErr = err
			goto retry
		}

		for _, r := range rows {
			if err = w.appendRow(b, r); err != nil {
				lastErr = err
				_ = b.Abort()
				goto retry
			}
		}

		if err = b.Send(); err != nil {
			lastErr = err
			goto retry
		}
		return nil

	retry:
		if attempt == w.cfg.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
