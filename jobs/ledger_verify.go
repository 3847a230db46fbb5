package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// LedgerVerifier is satisfied by *inventory.Service.
type LedgerVerifier interface {
	Keys(ctx context.Context, after inventory.StockKey, limit int) ([]inventory.StockKey, error)
	Verify(ctx context.Context, key inventory.StockKey) (inventory.VerifyResult, error)
}

// LedgerVerifyJob checks that every stored stock row equals the replay of its
// ledger and that each entry's running balance chains onto the previous one.
type LedgerVerifyJob struct {
	Verifier LedgerVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// LedgerVerifySummary is the outcome of one run.
type LedgerVerifySummary struct {
	Rows       int
	Mismatches int
}

// NewLedgerVerifyJob initialises the verification handler.
func NewLedgerVerifyJob(verifier LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerVerifyJob {
	return &LedgerVerifyJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle executes the asynq task.
func (j *LedgerVerifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger verify: handler not configured")
	}
	var payload LedgerVerifyPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger verify: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskLedgerVerify)
	defer func() {
		err = tracker.End(err)
	}()
	_, err = j.Run(ctx, payload)
	return err
}

// Run pages through every stock row and verifies them concurrently.
func (j *LedgerVerifyJob) Run(ctx context.Context, payload LedgerVerifyPayload) (LedgerVerifySummary, error) {
	payload = payload.withDefaults()
	logger := j.logger().With(slog.Int("batch_size", payload.BatchSize))
	start := time.Now()
	logger.Info("starting ledger verification")

	var rows, mismatches atomic.Int64
	var after inventory.StockKey
	for {
		keys, err := j.Verifier.Keys(ctx, after, payload.BatchSize)
		if err != nil {
			logger.Error("list stock keys", slog.Any("error", err))
			return LedgerVerifySummary{}, err
		}
		if len(keys) == 0 {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(payload.Concurrency)
		for _, key := range keys {
			g.Go(func() error {
				res, err := j.Verifier.Verify(gctx, key)
				if err != nil {
					return fmt.Errorf("verify %s: %w", key, err)
				}
				rows.Add(1)
				if !res.OK() {
					mismatches.Add(1)
					logger.Warn("stock ledger mismatch",
						slog.Int64("location_id", key.LocationID),
						slog.Int64("product_id", key.ProductID),
						slog.Int64("variant_id", key.VariantID),
						slog.Int64("stored", res.Stored),
						slog.Int64("replayed", res.Replayed),
						slog.Any("chain_breaks", res.ChainBreaks),
					)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.Error("ledger verification failed", slog.Any("error", err))
			return LedgerVerifySummary{}, err
		}
		if len(keys) < payload.BatchSize {
			break
		}
		after = keys[len(keys)-1]
	}

	summary := LedgerVerifySummary{Rows: int(rows.Load()), Mismatches: int(mismatches.Load())}
	j.Metrics.SetLedgerMismatches(summary.Mismatches)
	logger.Info("completed ledger verification",
		slog.Int("rows", summary.Rows),
		slog.Int("mismatches", summary.Mismatches),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *LedgerVerifyJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
