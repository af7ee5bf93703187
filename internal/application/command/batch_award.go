package command

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
	"github.com/redmansion/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH AWARD COMMAND
// Replays a list of awards, e.g. a reseeding job. Items run concurrently and
// persistence failures are retried; a retried award is safe because its
// guard record either committed with it or not at all.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBatchConcurrency bounds concurrent awards in a batch.
const DefaultBatchConcurrency = 8

// BatchAwardConfig contains configuration for the batch handler.
type BatchAwardConfig struct {
	// Concurrency is the number of awards in flight.
	Concurrency int

	// RatePerSecond throttles awards so a reseed does not starve live
	// traffic. Zero disables throttling.
	RatePerSecond float64

	// Burst is the limiter bucket size. Defaults to Concurrency.
	Burst int
}

// BatchItemResult is the outcome of one award in a batch.
type BatchItemResult struct {
	Index   int
	Command AwardXPCommand
	Result  *AwardResult
	Err     error
}

// BatchAwardResult summarizes a batch.
type BatchAwardResult struct {
	Items      []BatchItemResult
	Applied    int
	Duplicates int
	Failed     int
	Duration   time.Duration
}

// BatchAwardHandler runs many awards through an AwardXPHandler.
type BatchAwardHandler struct {
	award       *AwardXPHandler
	retrier     *retry.Retrier
	limiter     *rate.Limiter
	concurrency int
	log         *logger.Logger
}

// NewBatchAwardHandler creates a new BatchAwardHandler.
func NewBatchAwardHandler(award *AwardXPHandler, config BatchAwardConfig, log *logger.Logger) *BatchAwardHandler {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultBatchConcurrency
	}
	if config.Burst <= 0 {
		config.Burst = config.Concurrency
	}
	if log == nil {
		log = logger.Nop()
	}

	h := &BatchAwardHandler{award: award, concurrency: config.Concurrency, log: log}
	if config.RatePerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst)
	}
	h.retrier = retry.StoreRetrier(shared.IsRetryable, func(attempt int, err error, delay time.Duration) {
		h.log.Warn("retrying award after store failure",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
	return h
}

// Handle runs every command. A failing item never stops the others; its
// error is reported in its BatchItemResult.
func (h *BatchAwardHandler) Handle(ctx context.Context, cmds []AwardXPCommand) (*BatchAwardResult, error) {
	start := time.Now()
	items := make([]BatchItemResult, len(cmds))

	var applied, duplicates, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(h.concurrency)

	for i, cmd := range cmds {
		i, cmd := i, cmd // per-iteration copy (go.mod targets 1.21 loop semantics)
		g.Go(func() error {
			item := BatchItemResult{Index: i, Command: cmd}
			if h.limiter != nil {
				if err := h.limiter.Wait(ctx); err != nil {
					item.Err = err
					failed.Add(1)
					items[i] = item
					return nil
				}
			}
			item.Err = h.retrier.Do(ctx, func(ctx context.Context) error {
				res, err := h.award.Handle(ctx, cmd)
				if err != nil {
					return err
				}
				item.Result = res
				return nil
			})

			switch {
			case item.Err != nil:
				failed.Add(1)
			case item.Result.IsDuplicate:
				duplicates.Add(1)
			default:
				applied.Add(1)
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchAwardResult{
		Items:      items,
		Applied:    int(applied.Load()),
		Duplicates: int(duplicates.Load()),
		Failed:     int(failed.Load()),
		Duration:   time.Since(start),
	}

	h.log.Info("batch award finished",
		logger.Int("total", len(cmds)),
		logger.Int("applied", result.Applied),
		logger.Int("duplicates", result.Duplicates),
		logger.Int("failed", result.Failed),
		logger.Latency(result.Duration),
	)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch_award: %w", err)
	}
	return result, nil
}
