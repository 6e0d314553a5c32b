package datasource

import (
	"context"
	"sync"
	"time"

	"quant_trader/internal/core"
	"quant_trader/pkg/concurrency"
)

// BarFetcher is the slice of the manager the warmer needs.
type BarFetcher interface {
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error)
}

// Warmer prefetches bar history for a watchlist into the cache before a
// run, fanning the per-symbol fetches out on a worker pool so a long
// symbol list does not serialize on provider latency.
type Warmer struct {
	fetcher BarFetcher
	pool    *concurrency.WorkerPool
	logger  core.ILogger
}

func NewWarmer(fetcher BarFetcher, workers int, logger core.ILogger) *Warmer {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "cache_warmer",
		MaxWorkers: workers,
	}, logger)
	return &Warmer{
		fetcher: fetcher,
		pool:    pool,
		logger:  logger.WithField("component", "cache_warmer"),
	}
}

// WarmBars loads [start, end] history for every symbol. It returns the
// number of symbols warmed successfully; per-symbol failures are logged
// and counted, not fatal (the run will fetch those on demand).
func (w *Warmer) WarmBars(ctx context.Context, symbols []string, start, end time.Time, adjust string) (int, error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		warmed int
		failed int
	)

	began := time.Now()
	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			if _, err := w.fetcher.GetDailyBars(ctx, symbol, start, end, adjust); err != nil {
				w.logger.Warn("warm fetch failed", "symbol", symbol, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			warmed++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			w.logger.Warn("warm task rejected by pool", "symbol", symbol, "error", err)
			mu.Lock()
			failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	w.logger.Info("cache warm finished",
		"symbols", len(symbols), "warmed", warmed, "failed", failed,
		"elapsed", time.Since(began).String())
	return warmed, ctx.Err()
}

// Stop drains the pool.
func (w *Warmer) Stop() {
	w.pool.Stop()
}
