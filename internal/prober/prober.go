package prober

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/clash-tidy/internal/clash"
	"github.com/clash-tidy/internal/metrics"
)

// Delayer measures one endpoint. *clash.Client satisfies this; tests
// substitute their own.
type Delayer interface {
	ProbeDelay(ctx context.Context, name string) clash.Result
}

// Options tune one batch run.
type Options struct {
	// MaxRPS caps probe submission rate. 0 means unlimited.
	MaxRPS float64

	// OnProgress is called after every completed probe with the
	// number done so far and the batch total. May be nil.
	OnProgress func(done, total int)

	Metrics *metrics.Collector
}

// Run probes every name in the list concurrently and returns all
// results once the last probe completes. Results arrive in completion
// order, not submission order. A failed probe is a normal outcome and
// never aborts the batch; cancellation stops the collection promptly.
func Run(ctx context.Context, d Delayer, names []string, opts Options) []clash.Result {
	total := len(names)
	if total == 0 {
		return nil
	}

	var submitLimiter *rate.Limiter
	if opts.MaxRPS > 0 {
		submitLimiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}

	resultCh := make(chan clash.Result, total)
	var wg sync.WaitGroup

	startTime := time.Now()

	for _, name := range names {
		if submitLimiter != nil {
			if err := submitLimiter.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			resultCh <- d.ProbeDelay(ctx, endpoint)
		}(name)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var completed atomic.Int64
	results := make([]clash.Result, 0, total)

	for result := range resultCh {
		results = append(results, result)
		done := int(completed.Add(1))

		if opts.Metrics != nil {
			if result.Alive {
				opts.Metrics.RecordProbeSuccess(float64(result.DelayMs) / 1000.0)
			} else {
				opts.Metrics.RecordProbeFailure()
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}
	}

	log.Debugf("batch complete: %d/%d probes in %v", len(results), total, time.Since(startTime))
	return results
}
