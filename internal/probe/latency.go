package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/stats"
)

// LatencyResult holds the accepted samples and their summary.
type LatencyResult struct {
	Attempts int
	Samples  []time.Duration
	Summary  stats.Summary[time.Duration]
}

type LatencyProber struct {
	fetcher   *Fetcher
	samples   int
	logger    log.Interface
	callbacks Callbacks
}

func NewLatencyProber(cfg *config.Config, f *Fetcher, logger log.Interface, cb Callbacks) *LatencyProber {
	if cb == nil {
		cb = NopCallbacks{}
	}
	return &LatencyProber{
		fetcher:   f,
		samples:   cfg.LatencySamples,
		logger:    logger,
		callbacks: cb,
	}
}

// Measure issues zero-byte requests and summarizes the network time of each.
// It fails with stats.ErrNoData when every sample was dropped.
func (p *LatencyProber) Measure(ctx context.Context) (LatencyResult, error) {
	res := LatencyResult{Samples: make([]time.Duration, 0, p.samples)}
	for i := 0; i < p.samples; i++ {
		obs, err := p.fetcher.Fetch(ctx, 0)
		if err != nil {
			return LatencyResult{}, fmt.Errorf("latency sample %d: %w", i+1, err)
		}
		res.Attempts++
		if d, ok := obs.NetworkTime(); ok {
			res.Samples = append(res.Samples, d)
		} else {
			p.logger.WithFields(log.Fields{
				"elapsed":      obs.Elapsed,
				"server_delay": obs.ServerDelay,
			}).Debug("dropped latency sample")
		}
		p.callbacks.OnProgress(i+1, p.samples, "latency")
	}

	summary, err := stats.Summarize(res.Samples)
	if err != nil {
		return LatencyResult{}, fmt.Errorf("latency: %w", err)
	}
	res.Summary = summary
	return res, nil
}
