package probe

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/stats"
)

// TierResult is the outcome of one profile step. Summary is nil when all of
// the step's samples were dropped.
type TierResult struct {
	Step     config.Step
	Attempts int
	Samples  []float64
	Summary  *stats.Summary[float64]
}

type BandwidthProber struct {
	fetcher   *Fetcher
	profile   []config.Step
	logger    log.Interface
	callbacks Callbacks
}

func NewBandwidthProber(cfg *config.Config, f *Fetcher, logger log.Interface, cb Callbacks) *BandwidthProber {
	if cb == nil {
		cb = NopCallbacks{}
	}
	return &BandwidthProber{
		fetcher:   f,
		profile:   cfg.Profile,
		logger:    logger,
		callbacks: cb,
	}
}

// Steps returns the profile entries that are measured, in order. Zero-byte
// entries carry no throughput information and are skipped.
func (p *BandwidthProber) Steps() []config.Step {
	steps := make([]config.Step, 0, len(p.profile))
	for _, s := range p.profile {
		if s.Bytes > 0 {
			steps = append(steps, s)
		}
	}
	return steps
}

// Measure runs every step in profile order, one request at a time, and
// summarizes each step independently.
func (p *BandwidthProber) Measure(ctx context.Context) ([]TierResult, error) {
	steps := p.Steps()
	total := 0
	for _, s := range steps {
		total += s.Repeat
	}

	results := make([]TierResult, 0, len(steps))
	done := 0
	for _, step := range steps {
		tier := TierResult{Step: step, Samples: make([]float64, 0, step.Repeat)}
		for i := 0; i < step.Repeat; i++ {
			obs, err := p.fetcher.Fetch(ctx, step.Bytes)
			if err != nil {
				return nil, fmt.Errorf("download %s sample %d: %w", step.Label(), i+1, err)
			}
			tier.Attempts++
			if d, ok := obs.NetworkTime(); ok {
				tier.Samples = append(tier.Samples, Throughput(step.Bytes, d))
			} else {
				p.logger.WithFields(log.Fields{
					"bytes":        step.Bytes,
					"elapsed":      obs.Elapsed,
					"server_delay": obs.ServerDelay,
				}).Debug("dropped throughput sample")
			}
			done++
			p.callbacks.OnProgress(done, total, "download "+step.Label())
		}

		if summary, err := stats.Summarize(tier.Samples); err == nil {
			tier.Summary = &summary
		} else {
			p.logger.WithField("step", step.Label()).Warn("no valid throughput samples")
		}
		results = append(results, tier)
	}
	return results, nil
}
