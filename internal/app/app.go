package app

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/client"
	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/data"
	"github.com/idanyas/speedprobe/internal/location"
	"github.com/idanyas/speedprobe/internal/output"
	"github.com/idanyas/speedprobe/internal/probe"
	"github.com/idanyas/speedprobe/internal/stats"
)

// RunSpeedTest resolves the serving edge, then measures latency and download
// throughput, printing each part as soon as it is available. The probes run
// one after another and share nothing but the HTTP client.
func RunSpeedTest(ctx context.Context, cfg *config.Config, c client.Doer, logger log.Interface, out *output.Printer) (*data.TestResult, error) {
	resolver := location.NewResolver(cfg, c, logger)
	server, err := resolver.ResolveServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server info: %w", err)
	}
	server = out.ServerInfo(server)

	fetcher := probe.NewFetcher(cfg, c, logger)

	latency, err := probe.NewLatencyProber(cfg, fetcher, logger, callbacks(out)).Measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("latency test failed: %w", err)
	}
	lat := LatencyRecord(latency)
	out.Latency(lat)

	tiers, err := probe.NewBandwidthProber(cfg, fetcher, logger, callbacks(out)).Measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("download test failed: %w", err)
	}
	download := TierRecords(tiers)
	out.Tiers(download)

	return &data.TestResult{
		Provider: "cloudflare",
		Server:   server,
		Latency:  lat,
		Download: download,
	}, nil
}

func callbacks(out *output.Printer) probe.Callbacks {
	if p := out.NewProgress(); p != nil {
		return p
	}
	return probe.NopCallbacks{}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// LatencyRecord converts a latency result to milliseconds.
func LatencyRecord(r probe.LatencyResult) data.Latency {
	s := r.Summary
	return data.Latency{
		Summary: data.Summary{
			Min:    millis(s.Minimum),
			Max:    millis(s.Maximum),
			Avg:    millis(s.Average),
			Median: millis(s.Median),
			Jitter: millis(s.Jitter),
		},
		Attempts: r.Attempts,
		Accepted: len(r.Samples),
	}
}

// TierRecords converts bandwidth results, keeping profile order.
func TierRecords(tiers []probe.TierResult) []data.Tier {
	out := make([]data.Tier, 0, len(tiers))
	for _, t := range tiers {
		rec := data.Tier{
			Label:    t.Step.Label(),
			Bytes:    t.Step.Bytes,
			Attempts: t.Attempts,
			Accepted: len(t.Samples),
		}
		if t.Summary != nil {
			rec.Summary = throughput(*t.Summary)
		}
		out = append(out, rec)
	}
	return out
}

func throughput(s stats.Summary[float64]) *data.Summary {
	return &data.Summary{
		Min:    s.Minimum,
		Max:    s.Maximum,
		Avg:    s.Average,
		Median: s.Median,
		Jitter: s.Jitter,
	}
}
