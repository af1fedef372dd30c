package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/google/go-cmp/cmp"

	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/data"
	"github.com/idanyas/speedprobe/internal/output"
	"github.com/idanyas/speedprobe/internal/probe"
	"github.com/idanyas/speedprobe/internal/stats"
)

func quietLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.DebugLevel}
}

func newSpeedServer(t *testing.T, downStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cdn-cgi/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fl=1\ncolo=SJC\nip=1.2.3.4\nloc=US\n"))
	})
	mux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"iata":"SJC","city":"San Jose","cca2":"US"}]`))
	})
	mux.HandleFunc("/__down", func(w http.ResponseWriter, r *http.Request) {
		if downStatus != http.StatusOK {
			w.WriteHeader(downStatus)
			return
		}
		n, err := strconv.Atoi(r.URL.Query().Get("bytes"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set(probe.ServerTimingHeader, "cfRequestDuration;dur=0")
		w.Write(bytes.Repeat([]byte{'0'}, n))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *config.Config {
	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.LatencySamples = 4
	cfg.Profile = []config.Step{{Bytes: 0, Repeat: 2}, {Bytes: 10_000, Repeat: 2}, {Bytes: 50_000, Repeat: 1}}
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestRunSpeedTest(t *testing.T) {
	srv := newSpeedServer(t, http.StatusOK)
	var buf bytes.Buffer
	out := output.New(&buf, nil, false, false)

	res, err := RunSpeedTest(context.Background(), testConfig(srv), srv.Client(), quietLogger(), out)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data.ServerInfo{Location: "San Jose (SJC)", ClientIP: "1.2.3.4 (US)"}, res.Server); diff != "" {
		t.Fatal(diff)
	}
	if res.Latency.Attempts != 4 || res.Latency.Accepted != 4 {
		t.Fatalf("unexpected latency accounting %+v", res.Latency)
	}
	if res.Latency.Min <= 0 || res.Latency.Min > res.Latency.Max {
		t.Fatalf("unexpected latency summary %+v", res.Latency)
	}

	labels := make([]string, 0, len(res.Download))
	for _, tier := range res.Download {
		labels = append(labels, tier.Label)
		if tier.Summary == nil || tier.Summary.Avg <= 0 {
			t.Fatalf("expected throughput for %s", tier.Label)
		}
	}
	if diff := cmp.Diff([]string{"10kB", "50kB"}, labels); diff != "" {
		t.Fatal(diff)
	}
	if !strings.Contains(buf.String(), "Server Location: \tSan Jose (SJC)") {
		t.Fatalf("server info not printed: %q", buf.String())
	}
}

func TestRunSpeedTestFailsOnHTTPError(t *testing.T) {
	srv := newSpeedServer(t, http.StatusServiceUnavailable)
	out := output.New(&bytes.Buffer{}, nil, false, false)
	_, err := RunSpeedTest(context.Background(), testConfig(srv), srv.Client(), quietLogger(), out)
	if !errors.Is(err, probe.ErrHTTPStatus) {
		t.Fatal("expected ErrHTTPStatus, got", err)
	}
}

func TestRecords(t *testing.T) {
	lat := LatencyRecord(probe.LatencyResult{
		Attempts: 3,
		Samples:  []time.Duration{time.Millisecond, 3 * time.Millisecond},
		Summary: stats.Summary[time.Duration]{
			Count: 2, Minimum: time.Millisecond, Maximum: 3 * time.Millisecond,
			Average: 2 * time.Millisecond, Median: 2 * time.Millisecond, Jitter: 2 * time.Millisecond,
		},
	})
	want := data.Latency{Summary: data.Summary{Min: 1, Max: 3, Avg: 2, Median: 2, Jitter: 2}, Attempts: 3, Accepted: 2}
	if diff := cmp.Diff(want, lat); diff != "" {
		t.Fatal(diff)
	}

	tiers := TierRecords([]probe.TierResult{
		{Step: config.Step{Bytes: 1_000_000, Repeat: 2}, Attempts: 2},
	})
	if len(tiers) != 1 || tiers[0].Summary != nil || tiers[0].Label != "1MB" {
		t.Fatalf("unexpected tiers %+v", tiers)
	}
}
