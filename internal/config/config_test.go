package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestParseProfile(t *testing.T) {
	got, err := ParseProfile(DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	want := []Step{
		{Bytes: 100_000, Repeat: 10},
		{Bytes: 1_000_000, Repeat: 8},
		{Bytes: 10_000_000, Repeat: 6},
		{Bytes: 25_000_000, Repeat: 4},
		{Bytes: 100_000_000, Repeat: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseProfileErrors(t *testing.T) {
	for _, entry := range []string{"100kB", "abc:1", "1MB:x", "1MB:0", "1MB:-2"} {
		t.Run(entry, func(t *testing.T) {
			if _, err := ParseProfile([]string{entry}); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestStepLabel(t *testing.T) {
	cases := map[int64]string{
		0:           "0B",
		100_000:     "100kB",
		1_000_000:   "1MB",
		25_000_000:  "25MB",
		100_000_000: "100MB",
	}
	for bytes, want := range cases {
		if got := (Step{Bytes: bytes}).Label(); got != want {
			t.Fatalf("%d: expected %q, got %q", bytes, want, got)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speed.yaml")
	content := []byte(`
base_url: http://127.0.0.1:8080
latency:
  samples: 5
download:
  profile: ["1MB:2"]
request_timeout: 5s
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(newFlagSet(t, "--config", path, "-l", "7"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected base URL %q", cfg.BaseURL)
	}
	if cfg.LatencySamples != 7 {
		t.Fatalf("expected flag to win, got %d", cfg.LatencySamples)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
	if diff := cmp.Diff([]Step{{Bytes: 1_000_000, Repeat: 2}}, cfg.Profile); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SPEED_LATENCY_SAMPLES", "3")
	cfg, err := Load(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LatencySamples != 3 {
		t.Fatalf("expected 3, got %d", cfg.LatencySamples)
	}
}

func TestLoadEnvironmentProfile(t *testing.T) {
	want := []Step{{Bytes: 100_000, Repeat: 2}, {Bytes: 1_000_000, Repeat: 1}}
	for _, value := range []string{"100kB:2,1MB:1", "100kB:2 1MB:1", "100kB:2, 1MB:1"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("SPEED_DOWNLOAD_PROFILE", value)
			cfg, err := Load(newFlagSet(t))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, cfg.Profile); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"both families":    func(c *Config) { c.Transport.IPv4, c.Transport.IPv6 = true, true },
		"zero samples":     func(c *Config) { c.LatencySamples = 0 },
		"zero timeout":     func(c *Config) { c.RequestTimeout = 0 },
		"empty profile":    func(c *Config) { c.Profile = nil },
		"missing base url": func(c *Config) { c.BaseURL = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestURL(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "https://example.com/"
	if got := cfg.URL("/cdn-cgi/trace"); got != "https://example.com/cdn-cgi/trace" {
		t.Fatalf("unexpected URL %q", got)
	}
}
