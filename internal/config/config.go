package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL        = "https://speed.cloudflare.com"
	DefaultLatencySamples = 20
	DefaultRequestTimeout = 30 * time.Second
)

// DefaultProfile is the download plan used when none is configured.
var DefaultProfile = []string{"100kB:10", "1MB:8", "10MB:6", "25MB:4", "100MB:1"}

// Step is one entry of a download profile.
type Step struct {
	Bytes  int64
	Repeat int
}

// Label renders the payload size the way it is written in a profile, e.g. "100kB".
func (s Step) Label() string {
	return strings.ReplaceAll(humanize.SI(float64(s.Bytes), "B"), " ", "")
}

type Endpoints struct {
	Locations string
	Trace     string
	Download  string
	// Upload is not measured.
	Upload string
}

type Transport struct {
	IPv4      bool
	IPv6      bool
	Interface string
	Insecure  bool
}

type Output struct {
	JSON       bool
	HideIP     bool
	Verbose    bool
	NoProgress bool
}

// Config holds everything a run needs. It is built once and passed to the
// constructors that need it.
type Config struct {
	BaseURL        string
	Endpoints      Endpoints
	LatencySamples int
	Profile        []Step
	RequestTimeout time.Duration
	Transport      Transport
	Output         Output
}

// URL joins BaseURL with an endpoint path.
func (c *Config) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Default returns the built-in configuration.
func Default() *Config {
	profile, err := ParseProfile(DefaultProfile)
	if err != nil {
		panic(err)
	}
	return &Config{
		BaseURL: DefaultBaseURL,
		Endpoints: Endpoints{
			Locations: "/locations",
			Trace:     "/cdn-cgi/trace",
			Download:  "/__down",
			Upload:    "/__up",
		},
		LatencySamples: DefaultLatencySamples,
		Profile:        profile,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Validate reports settings that cannot produce a measurement.
func (c *Config) Validate() error {
	if c.Transport.IPv4 && c.Transport.IPv6 {
		return errors.New("--ipv4 (-4) and --ipv6 (-6) cannot be used together")
	}
	if c.LatencySamples <= 0 {
		return fmt.Errorf("latency samples must be a positive number, got %d", c.LatencySamples)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if len(c.Profile) == 0 {
		return errors.New("download profile is empty")
	}
	if c.BaseURL == "" {
		return errors.New("base URL is empty")
	}
	return nil
}

// ParseProfile parses entries of the form "size:count", where size accepts
// human units such as "100kB" or "1MB".
func ParseProfile(entries []string) ([]Step, error) {
	steps := make([]Step, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		size, count, ok := strings.Cut(e, ":")
		if !ok {
			return nil, fmt.Errorf("profile entry %q: expected size:count", e)
		}
		n, err := humanize.ParseBytes(strings.TrimSpace(size))
		if err != nil {
			return nil, fmt.Errorf("profile entry %q: %w", e, err)
		}
		repeat, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return nil, fmt.Errorf("profile entry %q: invalid count: %w", e, err)
		}
		if repeat <= 0 {
			return nil, fmt.Errorf("profile entry %q: count must be positive", e)
		}
		steps = append(steps, Step{Bytes: int64(n), Repeat: repeat})
	}
	return steps, nil
}

// splitProfile flattens profile entries given as one string, as environment
// variables are, e.g. "100kB:2,1MB:1" or "100kB:2 1MB:1".
func splitProfile(entries []string) []string {
	var out []string
	for _, e := range entries {
		out = append(out, strings.FieldsFunc(e, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})...)
	}
	return out
}

// RegisterFlags adds the command-line flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a config file (YAML, JSON or TOML).")
	fs.String("base-url", d.BaseURL, "Speed test endpoint base URL.")
	fs.IntP("latency-samples", "l", d.LatencySamples, "Number of latency samples.")
	fs.StringSliceP("profile", "p", DefaultProfile, "Download profile as size:count entries.")
	fs.Duration("timeout", d.RequestTimeout, "Timeout for each request.")
	fs.BoolP("ipv4", "4", false, "Use IPv4 only connection.")
	fs.BoolP("ipv6", "6", false, "Use IPv6 only connection.")
	fs.StringP("interface", "I", "", "Network interface or source IP address to use.")
	fs.Bool("insecure", false, "Skip TLS certificate verification (UNSAFE).")
	fs.BoolP("json", "j", false, "Output results in JSON format.")
	fs.Bool("hide-ip", false, "Hide the IP address in output.")
	fs.BoolP("verbose", "v", false, "Log every request and dropped sample.")
	fs.Bool("no-progress", false, "Do not draw progress bars.")
}

// bindings maps config keys to flag names.
var bindings = map[string]string{
	"base_url":            "base-url",
	"latency.samples":     "latency-samples",
	"download.profile":    "profile",
	"request_timeout":     "timeout",
	"transport.ipv4":      "ipv4",
	"transport.ipv6":      "ipv6",
	"transport.interface": "interface",
	"transport.insecure":  "insecure",
	"output.json":         "json",
	"output.hide_ip":      "hide-ip",
	"output.verbose":      "verbose",
	"output.no_progress":  "no-progress",
}

// Load merges flags, SPEED_* environment variables, an optional config file
// and defaults, in that order of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("endpoints.locations", d.Endpoints.Locations)
	v.SetDefault("endpoints.trace", d.Endpoints.Trace)
	v.SetDefault("endpoints.download", d.Endpoints.Download)
	v.SetDefault("endpoints.upload", d.Endpoints.Upload)
	v.SetDefault("latency.samples", d.LatencySamples)
	v.SetDefault("download.profile", DefaultProfile)
	v.SetDefault("request_timeout", d.RequestTimeout)

	v.SetEnvPrefix("SPEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range bindings {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	profile, err := ParseProfile(splitProfile(v.GetStringSlice("download.profile")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseURL: v.GetString("base_url"),
		Endpoints: Endpoints{
			Locations: v.GetString("endpoints.locations"),
			Trace:     v.GetString("endpoints.trace"),
			Download:  v.GetString("endpoints.download"),
			Upload:    v.GetString("endpoints.upload"),
		},
		LatencySamples: v.GetInt("latency.samples"),
		Profile:        profile,
		RequestTimeout: v.GetDuration("request_timeout"),
		Transport: Transport{
			IPv4:      v.GetBool("transport.ipv4"),
			IPv6:      v.GetBool("transport.ipv6"),
			Interface: v.GetString("transport.interface"),
			Insecure:  v.GetBool("transport.insecure"),
		},
		Output: Output{
			JSON:       v.GetBool("output.json"),
			HideIP:     v.GetBool("output.hide_ip"),
			Verbose:    v.GetBool("output.verbose"),
			NoProgress: v.GetBool("output.no_progress"),
		},
	}
	return cfg, cfg.Validate()
}
