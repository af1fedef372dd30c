package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/client"
	"github.com/idanyas/speedprobe/internal/config"
)

var (
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	ErrShortBody  = errors.New("response body shorter than requested")
)

// Observation is the raw timing of one download request.
type Observation struct {
	Bytes       int64
	Elapsed     time.Duration
	ServerDelay time.Duration
}

// NetworkTime applies the validity rule to the observation.
func (o Observation) NetworkTime() (time.Duration, bool) {
	return NetworkTime(o.Elapsed, o.ServerDelay)
}

// Fetcher issues single download requests and times them. It is not safe
// for concurrent use; samples must be taken one at a time.
type Fetcher struct {
	client  client.Doer
	url     string
	timeout time.Duration
	logger  log.Interface
	now     func() time.Time
}

func NewFetcher(cfg *config.Config, c client.Doer, logger log.Interface) *Fetcher {
	return &Fetcher{
		client:  c,
		url:     cfg.URL(cfg.Endpoints.Download),
		timeout: cfg.RequestTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Fetch downloads n bytes and reports how long the request took from just
// before sending until the body was fully read.
func (f *Fetcher) Fetch(ctx context.Context, n int64) (Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	u, err := url.Parse(f.url)
	if err != nil {
		return Observation{}, err
	}
	q := u.Query()
	q.Set("bytes", strconv.FormatInt(n, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Observation{}, err
	}

	start := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Observation{}, err
	}
	defer resp.Body.Close()

	received, err := io.Copy(io.Discard, resp.Body)
	elapsed := f.now().Sub(start)
	if err != nil {
		return Observation{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	if received < n {
		return Observation{}, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, received, n)
	}

	delay, err := ParseServerTiming(resp.Header)
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{Bytes: n, Elapsed: elapsed, ServerDelay: delay}
	f.logger.WithFields(log.Fields{
		"bytes":        n,
		"elapsed":      elapsed,
		"server_delay": delay,
	}).Debug("fetch")
	return obs, nil
}
