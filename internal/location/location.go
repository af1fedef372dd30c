package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/client"
	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/data"
)

var (
	ErrMalformedTrace  = errors.New("malformed trace line")
	ErrMissingTraceKey = errors.New("trace is missing a required key")
	ErrUnknownEdge     = errors.New("no location matches the active edge")
)

// Resolver identifies the serving edge by joining the trace endpoint with the
// location table.
type Resolver struct {
	client    client.Doer
	logger    log.Interface
	locations string
	trace     string
}

func NewResolver(cfg *config.Config, c client.Doer, logger log.Interface) *Resolver {
	return &Resolver{
		client:    c,
		logger:    logger,
		locations: cfg.URL(cfg.Endpoints.Locations),
		trace:     cfg.URL(cfg.Endpoints.Trace),
	}
}

// ResolveServerInfo fetches both datasets and renders the joined result.
func (r *Resolver) ResolveServerInfo(ctx context.Context) (data.ServerInfo, error) {
	locs, err := r.FetchLocations(ctx)
	if err != nil {
		return data.ServerInfo{}, fmt.Errorf("failed to get locations: %w", err)
	}
	edge, err := r.ActiveEdge(ctx)
	if err != nil {
		return data.ServerInfo{}, fmt.Errorf("failed to get trace: %w", err)
	}
	loc, err := FindLocation(edge.Colo, locs)
	if err != nil {
		return data.ServerInfo{}, err
	}
	r.logger.WithFields(log.Fields{"colo": edge.Colo, "city": loc.City}).Debug("resolved edge")
	return ServerInfo(edge, loc), nil
}

// FetchLocations returns the location table sorted by IATA code.
func (r *Resolver) FetchLocations(ctx context.Context) ([]data.Location, error) {
	body, err := r.get(ctx, r.locations)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var locations []data.Location
	if err := json.NewDecoder(body).Decode(&locations); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}

	sort.SliceStable(locations, func(i, j int) bool {
		return locations[i].IATA < locations[j].IATA
	})
	return locations, nil
}

// ActiveEdge fetches and parses the trace endpoint.
func (r *Resolver) ActiveEdge(ctx context.Context) (data.ActiveEdge, error) {
	body, err := r.get(ctx, r.trace)
	if err != nil {
		return data.ActiveEdge{}, err
	}
	defer body.Close()

	trace, err := ParseTrace(body)
	if err != nil {
		return data.ActiveEdge{}, err
	}
	return EdgeFromTrace(trace)
}

func (r *Resolver) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	r.logger.WithField("url", url).Debug("GET")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// ParseTrace parses newline separated key=value pairs. Blank lines are
// skipped; any other line without exactly one '=' is an error.
func ParseTrace(r io.Reader) (map[string]string, error) {
	info := make(map[string]string)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.Count(line, "=") != 1 {
			return nil, fmt.Errorf("%w %d: %q", ErrMalformedTrace, lineNo, line)
		}
		k, v, _ := strings.Cut(line, "=")
		info[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return info, nil
}

// EdgeFromTrace extracts the colo, ip and loc keys.
func EdgeFromTrace(trace map[string]string) (data.ActiveEdge, error) {
	for _, k := range []string{"colo", "ip", "loc"} {
		if _, ok := trace[k]; !ok {
			return data.ActiveEdge{}, fmt.Errorf("%w: %q", ErrMissingTraceKey, k)
		}
	}
	return data.ActiveEdge{
		Colo:     trace["colo"],
		ClientIP: trace["ip"],
		Loc:      trace["loc"],
	}, nil
}

// FindLocation returns the first location whose IATA code equals iata.
func FindLocation(iata string, locs []data.Location) (data.Location, error) {
	for _, loc := range locs {
		if loc.IATA == iata {
			return loc, nil
		}
	}
	return data.Location{}, fmt.Errorf("%w: %q", ErrUnknownEdge, iata)
}

func ServerInfo(edge data.ActiveEdge, loc data.Location) data.ServerInfo {
	return data.ServerInfo{
		Location: fmt.Sprintf("%s (%s)", loc.City, loc.IATA),
		ClientIP: fmt.Sprintf("%s (%s)", edge.ClientIP, edge.Loc),
	}
}
