package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/google/go-cmp/cmp"

	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/data"
)

func quietLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.DebugLevel}
}

func newServer(t *testing.T, trace, locations string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cdn-cgi/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(trace))
	})
	mux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(locations))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newResolver(srv *httptest.Server) *Resolver {
	cfg := config.Default()
	cfg.BaseURL = srv.URL
	return NewResolver(cfg, srv.Client(), quietLogger())
}

func TestResolveServerInfo(t *testing.T) {
	srv := newServer(t,
		"colo=SJC\nip=1.2.3.4\nloc=US\n",
		`[{"iata":"LAX","city":"Los Angeles"},{"iata":"SJC","city":"San Jose"}]`)

	got, err := newResolver(srv).ResolveServerInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := data.ServerInfo{Location: "San Jose (SJC)", ClientIP: "1.2.3.4 (US)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestResolveServerInfoUnknownEdge(t *testing.T) {
	srv := newServer(t, "colo=XXX\nip=1.2.3.4\nloc=US\n", `[{"iata":"SJC","city":"San Jose"}]`)
	_, err := newResolver(srv).ResolveServerInfo(context.Background())
	if !errors.Is(err, ErrUnknownEdge) {
		t.Fatal("expected ErrUnknownEdge, got", err)
	}
}

func TestResolveServerInfoMalformedTrace(t *testing.T) {
	srv := newServer(t, "colo=SJC\ngarbage\n", `[]`)
	_, err := newResolver(srv).ResolveServerInfo(context.Background())
	if !errors.Is(err, ErrMalformedTrace) {
		t.Fatal("expected ErrMalformedTrace, got", err)
	}
}

func TestResolveServerInfoBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := newResolver(srv).ResolveServerInfo(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseTrace(t *testing.T) {
	got, err := ParseTrace(strings.NewReader("fl=1\r\nh=speed.cloudflare.com\n\nip=1.2.3.4\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"fl": "1", "h": "speed.cloudflare.com", "ip": "1.2.3.4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}

	for _, body := range []string{"novalue\n", "a=b=c\n"} {
		if _, err := ParseTrace(strings.NewReader(body)); !errors.Is(err, ErrMalformedTrace) {
			t.Fatalf("%q: expected ErrMalformedTrace, got %v", body, err)
		}
	}
}

func TestEdgeFromTraceMissingKey(t *testing.T) {
	_, err := EdgeFromTrace(map[string]string{"colo": "SJC", "ip": "1.2.3.4"})
	if !errors.Is(err, ErrMissingTraceKey) {
		t.Fatal("expected ErrMissingTraceKey, got", err)
	}
}

func TestFindLocationFirstMatchWins(t *testing.T) {
	locs := []data.Location{
		{IATA: "SJC", City: "San Jose"},
		{IATA: "SJC", City: "Duplicate"},
	}
	got, err := FindLocation("SJC", locs)
	if err != nil {
		t.Fatal(err)
	}
	if got.City != "San Jose" {
		t.Fatalf("expected the first match, got %q", got.City)
	}
}

func TestFetchLocationsSorted(t *testing.T) {
	srv := newServer(t, "", `[{"iata":"SJC","city":"San Jose"},{"iata":"AMS","city":"Amsterdam","cca2":"NL"}]`)
	locs, err := newResolver(srv).FetchLocations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 2 || locs[0].IATA != "AMS" || locs[0].CCA2 != "NL" {
		t.Fatalf("unexpected locations %+v", locs)
	}
}

func TestServerInfoString(t *testing.T) {
	info := data.ServerInfo{Location: `"San Jose" (SJC)`, ClientIP: "1.2.3.4 (US)"}
	want := "Server Location: \tSan Jose (SJC)\nYour IP: \t\t1.2.3.4 (US)\n"
	if got := info.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
