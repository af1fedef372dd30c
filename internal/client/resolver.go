package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/miekg/dns"
)

type strategy struct {
	name   string
	lookup func(ctx context.Context, host string) ([]net.IP, error)
}

// resolver tries the system resolver first and falls back to DNS over HTTPS
// and then plain UDP queries against public resolvers.
type resolver struct {
	network    string
	logger     log.Interface
	strategies []strategy

	doh        *http.Transport
	dnsClient  *dns.Client
	doHServers []dohServer
	udpServers []string
}

type dohServer struct {
	addr string
	sni  string
}

func newResolver(network string, rootCAs *x509.CertPool, insecure bool, logger log.Interface) *resolver {
	r := &resolver{
		network: network,
		logger:  logger,
		doHServers: []dohServer{
			{"1.1.1.1:443", "cloudflare-dns.com"},
			{"8.8.8.8:443", "dns.google"},
			{"[2606:4700:4700::1111]:443", "cloudflare-dns.com"},
			{"[2001:4860:4860::8888]:443", "dns.google"},
		},
		udpServers: []string{"1.1.1.1:53", "8.8.8.8:53", "[2606:4700:4700::1111]:53"},
		dnsClient:  &dns.Client{Net: "udp", Timeout: 3 * time.Second},
	}
	r.doh = &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:            rootCAs,
			InsecureSkipVerify: insecure,
		},
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	r.strategies = []strategy{
		{"system", r.system},
		{"doh", r.lookupDoH},
		{"direct", r.direct},
	}
	return r
}

func (r *resolver) lookup(ctx context.Context, host string) ([]net.IP, error) {
	var errs []error
	for _, s := range r.strategies {
		ips, err := s.lookup(ctx, host)
		ips = filterIPs(ips, r.network)
		if err == nil && len(ips) > 0 {
			return ips, nil
		}
		if err == nil {
			err = errors.New("no usable addresses")
		}
		r.logger.WithFields(log.Fields{"host": host, "method": s.name}).WithError(err).Debug("resolution failed")
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (r *resolver) qtypes() []uint16 {
	switch r.network {
	case "tcp4":
		return []uint16{dns.TypeA}
	case "tcp6":
		return []uint16{dns.TypeAAAA}
	default:
		return []uint16{dns.TypeA, dns.TypeAAAA}
	}
}

func (r *resolver) system(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func (r *resolver) lookupDoH(ctx context.Context, host string) ([]net.IP, error) {
	var lastErr error
	for _, qtype := range r.qtypes() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true
		packed, err := m.Pack()
		if err != nil {
			return nil, err
		}
		query := base64.RawURLEncoding.EncodeToString(packed)

		for _, srv := range r.doHServers {
			if !serverMatchesFamily(r.network, srv.addr) {
				continue
			}
			ips, err := r.dohQuery(ctx, srv, query)
			if err != nil {
				lastErr = err
				continue
			}
			if len(ips) > 0 {
				return ips, nil
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no answers")
	}
	return nil, lastErr
}

func (r *resolver) dohQuery(ctx context.Context, srv dohServer, query string) ([]net.IP, error) {
	// The DoH server is addressed by IP so that resolving it cannot recurse.
	u := fmt.Sprintf("https://%s/dns-query?dns=%s", srv.addr, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Host = srv.sni
	req.Header.Set("Accept", "application/dns-message")

	tr := r.doh.Clone()
	tr.TLSClientConfig.ServerName = srv.sni
	c := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", srv.sni, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, err
	}
	return answers(msg), nil
}

func (r *resolver) direct(ctx context.Context, host string) ([]net.IP, error) {
	var lastErr error
	for _, qtype := range r.qtypes() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		for _, srv := range r.udpServers {
			if !serverMatchesFamily(r.network, srv) {
				continue
			}
			resp, _, err := r.dnsClient.ExchangeContext(ctx, m, srv)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("%s: %s", srv, dns.RcodeToString[resp.Rcode])
				continue
			}
			if ips := answers(resp); len(ips) > 0 {
				return ips, nil
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no answers")
	}
	return nil, lastErr
}

func answers(msg *dns.Msg) []net.IP {
	var ips []net.IP
	for _, rr := range msg.Answer {
		switch a := rr.(type) {
		case *dns.A:
			ips = append(ips, a.A)
		case *dns.AAAA:
			ips = append(ips, a.AAAA)
		}
	}
	return ips
}

func filterIPs(ips []net.IP, network string) []net.IP {
	out := ips[:0:0]
	for _, ip := range ips {
		if ip.IsUnspecified() {
			continue
		}
		if matchesFamily(network, ip) {
			out = append(out, ip)
		}
	}
	return out
}

func serverMatchesFamily(network, addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && matchesFamily(network, ip)
}
