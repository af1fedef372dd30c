package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/gwatts/rootcerts"

	"github.com/idanyas/speedprobe/internal/config"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BrowserTransport adds the headers the speed test endpoint expects from a
// browser and disables caching of measurement responses.
type BrowserTransport struct {
	Transport http.RoundTripper
	Referer   string
}

func (t *BrowserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", userAgent)
	}
	if t.Referer != "" {
		clone.Header.Set("Referer", t.Referer)
	}
	clone.Header.Set("Accept-Language", "en-US,en;q=0.9")
	clone.Header.Set("Accept", "*/*")
	clone.Header.Set("Cache-Control", "no-cache")

	return t.Transport.RoundTrip(clone)
}

// family is the dial network implied by the IPv4/IPv6 switches.
func family(tc config.Transport) string {
	switch {
	case tc.IPv4:
		return "tcp4"
	case tc.IPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

func matchesFamily(network string, ip net.IP) bool {
	switch network {
	case "tcp4":
		return ip.To4() != nil
	case "tcp6":
		return ip.To4() == nil
	default:
		return true
	}
}

// NewHTTPClient builds the single client shared by every probe of a run.
// Requests are issued one at a time, so one idle connection is enough.
func NewHTTPClient(cfg *config.Config, logger log.Interface) (*http.Client, error) {
	tc := cfg.Transport
	if tc.IPv4 && tc.IPv6 {
		return nil, errors.New("IPv4-only and IPv6-only are mutually exclusive")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	src, err := localAddr(tc.Interface, tc.IPv4, tc.IPv6)
	if err != nil {
		return nil, err
	}

	network := family(tc)
	if src != nil {
		if src.IP.To4() != nil {
			if tc.IPv6 {
				return nil, fmt.Errorf("cannot bind to IPv4 address %s when --ipv6 is specified", src.IP)
			}
			network = "tcp4"
		} else {
			if tc.IPv4 {
				return nil, fmt.Errorf("cannot bind to IPv6 address %s when --ipv4 is specified", src.IP)
			}
			network = "tcp6"
		}
	}

	dialer := &net.Dialer{
		Timeout:   cfg.RequestTimeout,
		KeepAlive: 30 * time.Second,
	}
	if src != nil {
		dialer.LocalAddr = src
	}

	tlsConfig := &tls.Config{
		ServerName:         base.Hostname(),
		InsecureSkipVerify: tc.Insecure,
	}
	if !tc.Insecure {
		tlsConfig.RootCAs = rootcerts.ServerCertPool()
		if tlsConfig.RootCAs == nil {
			return nil, errors.New("unable to obtain a root CA pool")
		}
	}

	res := newResolver(network, tlsConfig.RootCAs, tc.Insecure, logger)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address format: %w", err)
			}
			if ip := net.ParseIP(host); ip != nil {
				if !matchesFamily(network, ip) {
					return nil, fmt.Errorf("target IP address %s does not match required network type %s", host, network)
				}
				return dialer.DialContext(ctx, network, addr)
			}

			ips, err := res.lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
			}

			var firstErr error
			for _, ip := range ips {
				// A blackholed address must not stall the whole run.
				dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				conn, err := dialer.DialContext(dialCtx, network, net.JoinHostPort(ip.String(), port))
				cancel()
				if err == nil {
					return conn, nil
				}
				if firstErr == nil {
					firstErr = err
				}
			}
			return nil, fmt.Errorf("connection failed to all resolved IPs for %s (first error: %v)", addr, firstErr)
		},
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       tlsConfig,
	}

	return &http.Client{
		Transport: &BrowserTransport{Transport: transport, Referer: base.Scheme + "://" + base.Host + "/"},
		Timeout:   cfg.RequestTimeout,
	}, nil
}

// localAddr resolves an interface name or literal IP to a source address.
func localAddr(interfaceOrIP string, ipv4Only, ipv6Only bool) (*net.TCPAddr, error) {
	if interfaceOrIP == "" {
		return nil, nil
	}

	if ip := net.ParseIP(interfaceOrIP); ip != nil {
		isIPv4 := ip.To4() != nil
		if ipv4Only && !isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv4, but --ipv4 flag was specified", interfaceOrIP)
		}
		if ipv6Only && isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv6, but --ipv6 flag was specified", interfaceOrIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(interfaceOrIP)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", interfaceOrIP, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", interfaceOrIP, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	if ip := pickSourceIP(ips, ipv4Only, ipv6Only); ip != nil {
		return &net.TCPAddr{IP: ip}, nil
	}

	want := "any"
	if ipv4Only {
		want = "IPv4"
	} else if ipv6Only {
		want = "IPv6"
	}
	return nil, fmt.Errorf("no suitable %s IP address found for interface %q", want, interfaceOrIP)
}

// pickSourceIP prefers global IPv6, then IPv4, then link-local IPv6.
func pickSourceIP(ips []net.IP, ipv4Only, ipv6Only bool) net.IP {
	var v4, linkLocal net.IP
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		if ip.To4() != nil {
			if !ipv6Only && v4 == nil {
				v4 = ip
			}
			continue
		}
		if ipv4Only {
			continue
		}
		if !ip.IsLinkLocalUnicast() {
			return ip
		}
		if linkLocal == nil {
			linkLocal = ip
		}
	}
	if v4 != nil {
		return v4
	}
	return linkLocal
}
