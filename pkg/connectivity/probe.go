package connectivity

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultTCPAddress = "8.8.8.8:53"
	DefaultTimeout    = 3 * time.Second
)

// DefaultHTTPURLs are tried in order when the TCP probe fails. The IP literal
// comes first so the check does not depend on DNS.
var DefaultHTTPURLs = []string{"http://1.1.1.1", "http://www.google.com"}

// NetProber dials a well-known TCP endpoint and falls back to HTTP fetches.
// A zero Timeout means DefaultTimeout.
type NetProber struct {
	TCPAddress string
	HTTPURLs   []string
	Timeout    time.Duration

	dialer *net.Dialer
	client *http.Client
}

// NewNetProber builds a prober, filling unset fields with defaults.
func NewNetProber(tcpAddress string, httpURLs []string, timeout time.Duration) *NetProber {
	if tcpAddress == "" {
		tcpAddress = DefaultTCPAddress
	}
	if len(httpURLs) == 0 {
		httpURLs = DefaultHTTPURLs
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &NetProber{
		TCPAddress: tcpAddress,
		HTTPURLs:   httpURLs,
		Timeout:    timeout,
		dialer:     &net.Dialer{Timeout: timeout},
		client:     &http.Client{Timeout: timeout},
	}
}

// Reachable implements Prober. Success at any stage reports reachable.
func (p *NetProber) Reachable(ctx context.Context) bool {
	if p.dialTCP(ctx) {
		return true
	}

	for _, url := range p.HTTPURLs {
		if p.fetch(ctx, url) {
			return true
		}
	}

	return false
}

func (p *NetProber) dialTCP(ctx context.Context) bool {
	if p.TCPAddress == "" {
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	dialer := p.dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: p.timeout()}
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", p.TCPAddress)
	if err != nil {
		return false
	}
	_ = conn.Close()

	return true
}

func (p *NetProber) fetch(ctx context.Context, url string) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	client := p.client
	if client == nil {
		client = &http.Client{Timeout: p.timeout()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	// Error statuses count as a failed stage.
	return resp.StatusCode < http.StatusBadRequest
}

func (p *NetProber) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}

	return p.Timeout
}
