// Package httpclient is the outbound HTTP client used by data-provider
// collectors. Provider endpoints come from operator config, so every
// request is screened before it leaves: http(s) schemes only, no userinfo
// in URLs, and no destinations that are or resolve to loopback, private,
// or other special-purpose address space.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fathomdata/tidemark/errors"
)

const (
	maxRedirects = 10
	dialTimeout  = 30 * time.Second
)

// Client wraps http.Client with destination screening.
type Client struct {
	*http.Client
	allowPrivate bool
}

// New returns a screened client for fetching from external providers.
func New(timeout time.Duration) *Client {
	c := &Client{Client: &http.Client{Timeout: timeout}}
	c.CheckRedirect = c.checkRedirect
	c.Transport = &http.Transport{
		DialContext:           c.dialScreened,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return c
}

// NewInsecure returns a client without destination screening. Tests use it
// to reach httptest servers on loopback; nothing else should.
func NewInsecure(timeout time.Duration) *Client {
	c := &Client{
		Client:       &http.Client{Timeout: timeout},
		allowPrivate: true,
	}
	c.CheckRedirect = c.checkRedirect
	return c
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.Newf("stopped after %d redirects", maxRedirects)
	}
	if err := c.screenURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	return nil
}

// dialScreened resolves the host and refuses forbidden destinations, so
// DNS answers are screened too, not just literal hostnames.
func (c *Client) dialScreened(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid address")
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve host %q", host)
	}
	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return nil, errors.Newf("host %s resolves to blocked address %s", host, ip)
		}
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: dialTimeout}
	return d.DialContext(ctx, network, addr)
}

// screenURL rejects URLs a configured provider endpoint should never
// produce.
func (c *Client) screenURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}

	// http://evil.com@internal-host/ shapes
	if u.User != nil {
		return errors.New("URL userinfo not allowed")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhostName(host) {
		return errors.Newf("blocked hostname %q", host)
	}
	if ip := net.ParseIP(host); ip != nil && isForbiddenIP(ip) {
		return errors.Newf("blocked address %s", host)
	}
	return nil
}

// ValidateURL screens a URL string without sending anything.
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.screenURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get fetches a URL after screening it.
func (c *Client) Get(raw string) (*http.Response, error) {
	if _, err := c.ValidateURL(raw); err != nil {
		return nil, err
	}
	return c.Client.Get(raw)
}

// Do executes a request after screening its URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.screenURL(req.URL); err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}

// isForbiddenIP reports whether an address cannot be a public provider
// endpoint: loopback, RFC 1918 and ULA, link-local, multicast,
// unspecified, and the reserved 240.0.0.0/4 block.
func isForbiddenIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] >= 240
	}
	return false
}

func isLocalhostName(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
