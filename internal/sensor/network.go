package sensor

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// NetworkProbe returns a probe that reports whether a TCP connection to the
// host behind rawURL can be opened. The default port follows the scheme.
func NetworkProbe(rawURL string) (func(ctx context.Context) bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("URL %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	var d net.Dialer
	return func(ctx context.Context) bool {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, nil
}
