package tester

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"h12.io/socks"
)

// socks4Dialer dials through a SOCKS4 proxy (not 4a): h12.io/socks
// resolves target names locally to an IPv4 address.
type socks4Dialer struct {
	dial func(network, addr string) (net.Conn, error)
}

func newSOCKS4(addr string, opts url.Values) *socks4Dialer {
	u := url.URL{Scheme: "socks4", Host: addr, RawQuery: opts.Encode()}
	return &socks4Dialer{dial: socks.Dial(u.String())}
}

func (d *socks4Dialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

// DialContext abandons the dial when ctx ends first.
func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := d.dial(network, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("socks4: %w", r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
