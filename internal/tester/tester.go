package tester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"proxyhealth/internal/config"
	"proxyhealth/internal/model"

	"golang.org/x/net/proxy"
)

// maxBody caps how much of the target's response is inspected.
const maxBody = 256 << 10

type Tester struct {
	cfg        config.TesterConfig
	signatures []string
}

func New(cfg config.TesterConfig) *Tester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	sigs := make([]string, 0, len(cfg.BlockSignatures))
	for _, s := range cfg.BlockSignatures {
		if s = strings.TrimSpace(s); s != "" {
			sigs = append(sigs, strings.ToLower(s))
		}
	}
	return &Tester{cfg: cfg, signatures: sigs}
}

// Probe performs one request to the target through p and classifies the
// response. It never fails; every failure mode is described by the
// returned Outcome.
func (t *Tester) Probe(ctx context.Context, p model.Proxy) model.Outcome {
	client, err := t.MakeClient(p)
	if err != nil {
		return model.Outcome{Error: "proxy error: " + err.Error()}
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.TargetURL, nil)
	if err != nil {
		return model.Outcome{Error: "invalid target: " + err.Error()}
	}
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return model.Outcome{Error: classifyTransport(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return model.Outcome{Error: classifyTransport(err)}
	}
	latency := model.Latency(int(time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Outcome{LatencyMS: latency, Error: fmt.Sprintf("invalid status code: %d", resp.StatusCode)}
	}
	if t.isBlocked(body) {
		return model.Outcome{LatencyMS: latency, Error: "blocked", Blocked: true}
	}
	if !t.validShape(body) {
		return model.Outcome{LatencyMS: latency, Error: "invalid response format"}
	}
	return model.Outcome{Success: true, LatencyMS: latency}
}

func (t *Tester) isBlocked(body []byte) bool {
	if len(t.signatures) == 0 {
		return false
	}
	text := strings.ToLower(string(body))
	for _, sig := range t.signatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

// validShape checks that the body is a JSON object carrying the expected
// echo field. Any other payload is a mismatch, never an error.
func (t *Tester) validShape(body []byte) bool {
	if t.cfg.ExpectField == "" {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields[t.cfg.ExpectField]
	return ok
}

func classifyTransport(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset"
	}
	return "proxy error: " + err.Error()
}

// MakeClient returns a one-shot client routed through p. HTTP and HTTPS
// proxies are both reached over plain HTTP, tunnelling TLS targets with
// CONNECT. SOCKS5 is dialed through x/net/proxy, SOCKS4 through
// h12.io/socks.
func (t *Tester) MakeClient(p model.Proxy) (*http.Client, error) {
	base := &net.Dialer{
		Timeout:   t.cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		DialContext:           base.DialContext,
		TLSHandshakeTimeout:   t.cfg.Timeout,
		ResponseHeaderTimeout: t.cfg.Timeout,
		DisableKeepAlives:     true,
	}

	switch p.Protocol {
	case model.ProtocolHTTP, model.ProtocolHTTPS, "":
		tr.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: p.Address()})
	case model.ProtocolSOCKS4:
		opts := url.Values{}
		opts.Set("timeout", t.cfg.Timeout.String())
		tr.DialContext = newSOCKS4(p.Address(), opts).DialContext
	case model.ProtocolSOCKS5:
		u, err := url.Parse(p.URL())
		if err != nil {
			return nil, err
		}
		d, err := proxy.FromURL(u, base)
		if err != nil {
			return nil, err
		}
		tr.DialContext = contextDialer(d)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", p.Protocol)
	}

	return &http.Client{Transport: tr}, nil
}

func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}
