package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// ParseProtocol accepts the protocol names case-sensitively as stored.
// An empty string defaults to HTTP.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case "":
		return ProtocolHTTP, nil
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBlocked  Status = "blocked"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUnknown, StatusActive, StatusInactive, StatusBlocked:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// DefaultScore is the neutral score of a proxy that has never been probed.
const DefaultScore = 50

// Proxy is one pooled proxy. Host and Port together are unique.
type Proxy struct {
	ID   uint   `gorm:"primaryKey"`
	Host string `gorm:"uniqueIndex:idx_proxy_key;not null"`
	Port int    `gorm:"uniqueIndex:idx_proxy_key;not null"`

	Protocol Protocol
	Status   Status `gorm:"index"`
	Score    int    `gorm:"index"`

	SuccessCount int
	FailCount    int

	LastChecked *time.Time `gorm:"index"`
	LastUsed    *time.Time
	CreatedAt   time.Time

	// Newest entry last, at most HistoryLimit entries.
	History []Check `gorm:"serializer:json"`

	Source string

	// Descriptive metadata, passed through untouched.
	Country   string
	City      string
	Anonymity string
	Metadata  map[string]string `gorm:"serializer:json"`
}

// NewProxy returns a freshly discovered candidate: unknown status,
// neutral score, zero counters.
func NewProxy(host string, port int, protocol Protocol, source string) *Proxy {
	if protocol == "" {
		protocol = ProtocolHTTP
	}
	return &Proxy{
		Host:      host,
		Port:      port,
		Protocol:  protocol,
		Status:    StatusUnknown,
		Score:     DefaultScore,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// Address returns "host:port", bracketing IPv6 hosts.
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy URL, e.g. "socks5://1.2.3.4:1080".
func (p *Proxy) URL() string {
	proto := p.Protocol
	if proto == "" {
		proto = ProtocolHTTP
	}
	return fmt.Sprintf("%s://%s", proto, p.Address())
}

// ValidPort reports whether port is a usable TCP port.
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// Check is one entry of a proxy's validation history.
type Check struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	LatencyMS *int      `json:"latency_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
	Blocked   bool      `json:"blocked"`
}

// Outcome is the classified result of a single probe, or of a usage
// report from a consumer of the proxy. LatencyMS is nil when the request
// never completed.
type Outcome struct {
	Success   bool
	LatencyMS *int
	Error     string
	Blocked   bool
}

// Latency is a helper for building outcomes with a known latency.
func Latency(ms int) *int {
	return &ms
}
