// Package sources produces candidate proxies for the pool. Each source
// type registers itself by name; configured sources refer to a type.
package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"proxyhealth/internal/config"
	"proxyhealth/internal/model"
)

// ErrUnknownSource is returned for source names or types that are not
// configured or registered.
var ErrUnknownSource = errors.New("unknown source")

// Candidate is a proxy address found by a source.
type Candidate struct {
	Host     string
	Port     int
	Protocol model.Protocol
}

type Source interface {
	Collect(ctx context.Context, params map[string]interface{}) ([]Candidate, error)
}

type Factory func() Source

var registry = make(map[string]Factory)

func Register(name string, factory Factory) {
	registry[name] = factory
}

func Get(name string) (Source, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", ErrUnknownSource, name)
	}
	return factory(), nil
}

// Select returns the configured sources with the given names, in the
// order given. No names selects every configured source.
func Select(cfg *config.Config, names []string) ([]config.SourceConfig, error) {
	if len(names) == 0 {
		return cfg.Sources, nil
	}
	out := make([]config.SourceConfig, 0, len(names))
	for _, name := range names {
		sc, ok := cfg.FindSource(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not configured", ErrUnknownSource, name)
		}
		out = append(out, sc)
	}
	return out, nil
}

// ParseList extracts candidates from a plain-text list with one
// "host:port" or "scheme://host:port" per line. Blank lines, '#'
// comments and malformed entries are skipped. Duplicates are dropped.
// A line too long to scan ends the list with an error; the candidates
// read before it are still returned.
func ParseList(text string, protocol model.Protocol) ([]Candidate, error) {
	if protocol == "" {
		protocol = model.ProtocolHTTP
	}

	var out []Candidate
	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		// Some lists append country or anonymity columns.
		line = strings.Fields(line)[0]

		c, ok := parseEntry(line, protocol)
		if !ok {
			continue
		}
		key := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("parse list: %w", err)
	}
	return out, nil
}

func parseEntry(line string, protocol model.Protocol) (Candidate, bool) {
	if strings.Contains(line, "://") {
		u, err := url.Parse(line)
		if err != nil {
			return Candidate{}, false
		}
		p, err := model.ParseProtocol(u.Scheme)
		if err != nil {
			return Candidate{}, false
		}
		protocol = p
		line = u.Host
	}

	host, portStr, err := net.SplitHostPort(line)
	if err != nil || host == "" {
		return Candidate{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || !model.ValidPort(port) {
		return Candidate{}, false
	}
	return Candidate{Host: host, Port: port, Protocol: protocol}, true
}

// ProtocolParam reads the optional "protocol" param.
func ProtocolParam(params map[string]interface{}) (model.Protocol, error) {
	s, _ := params["protocol"].(string)
	return model.ParseProtocol(s)
}
