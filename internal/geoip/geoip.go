package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Service resolves proxy hosts to a country and city from a MaxMind City
// database. A nil *Service is valid and resolves nothing.
type Service struct {
	reader *geoip2.Reader
}

// Open loads the MMDB file at cityPath. An empty path disables
// enrichment and returns a nil Service.
func Open(cityPath string) (*Service, error) {
	if cityPath == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open City DB at %s: %w", cityPath, err)
	}
	return &Service{reader: reader}, nil
}

type GeoResult struct {
	Country string
	City    string
}

// Lookup resolves host, which may be an IP or a hostname.
func (s *Service) Lookup(host string) (*GeoResult, error) {
	if s == nil || s.reader == nil {
		return nil, fmt.Errorf("geoip database not initialized")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("dns lookup failed for %s", host)
		}
		ip = ips[0]
	}

	rec, err := s.reader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("city lookup for %s: %w", ip, err)
	}
	return &GeoResult{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}, nil
}

func (s *Service) Close() {
	if s != nil && s.reader != nil {
		s.reader.Close()
	}
}
