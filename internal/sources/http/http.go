package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/sources"
)

// URLSource downloads a proxy list.
type URLSource struct{}

func (s *URLSource) Collect(ctx context.Context, params map[string]interface{}) ([]sources.Candidate, error) {
	targetURL, ok := params["url"].(string)
	if !ok || targetURL == "" {
		return nil, fmt.Errorf("missing 'url' in source config")
	}
	protocol, err := sources.ProtocolParam(params)
	if err != nil {
		return nil, err
	}

	timeout := 60 * time.Second
	if v, ok := params["timeout"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}
	client := &http.Client{Timeout: timeout}

	// Optional upstream proxy for fetching the list itself
	if proxyStr, ok := params["proxy_url"].(string); ok && proxyStr != "" {
		pURL, err := url.Parse(proxyStr)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy_url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(pURL)}
		logger.Log.Debugf("URL source using proxy: %s", proxyStr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if ua, ok := params["user_agent"].(string); ok && ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	logger.Log.Debugf("Fetching URL: %s", targetURL)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return sources.ParseList(string(body), protocol)
}

func init() {
	sources.Register("url", func() sources.Source {
		return &URLSource{}
	})
}
