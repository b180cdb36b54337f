package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/publishers"

	"github.com/cenkalti/backoff/v4"
)

// Publisher commits the payload to a file in a GitHub repository through
// the contents API.
type Publisher struct{}

type githubFileRequest struct {
	Message string `json:"message"`
	Content string `json:"content"` // Base64 encoded content
	Sha     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type githubFileResponse struct {
	Sha string `json:"sha"`
}

type target struct {
	client *http.Client
	apiURL string
	token  string
	branch string
}

func (p *Publisher) Publish(ctx context.Context, proxies []model.Proxy, params map[string]interface{}) error {
	payload, err := publishers.GeneratePayload(proxies, params)
	if err != nil {
		return err
	}

	token, _ := params["token"].(string)
	owner, _ := params["owner"].(string)
	repo, _ := params["repo"].(string)
	path, _ := params["path"].(string)
	branch, _ := params["branch"].(string)
	msg, _ := params["message"].(string)

	apiBase, _ := params["api_url"].(string)
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	retries := uint64(2)
	if r, ok := params["retries"].(int); ok && r >= 0 {
		retries = uint64(r)
	}

	if token == "" || owner == "" || repo == "" || path == "" {
		return fmt.Errorf("github publisher requires token, owner, repo, and path")
	}
	if msg == "" {
		msg = "Update proxy list [proxyhealth]"
	}

	t := &target{
		client: &http.Client{Timeout: 30 * time.Second},
		apiURL: fmt.Sprintf("%s/repos/%s/%s/contents/%s", apiBase, owner, repo, strings.TrimPrefix(path, "/")),
		token:  token,
		branch: branch,
	}

	if proxyStr, ok := params["proxy_url"].(string); ok && proxyStr != "" {
		if u, err := url.Parse(proxyStr); err == nil {
			t.client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
			logger.Log.Debugf("GitHub publisher using proxy: %s", proxyStr)
		}
	}

	retry := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
	}

	var sha string
	err = backoff.Retry(func() error {
		var err error
		sha, err = t.currentSha(ctx)
		return err
	}, retry())
	if err != nil {
		return fmt.Errorf("github fetch failed: %w", err)
	}

	body, err := json.Marshal(githubFileRequest{
		Message: msg,
		Content: base64.StdEncoding.EncodeToString([]byte(payload)),
		Sha:     sha,
		Branch:  branch,
	})
	if err != nil {
		return err
	}

	err = backoff.Retry(func() error { return t.upload(ctx, body) }, retry())
	if err != nil {
		return fmt.Errorf("github upload failed: %w", err)
	}
	logger.Log.Debugf("GitHub: published %d proxies to %s", len(proxies), path)
	return nil
}

func (t *target) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.apiURL, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	return req, nil
}

// currentSha returns the blob sha of the existing file, or "" when the
// file does not exist yet.
func (t *target) currentSha(ctx context.Context) (string, error) {
	req, err := t.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return "", err
	}
	if t.branch != "" {
		q := req.URL.Query()
		q.Add("ref", t.branch)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		logger.Log.Debugf("GitHub: file not found, creating new...")
		return "", nil
	case resp.StatusCode == http.StatusOK:
		var existing githubFileResponse
		if err := json.NewDecoder(resp.Body).Decode(&existing); err != nil {
			return "", backoff.Permanent(fmt.Errorf("failed to parse github response: %w", err))
		}
		logger.Log.Debugf("GitHub: file exists (SHA: %s), updating...", existing.Sha)
		return existing.Sha, nil
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return "", backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
}

func (t *target) upload(ctx context.Context, body []byte) error {
	req, err := t.newRequest(ctx, http.MethodPut, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

func init() {
	publishers.Register("github", func() publishers.Publisher { return &Publisher{} })
}
