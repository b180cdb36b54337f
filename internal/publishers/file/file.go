package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/publishers"
)

// Publisher writes the payload to a local file, replacing it atomically.
type Publisher struct{}

func (p *Publisher) Publish(ctx context.Context, proxies []model.Proxy, params map[string]interface{}) error {
	path, _ := params["path"].(string)
	if path == "" {
		return fmt.Errorf("file publisher requires path")
	}

	payload, err := publishers.GeneratePayload(proxies, params)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(payload + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	logger.Log.Debugf("Wrote %d proxies to %s", len(proxies), path)
	return nil
}

func init() {
	publishers.Register("file", func() publishers.Publisher { return &Publisher{} })
}
