package file

import (
	"context"
	"fmt"
	"os"

	"proxyhealth/internal/sources"
)

// FileSource reads a local proxy list.
type FileSource struct{}

func (s *FileSource) Collect(ctx context.Context, params map[string]interface{}) ([]sources.Candidate, error) {
	path, ok := params["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing 'path' in source config")
	}
	protocol, err := sources.ProtocolParam(params)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	return sources.ParseList(string(data), protocol)
}

func init() {
	sources.Register("file", func() sources.Source {
		return &FileSource{}
	})
}
