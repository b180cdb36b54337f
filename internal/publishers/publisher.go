package publishers

import (
	"context"
	"fmt"
	"strings"

	"proxyhealth/internal/config"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"
)

// Publisher hands a selection of the pool to some destination.
type Publisher interface {
	Publish(ctx context.Context, proxies []model.Proxy, params map[string]interface{}) error
}

type Factory func() Publisher

var registry = make(map[string]Factory)

func Register(name string, factory Factory) {
	registry[name] = factory
}

func Get(name string) (Publisher, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("publisher plugin '%s' not found", name)
	}
	return factory(), nil
}

// Filter turns a publisher's selection settings into a store filter.
func Filter(pc config.PublisherConfig) (store.Filter, error) {
	f := store.Filter{MinScore: pc.MinScore, Limit: pc.Limit}
	if pc.Status == "" || strings.EqualFold(pc.Status, "any") {
		return f, nil
	}
	status, err := model.ParseStatus(strings.ToLower(pc.Status))
	if err != nil {
		return f, fmt.Errorf("publisher %s: %w", pc.Name, err)
	}
	f.Status = status
	return f, nil
}
