package stdout

import (
	"context"
	"fmt"
	"io"
	"os"

	"proxyhealth/internal/model"
	"proxyhealth/internal/publishers"
)

type Publisher struct {
	out io.Writer
}

func (p *Publisher) Publish(ctx context.Context, proxies []model.Proxy, params map[string]interface{}) error {
	payload, err := publishers.GeneratePayload(proxies, params)
	if err != nil {
		return err
	}

	fmt.Fprintln(p.out, "========== PUBLISHED PROXIES ==========")
	fmt.Fprintln(p.out, payload)
	fmt.Fprintln(p.out, "=======================================")
	return nil
}

func init() {
	publishers.Register("stdout", func() publishers.Publisher { return &Publisher{out: os.Stdout} })
}
