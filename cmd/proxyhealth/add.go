package main

import (
	"proxyhealth/internal/geoip"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"

	"github.com/spf13/cobra"
)

var (
	flagAddProtocol string
	flagAddSource   string
	flagAddMeta     map[string]string
)

var addCmd = &cobra.Command{
	Use:   "add HOST PORT",
	Short: "Add a candidate proxy to the pool",
	Long:  `Adds a proxy with unknown status and a neutral score. Adding a proxy that is already stored only refreshes its protocol, source and metadata.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		host, port, err := parseKey(args)
		if err != nil {
			logger.Log.Fatal(err)
		}
		protocol, err := model.ParseProtocol(flagAddProtocol)
		if err != nil {
			logger.Log.Fatal(err)
		}

		cfg := mustLoadConfig()
		ctx := cmd.Context()

		geo, err := geoip.Open(cfg.GeoIP.CityPath)
		if err != nil {
			logger.Log.Warnf("GeoIP disabled: %v", err)
		}
		defer geo.Close()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		p := model.NewProxy(host, port, protocol, flagAddSource)
		p.Metadata = flagAddMeta
		enrich(geo, p)

		created, err := st.Upsert(ctx, p)
		if err != nil {
			logger.Log.Fatalf("Failed to add proxy: %v", err)
		}
		if created {
			logger.Log.Infof("➕ Added %s (%s)", p.Address(), p.Protocol)
		} else {
			logger.Log.Infof("🔁 %s already in pool, details refreshed", p.Address())
		}
	},
}

// enrich fills in location details when a GeoIP database is available.
func enrich(geo *geoip.Service, p *model.Proxy) {
	if geo == nil {
		return
	}
	res, err := geo.Lookup(p.Host)
	if err != nil {
		logger.Log.Debugf("GeoIP lookup for %s failed: %v", p.Host, err)
		return
	}
	p.Country, p.City = res.Country, res.City
}

func init() {
	addCmd.Flags().StringVar(&flagAddProtocol, "protocol", "http", "Proxy protocol (http, https, socks4, socks5)")
	addCmd.Flags().StringVar(&flagAddSource, "source", "manual", "Where the proxy came from")
	addCmd.Flags().StringToStringVar(&flagAddMeta, "meta", nil, "Free-form metadata (key=value)")
	rootCmd.AddCommand(addCmd)
}
