// Command proxy runs the internet-facing half of the split topology:
// it dials out to a mirror's tunnel listener and fetches crates from
// the upstream registry on the mirror's behalf.
package main

import (
	"context"
	"flag"

	"github.com/omalloc/crateproxy/conf"
	"github.com/omalloc/crateproxy/contrib/config"
	"github.com/omalloc/crateproxy/contrib/config/provider/file"
	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/proxy"
	"github.com/omalloc/crateproxy/worker"
)

var flagConf = flag.String("c", "proxy.yaml", "config file path")

func main() {
	flag.Parse()

	bc := conf.DefaultProxyBootstrap()

	c := config.New[conf.ProxyBootstrap](config.WithSource(file.NewSource(*flagConf)))
	defer c.Close()
	if err := c.Scan(bc); err != nil {
		log.Warnf("proxy: config load failed, using defaults: %v", err)
	}

	log.SetLogger(log.New(log.Config{
		Level:      bc.Logger.Level,
		Path:       bc.Logger.Path,
		Caller:     bc.Logger.Caller,
		MaxSize:    bc.Logger.MaxSize,
		MaxAge:     bc.Logger.MaxAge,
		MaxBackups: bc.Logger.MaxBackups,
		Compress:   bc.Logger.Compress,
	}))

	client := proxy.New(nil)
	w := worker.New(bc.Upstream.BaseURL, client)

	if err := w.Run(context.Background(), bc.Tunnel.Addr, bc.Tunnel.ReconnectWait); err != nil {
		log.Fatalf("proxy: %v", err)
	}
}
