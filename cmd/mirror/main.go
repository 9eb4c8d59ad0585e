// Command mirror runs the internal-facing half of the split topology:
// it serves cached crate downloads over HTTP, answers control-plane
// cache queries/uploads, and accepts the outbound tunnel dialed in by
// one or more proxy processes.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/cloudflare/tableflip"

	"github.com/omalloc/crateproxy/cache"
	"github.com/omalloc/crateproxy/conf"
	"github.com/omalloc/crateproxy/contrib/config"
	"github.com/omalloc/crateproxy/contrib/config/provider/file"
	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/contrib/transport"
	"github.com/omalloc/crateproxy/controlplane"
	"github.com/omalloc/crateproxy/httpfront"
	"github.com/omalloc/crateproxy/mux"
	"github.com/omalloc/crateproxy/server"
)

var flagConf = flag.String("c", "mirror.yaml", "config file path")

func main() {
	flag.Parse()

	bc := conf.DefaultMirrorBootstrap()

	c := config.New[conf.MirrorBootstrap](config.WithSource(file.NewSource(*flagConf)))
	defer c.Close()
	if err := c.Scan(bc); err != nil {
		log.Warnf("mirror: config load failed, using defaults: %v", err)
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

	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("mirror: tableflip: %v", err)
	}
	defer flip.Stop()

	if err := run(bc, flip); err != nil {
		log.Fatalf("mirror: %v", err)
	}
}

func run(bc *conf.MirrorBootstrap, flip *tableflip.Upgrader) error {
	c, err := cache.New(bc.Cache.Root)
	if err != nil {
		return err
	}

	m := mux.New()

	tunnelLn, err := mux.ListenTunnel(bc.Tunnel.Addr, m)
	if err != nil {
		return err
	}

	cpSrv, err := controlplane.Listen(bc.ControlPlane.Addr, c)
	if err != nil {
		return err
	}

	front := httpfront.New(c, m)
	httpSrv := server.NewServer(flip, bc.HTTP, front)

	go func() {
		if err := flip.Ready(); err != nil {
			log.Warnf("mirror: tableflip ready: %v", err)
		}
	}()

	ctx := context.Background()
	return transport.Run(ctx, 30*time.Second, httpSrv, tunnelLn, cpSrv)
}
