package transport

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is transport server.
type Server interface {
	Start(context.Context) error
	Stop(context.Context) error
}

type AppContext interface {
	Kind() Kind
}

type Kind string

func (k Kind) String() string {
	return string(k)
}

type (
	serverAppContext struct{}
)

func NewContext(ctx context.Context, appCtx AppContext) context.Context {
	return context.WithValue(ctx, serverAppContext{}, appCtx)
}

func FromContext(ctx context.Context) AppContext {
	return nil
}

// Run starts every server concurrently and blocks until either one of
// them returns an error or the process receives SIGINT/SIGTERM, at
// which point all servers are given stopTimeout to shut down cleanly.
func Run(ctx context.Context, stopTimeout time.Duration, servers ...Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range servers {
		srv := s
		eg.Go(func() error {
			return srv.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		for _, s := range servers {
			_ = s.Stop(stopCtx)
		}
		return nil
	})

	return eg.Wait()
}
