package mux

import (
	"context"
	"fmt"
	"net"

	"github.com/omalloc/crateproxy/contrib/log"
)

// TunnelListener accepts proxy connections and hands each one to a
// Multiplexer in turn; a newly accepted connection always replaces
// whatever tunnel came before it (spec §4.D).
type TunnelListener struct {
	ln  net.Listener
	mux *Multiplexer
}

// ListenTunnel binds addr and returns a TunnelListener feeding m.
func ListenTunnel(addr string, m *Multiplexer) (*TunnelListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mux: listen: %w", err)
	}
	return &TunnelListener{ln: ln, mux: m}, nil
}

// Addr returns the bound listener address.
func (t *TunnelListener) Addr() net.Addr { return t.ln.Addr() }

// Start implements transport.Server: it accepts connections until ctx
// is cancelled, serving each tunnel on its own goroutine.
func (t *TunnelListener) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.ln.Close()
	}()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mux: accept: %w", err)
		}
		log.Infof("mux: tunnel accepted from %s", conn.RemoteAddr())
		go func() {
			if err := t.mux.AcceptTunnel(ctx, conn); err != nil {
				log.Warnf("mux: tunnel %s closed: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// Stop implements transport.Server.
func (t *TunnelListener) Stop(ctx context.Context) error {
	return t.ln.Close()
}
