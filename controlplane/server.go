// Package controlplane implements the mirror's cache-query/upload
// listener: a plain TCP socket (default 0.0.0.0:4004) carrying
// sequence-correlated wire.Envelope[wire.Request] / wire.Envelope[wire.Result]
// pairs, one request answered per round trip (spec §4.B, §6).
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/omalloc/crateproxy/cache"
	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/metrics"
	"github.com/omalloc/crateproxy/wire"
)

// Server answers control-plane requests against a Cache.
type Server struct {
	ln    net.Listener
	cache *cache.Cache
}

// NewServer wraps an already-bound listener.
func NewServer(ln net.Listener, c *cache.Cache) *Server {
	return &Server{ln: ln, cache: c}
}

// Listen binds addr and returns a Server.
func Listen(addr string, c *cache.Cache) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("controlplane: listen: %w", err)
	}
	return NewServer(ln, c), nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Start implements transport.Server.
func (s *Server) Start(ctx context.Context) error {
	return s.Serve(ctx)
}

// Stop implements transport.Server.
func (s *Server) Stop(ctx context.Context) error {
	return s.ln.Close()
}

// Serve accepts connections until ctx is cancelled, handling each on
// its own goroutine. It closes the listener on return.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controlplane: accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := log.Context(ctx)
	sender := wire.NewSender(conn)
	receiver := wire.NewReceiver(conn)

	for {
		var env wire.Envelope[wire.Request]
		ok, err := receiver.Next(&env)
		if err != nil {
			logger.Errorf("controlplane: read request: %v", err)
			return
		}
		if !ok {
			return
		}

		result := s.handle(env.Payload)
		reply := wire.Envelope[wire.Result]{Sequence: env.Sequence, Payload: result}
		if err := sender.Send(reply); err != nil {
			logger.Errorf("controlplane: write response: %v", err)
			return
		}
	}
}

func (s *Server) handle(req wire.Request) wire.Result {
	switch req.Kind {
	case wire.RequestCheckMissing:
		metrics.ControlPlaneRequest("check_missing")
		return wire.Ok(wire.Response{
			Kind:         wire.ResponseCheckMissing,
			CheckMissing: s.cache.Missing(req.CheckMissing),
		})
	case wire.RequestUploadCrate:
		metrics.ControlPlaneRequest("upload_crate")
		return s.handleUpload(req.UploadCrate)
	default:
		return wire.Err(wire.ErrorUnspecified, "unknown request kind")
	}
}

func (s *Server) handleUpload(payload *wire.UploadCratePayload) wire.Result {
	if payload == nil {
		return wire.Err(wire.ErrorUnspecified, "missing upload payload")
	}

	err := s.cache.Put(payload.Package, payload.Content)
	switch {
	case err == nil:
		return wire.Ok(wire.Response{Kind: wire.ResponseUploadCrate})
	case errors.Is(err, cache.ErrExists):
		// Duplicate upload of an already-cached crate is not an error;
		// the caller's lock-file-driven retry logic can race a prior
		// successful upload, so we answer success and just note it.
		log.Warnf("controlplane: upload of already-cached crate %s ignored", payload.Package)
		return wire.Ok(wire.Response{Kind: wire.ResponseUploadCrate})
	default:
		return wire.Err(wire.ErrorIO, err.Error())
	}
}
