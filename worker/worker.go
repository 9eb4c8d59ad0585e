// Package worker implements the proxy-side half of the tunnel: it
// dials the mirror, reads wire.UpstreamRequest frames off the tunnel,
// fetches each one from the upstream registry concurrently, and
// streams the result back as Init/Chunk/Complete opcodes (spec §4.C).
package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/metrics"
	"github.com/omalloc/crateproxy/proxy"
	"github.com/omalloc/crateproxy/wire"
)

// txQueueCapacity bounds the shared channel all concurrent downloads
// write their opcodes onto before a single goroutine serializes them
// onto the tunnel; a slow mirror fills this queue, after which every
// download blocks on its next send and stops reading its HTTP body
// (spec §5).
const txQueueCapacity = 256

// chunkSize is the read buffer used to turn a response body into Chunk
// opcodes.
const chunkSize = 64 * 1024

// Worker owns one upstream Client and fetches crates on demand.
type Worker struct {
	upstreamBaseURL string
	client          *proxy.Client
	throughput      *ratecounter.RateCounter
}

// New builds a Worker that fetches from baseURL + "/<name>/<version>/download".
func New(baseURL string, client *proxy.Client) *Worker {
	return &Worker{
		upstreamBaseURL: baseURL,
		client:          client,
		throughput:      ratecounter.NewRateCounter(time.Second),
	}
}

// outbound pairs a DownstreamMessage with nothing else; kept as a named
// type so the TX loop's channel element is self-documenting.
type outbound = wire.DownstreamMessage

// Run dials addr, then serves the tunnel until it drops or ctx is
// cancelled, reconnecting with the given backoff in between. It never
// returns except when ctx is cancelled.
func (w *Worker) Run(ctx context.Context, addr string, reconnectWait time.Duration) error {
	// showError tracks whether the next connection failure deserves an
	// error-level log line or should be swallowed to debug: the first
	// failure after a successful connection is always loud, repeated
	// failures in a row are not (spec §4.C).
	showError := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			if showError {
				log.Errorf("worker: dial %s: %v", addr, err)
				showError = false
			} else {
				log.Debugf("worker: dial %s: %v", addr, err)
			}
			if !sleep(ctx, reconnectWait) {
				return ctx.Err()
			}
			continue
		}

		log.Infof("worker: tunnel established to %s", addr)
		metrics.TunnelReconnect()
		showError = true
		if err := w.serveTunnel(ctx, conn); err != nil {
			log.Errorf("worker: tunnel dropped: %v", err)
			showError = false
		}

		if !sleep(ctx, reconnectWait) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serveTunnel runs the RX loop (read UpstreamRequests, spawn fetches)
// and the TX loop (serialize DownstreamMessages onto the wire) for one
// physical connection. It returns once either direction fails.
func (w *Worker) serveTunnel(ctx context.Context, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	tx := make(chan outbound, txQueueCapacity)
	errCh := make(chan error, 2)

	go func() { errCh <- w.txLoop(ctx, conn, tx) }()
	go func() { errCh <- w.rxLoop(ctx, conn, tx) }()

	err := <-errCh
	cancel()
	<-errCh
	return err
}

func (w *Worker) rxLoop(ctx context.Context, conn net.Conn, tx chan<- outbound) error {
	receiver := wire.NewReceiver(conn)
	for {
		var req wire.UpstreamRequest
		ok, err := receiver.Next(&req)
		if err != nil {
			return fmt.Errorf("worker: read upstream request: %w", err)
		}
		if !ok {
			return nil
		}
		go w.fetch(ctx, req, tx)
	}
}

func (w *Worker) txLoop(ctx context.Context, conn net.Conn, tx <-chan outbound) error {
	sender := wire.NewSender(conn)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-tx:
			if !ok {
				return nil
			}
			if err := sender.Send(msg); err != nil {
				return fmt.Errorf("worker: write downstream message: %w", err)
			}
		}
	}
}

func (w *Worker) fetch(ctx context.Context, req wire.UpstreamRequest, tx chan<- outbound) {
	url := fmt.Sprintf("%s/%s/%s/download", w.upstreamBaseURL, req.Package, req.Version)

	resp, err := w.client.Fetch(ctx, url)
	if err != nil {
		log.Errorf("worker: session %d: fetch %s: %v", req.SessionID, url, err)
		sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteErr("fetch failed")})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Warnf("worker: session %d: upstream returned %d for %s", req.SessionID, resp.StatusCode, url)
		sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteErr("upstream error")})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		log.Warnf("worker: session %d: upstream response for %s missing Content-Type", req.SessionID, url)
		sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteErr("missing or unparseable header")})
		return
	}
	if resp.ContentLength <= 0 {
		log.Warnf("worker: session %d: upstream response for %s missing or unparseable Content-Length", req.SessionID, url)
		sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteErr("missing or unparseable header")})
		return
	}
	contentLength := uint64(resp.ContentLength)
	if !sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.Init(contentType, contentLength)}) {
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			w.throughput.Incr(int64(n))
			if !sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.Chunk(chunk)}) {
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Errorf("worker: session %d: read body: %v", req.SessionID, readErr)
				sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteErr("body read failed")})
				return
			}
			break
		}
	}

	log.Debugf("worker: session %d: %s complete, throughput %d B/s", req.SessionID, req.Package, w.throughput.Rate())
	sendOrDrop(ctx, tx, outbound{SessionID: req.SessionID, Opcode: wire.CompleteOk()})
}

// sendOrDrop writes msg to tx, returning false if ctx was cancelled
// first (the tunnel is going away, so the send would never land).
func sendOrDrop(ctx context.Context, tx chan<- outbound, msg outbound) bool {
	select {
	case tx <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
