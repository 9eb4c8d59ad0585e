package mux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omalloc/crateproxy/wire"
)

func TestBeginDownloadRoundTrip(t *testing.T) {
	m := New()
	mirrorSide, proxySide := net.Pipe()
	defer mirrorSide.Close()
	defer proxySide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.AcceptTunnel(ctx, mirrorSide) }()

	proxyReceiver := wire.NewReceiver(proxySide)
	proxySender := wire.NewSender(proxySide)

	opcodes, endSession, err := m.BeginDownload("serde", "1.0.0")
	require.NoError(t, err)
	defer endSession()

	var req wire.UpstreamRequest
	ok, err := proxyReceiver.Next(&req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "serde", req.Package)
	require.Equal(t, "1.0.0", req.Version)

	require.NoError(t, proxySender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.Init("application/gzip", 3)}))
	require.NoError(t, proxySender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.Chunk([]byte("abc"))}))
	require.NoError(t, proxySender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.CompleteOk()}))

	select {
	case op := <-opcodes:
		require.Equal(t, wire.OpcodeInit, op.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Init")
	}
	select {
	case op := <-opcodes:
		require.Equal(t, wire.OpcodeChunk, op.Kind)
		require.Equal(t, []byte("abc"), op.Bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Chunk")
	}
	select {
	case op := <-opcodes:
		require.Equal(t, wire.OpcodeComplete, op.Kind)
		require.True(t, op.IsOk())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Complete")
	}
}

func TestBeginDownloadNoUplink(t *testing.T) {
	m := New()
	_, _, err := m.BeginDownload("serde", "1.0.0")
	require.ErrorIs(t, err, ErrNoUplink)
}

func TestTunnelReplacementEvictsSessions(t *testing.T) {
	m := New()
	mirrorSide1, proxySide1 := net.Pipe()
	defer proxySide1.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = m.AcceptTunnel(ctx, mirrorSide1) }()

	opcodes, _, err := m.BeginDownload("serde", "1.0.0")
	require.NoError(t, err)

	// drain the UpstreamRequest so AcceptTunnel's peer doesn't block
	go func() {
		var req wire.UpstreamRequest
		_, _ = wire.NewReceiver(proxySide1).Next(&req)
	}()

	mirrorSide2, proxySide2 := net.Pipe()
	defer mirrorSide2.Close()
	defer proxySide2.Close()
	go func() { _ = m.AcceptTunnel(ctx, mirrorSide2) }()

	select {
	case op := <-opcodes:
		require.Equal(t, wire.OpcodeComplete, op.Kind)
		require.False(t, op.IsOk())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eviction Complete")
	}

	mirrorSide1.Close()
}
