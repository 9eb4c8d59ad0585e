package worker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omalloc/crateproxy/proxy"
	"github.com/omalloc/crateproxy/wire"
)

func TestServeTunnelFetchesAndStreams(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		w.Write([]byte("crate-body"))
	}))
	defer upstream.Close()

	w := New(upstream.URL, proxy.New(nil))

	mirrorSide, proxySide := net.Pipe()
	defer mirrorSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.serveTunnel(ctx, proxySide) }()

	sender := wire.NewSender(mirrorSide)
	receiver := wire.NewReceiver(mirrorSide)

	require.NoError(t, sender.Send(wire.UpstreamRequest{SessionID: 1, Package: "serde", Version: "1.0.0"}))

	var initMsg wire.DownstreamMessage
	ok, err := receiver.Next(&initMsg)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wire.OpcodeInit, initMsg.Opcode.Kind)
	require.Equal(t, "application/gzip", initMsg.Opcode.ContentType)

	var body []byte
	var gotComplete bool
	for !gotComplete {
		var msg wire.DownstreamMessage
		ok, err := receiver.Next(&msg)
		require.NoError(t, err)
		require.True(t, ok)
		switch msg.Opcode.Kind {
		case wire.OpcodeChunk:
			body = append(body, msg.Opcode.Bytes...)
		case wire.OpcodeComplete:
			require.True(t, msg.Opcode.IsOk())
			gotComplete = true
		}
	}
	require.Equal(t, "crate-body", string(body))

	mirrorSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveTunnel did not exit after connection closed")
	}
}

func TestFetchUpstreamErrorSendsCompleteErr(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	w := New(upstream.URL, proxy.New(nil))

	mirrorSide, proxySide := net.Pipe()
	defer mirrorSide.Close()
	defer proxySide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.serveTunnel(ctx, proxySide) }()

	sender := wire.NewSender(mirrorSide)
	receiver := wire.NewReceiver(mirrorSide)
	require.NoError(t, sender.Send(wire.UpstreamRequest{SessionID: 9, Package: "foo", Version: "0.1.0"}))

	var msg wire.DownstreamMessage
	ok, err := receiver.Next(&msg)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wire.OpcodeComplete, msg.Opcode.Kind)
	require.False(t, msg.Opcode.IsOk())
}
