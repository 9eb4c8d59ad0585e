package httpfront

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omalloc/crateproxy/cache"
	"github.com/omalloc/crateproxy/mux"
	"github.com/omalloc/crateproxy/wire"
)

func TestServeHTTPCacheHit(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Put(wire.PackageId{Name: "serde", Version: "1.0.0"}, []byte("cached-bytes")))

	h := New(c, mux.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0/download", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cached-bytes", rec.Body.String())
}

func TestServeHTTPNotFoundPath(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	h := New(c, mux.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/download", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPCacheMissNoUplink(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	h := New(c, mux.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0/download", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPCacheMissStreamsFromTunnel(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	m := mux.New()
	mirrorSide, proxySide := net.Pipe()
	defer mirrorSide.Close()
	defer proxySide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.AcceptTunnel(ctx, mirrorSide) }()

	go func() {
		receiver := wire.NewReceiver(proxySide)
		sender := wire.NewSender(proxySide)
		var req wire.UpstreamRequest
		ok, err := receiver.Next(&req)
		if err != nil || !ok {
			return
		}
		_ = sender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.Init("application/gzip", 4)})
		_ = sender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.Chunk([]byte("data"))})
		_ = sender.Send(wire.DownstreamMessage{SessionID: req.SessionID, Opcode: wire.CompleteOk()})
	}()

	h := New(c, m)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0/download", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return in time")
	}

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data", rec.Body.String())
	require.False(t, c.Has(wire.PackageId{Name: "serde", Version: "1.0.0"}), "proxied downloads must not be written to the cache (spec §4.E)")
}

func TestServeHTTPRejectsNonGET(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	h := New(c, mux.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/crates/serde/1.0.0/download", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPRejectsQueryString(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	h := New(c, mux.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0/download?foo=bar", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
