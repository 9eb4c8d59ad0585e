package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omalloc/crateproxy/cache"
	"github.com/omalloc/crateproxy/wire"
)

func startTestServer(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	srv, err := Listen("127.0.0.1:0", c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()

	return srv.Addr().String(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func TestCheckMissingAndUpload(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	id := wire.PackageId{Name: "serde", Version: "1.0.0"}

	missing, err := client.CheckMissing([]wire.PackageId{id})
	require.NoError(t, err)
	require.Equal(t, []wire.PackageId{id}, missing)

	require.NoError(t, client.UploadCrate(id, []byte("crate-bytes")))

	missing, err = client.CheckMissing([]wire.PackageId{id})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestDuplicateUploadIsNotAnError(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	id := wire.PackageId{Name: "serde", Version: "1.0.0"}
	require.NoError(t, client.UploadCrate(id, []byte("a")))
	require.NoError(t, client.UploadCrate(id, []byte("b")))
}

func TestSequenceCorrelationAcrossMultipleRequests(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 5; i++ {
		_, err := client.CheckMissing([]wire.PackageId{{Name: "foo", Version: "0.1.0"}})
		require.NoError(t, err)
	}
}
