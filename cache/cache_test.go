package cache

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omalloc/crateproxy/wire"
)

func TestPutOpenMissing(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	id := wire.PackageId{Name: "serde", Version: "1.0.0"}
	require.True(t, c.Has(id) == false)
	require.Equal(t, []wire.PackageId{id}, c.Missing([]wire.PackageId{id}))

	require.NoError(t, c.Put(id, []byte("crate-bytes")))
	require.True(t, c.Has(id))
	require.Empty(t, c.Missing([]wire.PackageId{id}))

	rc, size, err := c.Open(id)
	require.NoError(t, err)
	defer rc.Close()
	require.EqualValues(t, len("crate-bytes"), size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "crate-bytes", string(got))
}

func TestPutAlreadyPresent(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	id := wire.PackageId{Name: "serde", Version: "1.0.0"}
	require.NoError(t, c.Put(id, []byte("a")))
	require.ErrorIs(t, c.Put(id, []byte("b")), ErrExists)
}

func TestOpenNotFound(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = c.Open(wire.PackageId{Name: "nope", Version: "0.0.1"})
	require.ErrorIs(t, err, ErrNotFound)
}
