package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sender := NewSender(&buf)

	require.NoError(t, sender.Send(UpstreamRequest{SessionID: 7, Package: "foo", Version: "1.0.0"}))
	require.NoError(t, sender.Close())

	receiver := NewReceiver(&buf)

	var got UpstreamRequest
	ok, err := receiver.Next(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, UpstreamRequest{SessionID: 7, Package: "foo", Version: "1.0.0"}, got)

	var drained UpstreamRequest
	ok, err = receiver.Next(&drained)
	require.NoError(t, err)
	require.False(t, ok, "zero-length frame must terminate the stream cleanly")
}

func TestOpcodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sender := NewSender(&buf)

	msgs := []DownstreamMessage{
		{SessionID: 1, Opcode: Init("application/gzip", 7)},
		{SessionID: 1, Opcode: Chunk([]byte("GZIPPED"))},
		{SessionID: 1, Opcode: CompleteOk()},
	}
	for _, m := range msgs {
		require.NoError(t, sender.Send(m))
	}

	receiver := NewReceiver(&buf)
	for _, want := range msgs {
		var got DownstreamMessage
		ok, err := receiver.Next(&got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sender := NewSender(&buf)

	req := Envelope[Request]{Sequence: 42, Payload: NewCheckMissingRequest([]PackageId{{Name: "foo", Version: "1.0.0"}})}
	require.NoError(t, sender.Send(req))

	receiver := NewReceiver(&buf)
	var got Envelope[Request]
	ok, err := receiver.Next(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(42), got.Sequence)
	require.Equal(t, RequestCheckMissing, got.Payload.Kind)
	require.Len(t, got.Payload.CheckMissing, 1)
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	sender := NewSender(&buf)
	err := sender.Send(Chunk(make([]byte, MaxFrameSize+1)))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
