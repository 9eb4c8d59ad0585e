// Package wire implements the framed, length-prefixed binary transport
// shared by the tunnel and the control-plane socket, plus the message
// types that ride on top of it.
//
// A frame on the wire is a 4-byte big-endian length L followed by L
// bytes of payload; L == 0 marks end-of-stream. The payload is encoded
// with canonical CBOR so that the proxy and the mirror agree bit-for-bit
// without either side having to hand-roll a codec.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single frame's payload. It fits comfortably
// under the 32-bit length field §4.A requires and rejects pathological
// peers well before they can exhaust memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}

func mustDecMode() cbor.DecMode {
	opts := cbor.DecOptions{MaxArrayElements: 1 << 20, MaxMapPairs: 1 << 20}
	m, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}

// Sender writes one half of a framed stream. It is safe for concurrent
// use; each Send call is serialized so frames are never interleaved.
type Sender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSender wraps w as a frame sender.
func NewSender(w io.Writer) *Sender {
	return &Sender{w: w}
}

// Send encodes v and appends it to the stream as one frame.
func (s *Sender) Send(v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := s.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// Close writes the zero-length terminator frame. It does not close the
// underlying writer; the owning component is responsible for that.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [4]byte
	_, err := s.w.Write(hdr[:])
	return err
}

// Receiver reads one half of a framed stream.
type Receiver struct {
	r io.Reader
}

// NewReceiver wraps r as a frame receiver.
func NewReceiver(r io.Reader) *Receiver {
	return &Receiver{r: r}
}

// Next reads the next frame and decodes it into v. It returns ok=false,
// err=nil on a clean zero-length (end-of-stream) frame.
func (r *Receiver) Next(v any) (ok bool, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("wire: read length: %w", err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return false, nil
	}
	if length > MaxFrameSize {
		return false, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return false, fmt.Errorf("wire: read payload: %w", err)
	}

	if err := decMode.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("wire: decode: %w", err)
	}
	return true, nil
}
