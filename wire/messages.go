package wire

import "fmt"

// PackageId is an unordered (name, version) pair, compared by exact
// string equality and rendered as "name/version" in human-readable
// contexts (spec §3).
type PackageId struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version"`
}

func (p PackageId) String() string {
	return fmt.Sprintf("%s/%s", p.Name, p.Version)
}

// UpstreamRequest travels mirror -> proxy on the tunnel: "fetch this
// package for this session".
type UpstreamRequest struct {
	SessionID uint32 `cbor:"session_id"`
	Package   string `cbor:"package"`
	Version   string `cbor:"version"`
}

// OpcodeKind is the Downstream Opcode's 32-bit discriminant.
type OpcodeKind uint32

const (
	OpcodeInit OpcodeKind = iota
	OpcodeChunk
	OpcodeComplete
)

func (k OpcodeKind) String() string {
	switch k {
	case OpcodeInit:
		return "Init"
	case OpcodeChunk:
		return "Chunk"
	case OpcodeComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Opcode is the proxy -> mirror tagged union described in spec §3. Only
// the fields relevant to Kind are meaningful; toarray keeps the wire
// encoding a flat, deterministic array with Kind as the first element.
type Opcode struct {
	_             struct{} `cbor:",toarray"`
	Kind          OpcodeKind
	ContentType   string // Init
	ContentLength uint64 // Init
	Bytes         []byte // Chunk
	Err           string // Complete; empty means Ok
}

// Init builds an Init opcode.
func Init(contentType string, contentLength uint64) Opcode {
	return Opcode{Kind: OpcodeInit, ContentType: contentType, ContentLength: contentLength}
}

// Chunk builds a Chunk opcode.
func Chunk(b []byte) Opcode {
	return Opcode{Kind: OpcodeChunk, Bytes: b}
}

// CompleteOk builds a successful Complete opcode.
func CompleteOk() Opcode {
	return Opcode{Kind: OpcodeComplete}
}

// CompleteErr builds a failed Complete opcode. reason is encoded into
// the opcode and crosses the tunnel, but the mirror only checks whether
// it is empty (IsOk) and never passes it on to the HTTP client, so
// callers pass a short generic reason and keep the real cause in their
// own logs.
func CompleteErr(reason string) Opcode {
	return Opcode{Kind: OpcodeComplete, Err: reason}
}

// IsOk reports whether a Complete opcode denotes success. Only
// meaningful when Kind == OpcodeComplete.
func (o Opcode) IsOk() bool {
	return o.Err == ""
}

// DownstreamMessage is the envelope around an Opcode addressed to a
// session (spec §3).
type DownstreamMessage struct {
	_         struct{} `cbor:",toarray"`
	SessionID uint32
	Opcode    Opcode
}
