package controlplane

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/omalloc/crateproxy/wire"
)

// Client is a synchronous, sequence-correlated control-plane client.
// Used by the cargo-check and cargo-upload commands to talk to a
// mirror's control-plane listener.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	sender   *wire.Sender
	receiver *wire.Receiver
	sequence uint32
}

// Dial connects to a mirror's control-plane listener.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("controlplane: dial: %w", err)
	}
	return &Client{
		conn:     conn,
		sender:   wire.NewSender(conn),
		receiver: wire.NewReceiver(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Request sends req and waits for the correlated response. Requests on
// a single Client are serialized; concurrent callers block on each other.
func (c *Client) Request(req wire.Request) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	seq := c.sequence

	if err := c.sender.Send(wire.Envelope[wire.Request]{Sequence: seq, Payload: req}); err != nil {
		return wire.Response{}, fmt.Errorf("controlplane: send request: %w", err)
	}

	var env wire.Envelope[wire.Result]
	ok, err := c.receiver.Next(&env)
	if err != nil {
		return wire.Response{}, fmt.Errorf("controlplane: read response: %w", err)
	}
	if !ok {
		return wire.Response{}, fmt.Errorf("controlplane: connection closed before response")
	}
	if env.Sequence != seq {
		return wire.Response{}, fmt.Errorf("controlplane: sequence mismatch: sent %d, got %d", seq, env.Sequence)
	}
	if env.Payload.Err != nil {
		return wire.Response{}, fmt.Errorf("controlplane: %s", env.Payload.Err.Message)
	}
	return *env.Payload.Ok, nil
}

// CheckMissing asks which of ids are not yet cached mirror-side.
func (c *Client) CheckMissing(ids []wire.PackageId) ([]wire.PackageId, error) {
	resp, err := c.Request(wire.NewCheckMissingRequest(ids))
	if err != nil {
		return nil, err
	}
	return resp.CheckMissing, nil
}

// UploadCrate uploads content as the cached copy of id.
func (c *Client) UploadCrate(id wire.PackageId, content []byte) error {
	_, err := c.Request(wire.NewUploadCrateRequest(id, content))
	return err
}
