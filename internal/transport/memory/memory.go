// Package memory provides an in-process Transport. Transports created from
// the same Network can reach each other by id.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nootle/nootle/internal/transport"
)

// queueSize is the number of messages a channel buffers before Send blocks.
const queueSize = 8

// Network is a registry of in-process transports.
type Network struct {
	mu    sync.Mutex
	peers map[string]*Transport
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Transport)}
}

// Listen registers a new transport. An empty id is replaced with a
// generated 8-character code.
func (n *Network) Listen(id string) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if id == "" {
		for {
			id = newCode()
			if _, taken := n.peers[id]; !taken {
				break
			}
		}
	} else if _, taken := n.peers[id]; taken {
		return nil, fmt.Errorf("peer id %s already registered", id)
	}

	t := &Transport{
		network:  n,
		id:       id,
		incoming: make(chan *Channel),
		done:     make(chan struct{}),
	}
	n.peers[id] = t
	return t, nil
}

func (n *Network) lookup(id string) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.peers[id]
	return t, ok
}

func (n *Network) remove(id string) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Transport is an in-process transport.Transport.
type Transport struct {
	network  *Network
	id       string
	incoming chan *Channel

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// LocalID returns the id this transport is registered under.
func (t *Transport) LocalID() string {
	return t.id
}

// Connect opens a channel to remoteID. It blocks until the remote side
// calls Accept.
func (t *Transport) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, transport.Wrap("connect", remoteID, transport.ErrInvalidID)
	}
	select {
	case <-t.done:
		return nil, transport.Wrap("connect", remoteID, transport.ErrClosed)
	default:
	}

	remote, ok := t.network.lookup(remoteID)
	if !ok {
		return nil, transport.Wrap("connect", remoteID, transport.ErrUnknownPeer)
	}

	local, peer := newPair(t.id, remoteID)
	select {
	case remote.incoming <- peer:
		return local, nil
	case <-remote.done:
		return nil, transport.Wrap("connect", remoteID, transport.ErrUnknownPeer)
	case <-t.done:
		return nil, transport.Wrap("connect", remoteID, transport.ErrClosed)
	case <-ctx.Done():
		return nil, transport.Wrap("connect", remoteID, ctx.Err())
	}
}

// Accept blocks until another transport connects to this one.
func (t *Transport) Accept(ctx context.Context) (transport.Channel, error) {
	select {
	case ch := <-t.incoming:
		return ch, nil
	case <-t.done:
		return nil, transport.Wrap("accept", "", transport.ErrClosed)
	case <-ctx.Done():
		return nil, transport.Wrap("accept", "", ctx.Err())
	}
}

// Close unregisters the transport. Open channels stay usable.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.network.remove(t.id)
		close(t.done)
	})
	return nil
}

// link is the state shared by both ends of a channel.
type link struct {
	closed    chan struct{}
	closeOnce sync.Once
}

// Channel is one end of an in-process channel.
type Channel struct {
	remoteID string
	inbox    chan []byte
	outbox   chan []byte
	link     *link
}

var _ transport.Channel = (*Channel)(nil)

func newPair(aID, bID string) (*Channel, *Channel) {
	l := &link{closed: make(chan struct{})}
	ab := make(chan []byte, queueSize)
	ba := make(chan []byte, queueSize)

	a := &Channel{remoteID: bID, inbox: ba, outbox: ab, link: l}
	b := &Channel{remoteID: aID, inbox: ab, outbox: ba, link: l}
	return a, b
}

// RemoteID returns the id of the other end.
func (c *Channel) RemoteID() string {
	return c.remoteID
}

// Send queues one message for the other end.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.link.closed:
		return transport.Wrap("send", c.remoteID, transport.ErrClosed)
	default:
	}

	msg := append([]byte(nil), payload...)
	select {
	case c.outbox <- msg:
		return nil
	case <-c.link.closed:
		return transport.Wrap("send", c.remoteID, transport.ErrClosed)
	case <-ctx.Done():
		return transport.Wrap("send", c.remoteID, ctx.Err())
	}
}

// Receive returns the next message. Messages sent before the channel was
// closed are still delivered.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.link.closed:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
			return nil, transport.Wrap("receive", c.remoteID, transport.ErrClosed)
		}
	case <-ctx.Done():
		return nil, transport.Wrap("receive", c.remoteID, ctx.Err())
	}
}

// Close closes both ends.
func (c *Channel) Close() error {
	c.link.closeOnce.Do(func() {
		close(c.link.closed)
	})
	return nil
}
