// Package transport defines the bidirectional message channel that peer
// sessions exchange snapshots over.
//
// A Transport owns one local id for its lifetime. Other devices target that
// id with Connect; the targeted side receives the new channel from Accept.
// Each Channel carries whole messages: one Send is delivered as exactly one
// Receive on the other end, or not at all.
//
// Implementations:
//   - transport/memory: in-process network for tests and loopback demos
//   - relay: WebSocket rendezvous server and client
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Transport or Channel,
	// and by Receive when the remote end closed the channel.
	ErrClosed = errors.New("transport closed")

	// ErrUnknownPeer is returned by Connect when no session is registered
	// under the remote id.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrTimeout is returned when a peer does not answer in time.
	ErrTimeout = errors.New("timed out waiting for peer")

	// ErrInvalidID is returned by Connect for an empty or malformed remote id.
	ErrInvalidID = errors.New("invalid peer id")

	// ErrRateLimited is returned by Connect when the rendezvous service
	// refuses further attempts for now.
	ErrRateLimited = errors.New("too many connection attempts")
)

// Transport establishes channels to and from other sessions.
type Transport interface {
	// LocalID returns the opaque id other devices use to reach this session.
	LocalID() string

	// Connect opens a channel to the session registered as remoteID. It
	// blocks until the remote side has accepted or ctx is done.
	Connect(ctx context.Context, remoteID string) (Channel, error)

	// Accept blocks until another session connects to this one.
	Accept(ctx context.Context) (Channel, error)

	// Close releases the local id. Pending Accept calls return ErrClosed.
	Close() error
}

// Channel is one open connection between two sessions.
type Channel interface {
	// RemoteID returns the id of the session on the other end.
	RemoteID() string

	// Send delivers one message.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until one message arrives, the channel closes, or ctx
	// is done.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the channel. The remote side's Receive returns ErrClosed.
	Close() error
}

// Error records a failed transport operation.
type Error struct {
	Op   string // "connect", "accept", "send", "receive"
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error for op, or nil when err is nil. Context
// deadline errors are mapped to ErrTimeout.
func Wrap(op, peer string, err error) error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &Error{Op: op, Peer: peer, Err: err}
}

// IsTransportError reports whether err came from the transport layer.
func IsTransportError(err error) bool {
	var terr *Error
	return errors.As(err, &terr) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrUnknownPeer) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrRateLimited)
}
