package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nootle/nootle/internal/transport"
)

// MessageType defines the type of relay control message
type MessageType string

const (
	// MessageTypeRegistered carries the code assigned to a control socket
	MessageTypeRegistered MessageType = "registered"

	// MessageTypeIncoming tells a registered peer that someone wants to
	// connect and which pairing token to accept with
	MessageTypeIncoming MessageType = "incoming"

	// MessageTypePaired is the first frame on both data sockets once the
	// relay has joined them
	MessageTypePaired MessageType = "paired"
)

// Message is a relay control message. Data frames after MessageTypePaired
// are forwarded verbatim and never decoded by the relay.
type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
	From string      `json:"from,omitempty"`
	Pair string      `json:"pair,omitempty"`
	Peer string      `json:"peer,omitempty"`
}

// Close codes sent by the relay.
const (
	// StatusUnknownPeer means the target code or pairing token is not registered.
	StatusUnknownPeer websocket.StatusCode = 4404

	// StatusPairTimeout means the target did not accept in time.
	StatusPairTimeout websocket.StatusCode = 4408
)

// controlTimeout bounds writes of control messages.
const controlTimeout = 5 * time.Second

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func readMessage(ctx context.Context, conn *websocket.Conn) (Message, error) {
	var msg Message
	err := wsjson.Read(ctx, conn, &msg)
	return msg, err
}

// expectMessage reads one control message and checks its type.
func expectMessage(ctx context.Context, conn *websocket.Conn, want MessageType) (Message, error) {
	msg, err := readMessage(ctx, conn)
	if err != nil {
		return msg, err
	}
	if msg.Type != want {
		return msg, fmt.Errorf("unexpected relay message %q, want %q", msg.Type, want)
	}
	return msg, nil
}

// classify maps websocket errors onto the transport error taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	switch websocket.CloseStatus(err) {
	case -1:
		return err
	case StatusUnknownPeer:
		return fmt.Errorf("%w: %w", transport.ErrUnknownPeer, err)
	case StatusPairTimeout:
		return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
}

// classifyDial maps a failed handshake onto the transport error taxonomy.
// The relay refuses rate-limited upgrades with a plain HTTP 429.
func classifyDial(ctx context.Context, resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", transport.ErrRateLimited, err)
	}
	return classify(ctx, err)
}
