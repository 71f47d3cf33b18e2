package relay

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/nootle/nootle/internal/transport"
)

// incomingQueue is how many unanswered connect notices a client buffers.
const incomingQueue = 4

// Client is a transport.Transport backed by a relay server. Its local id
// is the code the relay assigned to its control socket.
type Client struct {
	base    string
	id      string
	control *websocket.Conn

	incoming chan Message

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *log.Logger
}

var _ transport.Transport = (*Client)(nil)

// Dial registers with the relay at rawURL (ws://, wss://, http:// or
// https://) and returns a transport reachable under the assigned code.
//
// If logger is nil, a default logger writing to stderr is used.
func Dial(ctx context.Context, rawURL string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}
	base := strings.TrimRight(rawURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %w", rawURL, err)
	}

	control, _, err := websocket.Dial(ctx, base+"/register", nil)
	if err != nil {
		return nil, transport.Wrap("register", "", fmt.Errorf("failed to reach relay: %w", err))
	}

	msg, err := expectMessage(ctx, control, MessageTypeRegistered)
	if err != nil {
		_ = control.Close(websocket.StatusProtocolError, "")
		return nil, transport.Wrap("register", "", classify(ctx, err))
	}

	c := &Client{
		base:     base,
		id:       msg.ID,
		control:  control,
		incoming: make(chan Message, incomingQueue),
		done:     make(chan struct{}),
		logger:   logger,
	}

	c.wg.Add(1)
	go c.controlLoop()

	logger.Printf("Registered with relay as %s", c.id)
	return c, nil
}

// controlLoop reads connect notices until the control socket closes.
func (c *Client) controlLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	ctx := context.Background()
	for {
		msg, err := readMessage(ctx, c.control)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Printf("Relay control socket closed: %v", err)
			}
			return
		}
		if msg.Type != MessageTypeIncoming {
			c.logger.Printf("Ignoring relay message %q", msg.Type)
			continue
		}

		select {
		case c.incoming <- msg:
		default:
			c.logger.Printf("Dropping connection from %s: too many pending", msg.From)
		}
	}
}

// LocalID returns the code assigned by the relay.
func (c *Client) LocalID() string {
	return c.id
}

// Connect opens a relayed channel to the peer registered as remoteID.
func (c *Client) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	remoteID = strings.ToUpper(strings.TrimSpace(remoteID))
	if remoteID == "" {
		return nil, transport.Wrap("connect", remoteID, transport.ErrInvalidID)
	}
	select {
	case <-c.done:
		return nil, transport.Wrap("connect", remoteID, transport.ErrClosed)
	default:
	}

	q := url.Values{}
	q.Set("target", remoteID)
	q.Set("from", c.id)

	return c.open(ctx, "connect", remoteID, "/connect?"+q.Encode())
}

// Accept waits for a connect notice and joins the pairing it names.
func (c *Client) Accept(ctx context.Context) (transport.Channel, error) {
	var notice Message
	select {
	case notice = <-c.incoming:
	case <-c.done:
		return nil, transport.Wrap("accept", "", transport.ErrClosed)
	case <-ctx.Done():
		return nil, transport.Wrap("accept", "", ctx.Err())
	}

	q := url.Values{}
	q.Set("pair", notice.Pair)

	return c.open(ctx, "accept", notice.From, "/accept?"+q.Encode())
}

// open dials a data socket and waits for the relay to pair it.
func (c *Client) open(ctx context.Context, op, peer, path string) (transport.Channel, error) {
	conn, resp, err := websocket.Dial(ctx, c.base+path, nil)
	if err != nil {
		return nil, transport.Wrap(op, peer, classifyDial(ctx, resp, err))
	}
	conn.SetReadLimit(DefaultReadLimit)

	msg, err := expectMessage(ctx, conn, MessageTypePaired)
	if err != nil {
		_ = conn.CloseNow()
		return nil, transport.Wrap(op, peer, classify(ctx, err))
	}
	if msg.Peer != "" {
		peer = msg.Peer
	}

	return &channel{conn: conn, remoteID: peer}, nil
}

// Close unregisters from the relay. Open channels stay usable.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.control.Close(websocket.StatusNormalClosure, "")
	})
}

// channel is a paired data socket.
type channel struct {
	conn     *websocket.Conn
	remoteID string
}

func (ch *channel) RemoteID() string {
	return ch.remoteID
}

func (ch *channel) Send(ctx context.Context, payload []byte) error {
	err := ch.conn.Write(ctx, websocket.MessageText, payload)
	return transport.Wrap("send", ch.remoteID, classify(ctx, err))
}

func (ch *channel) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := ch.conn.Read(ctx)
	if err != nil {
		return nil, transport.Wrap("receive", ch.remoteID, classify(ctx, err))
	}
	return data, nil
}

// Close ignores errors from a socket the relay already closed.
func (ch *channel) Close() error {
	_ = ch.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
