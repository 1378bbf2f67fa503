// Package eventchannel implements the bidirectional event bus the
// session speaks over: named events in both directions on a single
// websocket, with optional single-reply acks for requests.
package eventchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/soundbooth/djcast/internal/proto"
)

// ErrChannelClosed is returned from Call or Emit once the underlying
// connection is gone.
var ErrChannelClosed = errors.New("event channel closed")

// Handler receives the payload of one inbound event. Handlers for a
// given channel are invoked from a single dispatch goroutine and never
// run concurrently with each other.
type Handler func(data json.RawMessage)

// Bus is the capability surface the session core needs from a channel.
type Bus interface {
	On(event string, h Handler)
	Start()
	Call(ctx context.Context, event string, payload any) (json.RawMessage, error)
	Emit(event string, payload any) error
	Done() <-chan struct{}
	Close() error
}

// Channel is a websocket-backed Bus.
type Channel struct {
	conn *websocket.Conn
	log  *zerolog.Logger

	// handlers is written between Dial and Start only.
	handlers map[string]Handler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	// queue carries inbound events from the read loop to the dispatch
	// loop. Replies bypass it so a Call made from inside a handler is
	// answered even while dispatch is blocked in that handler. The
	// buffer must be large enough that the read loop keeps draining
	// replies during such a call.
	queue    chan proto.Packet
	readDone chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
	runCtx    context.Context
}

var _ Bus = (*Channel)(nil)

// Dial connects to the server and starts reading frames. It blocks
// until the websocket handshake completes or fails. Inbound events are
// buffered until Start is called, so handlers registered in between
// cannot miss anything.
func Dial(ctx context.Context, url string, logger *zerolog.Logger) (*Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:     conn,
		log:      logger,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan json.RawMessage),
		queue:    make(chan proto.Packet, 256),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
		runCtx:   runCtx,
	}
	go c.readLoop()
	return c, nil
}

// On registers the handler for a named event, replacing any previous
// one. Must be called before Start.
func (c *Channel) On(event string, h Handler) {
	c.handlers[event] = h
}

// Start begins dispatching buffered and future inbound events.
func (c *Channel) Start() {
	go c.dispatchLoop()
}

// Call emits the named event with an ack id and blocks until the
// single reply arrives, the channel closes, or ctx is cancelled. No
// timeout is enforced here; an unanswered request waits as long as the
// caller lets it.
func (c *Channel) Call(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	reply := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()

	if err := c.write(proto.Packet{Event: event, ID: id, Data: marshal(payload)}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case data := <-reply:
		return data, nil
	case <-c.readDone:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Emit sends the named event without expecting a reply.
func (c *Channel) Emit(event string, payload any) error {
	return c.write(proto.Packet{Event: event, Data: marshal(payload)})
}

// Done is closed after the connection has dropped and every inbound
// event, including the final disconnect notification, has been
// dispatched.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once. The
// read loop still delivers a final disconnect event to the dispatch
// path.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	return nil
}

func (c *Channel) write(pkt proto.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.readDone:
		return ErrChannelClosed
	default:
	}

	if err := wsjson.Write(c.runCtx, c.conn, pkt); err != nil {
		return fmt.Errorf("write %s: %w", pkt.Event, err)
	}
	return nil
}

func (c *Channel) readLoop() {
	for {
		var pkt proto.Packet
		if err := wsjson.Read(c.runCtx, c.conn, &pkt); err != nil {
			if !isExpectedClose(err) {
				c.log.Warn().Err(err).Msg("event channel read failed")
			}
			break
		}

		if pkt.Reply != "" {
			c.resolve(pkt.Reply, pkt.Data)
			continue
		}
		c.queue <- pkt
	}

	// Connection is gone: surface it as an inbound event so the
	// session sees unsolicited and requested teardown identically.
	c.queue <- proto.Packet{Event: proto.EventDisconnect}
	close(c.queue)
	close(c.readDone)
	c.failPending()
}

func (c *Channel) dispatchLoop() {
	for pkt := range c.queue {
		h, ok := c.handlers[pkt.Event]
		if !ok {
			c.log.Debug().Str("event", pkt.Event).Msg("no handler for event")
			continue
		}
		h(pkt.Data)
	}
	close(c.done)
}

func (c *Channel) resolve(id string, data json.RawMessage) {
	c.pendingMu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		c.log.Warn().Str("id", id).Msg("reply for unknown request")
		return
	}
	reply <- data
}

func (c *Channel) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Channel) failPending() {
	c.pendingMu.Lock()
	for id := range c.pending {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func isExpectedClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func marshal(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own typed records; a marshal failure is a
		// programming error.
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	return data
}
