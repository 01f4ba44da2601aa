// Package signal implements core.SignalingChannel over a websocket to
// the relay.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

type Options struct {
	// URL is the full websocket endpoint, session and participant
	// already encoded by the caller.
	URL       string
	ReadLimit int64

	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

func (o *Options) defaults() {
	if o.ReadLimit == 0 {
		o.ReadLimit = 32768
	}
	if o.ReconnectMin == 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = 8 * time.Second
	}
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 6
	}
}

// Channel is one duplex signaling connection. Inbound dispatch is
// serialized: handler invocations never overlap, and envelopes are
// delivered in read order. While reconnecting, Send fails fast
// instead of queuing.
type Channel struct {
	log  zerolog.Logger
	opts Options

	mu     sync.RWMutex
	conn   *websocket.Conn
	state  core.ChannelState
	closed bool

	// dispatchMu serializes handler invocation between the read pump
	// and the backlog replay in SetHandler.
	dispatchMu sync.Mutex

	handler func(core.Envelope)
	stateFn func(core.ChannelState)
	// Envelopes read before the first handler registration. The relay
	// pushes the roster as soon as the socket opens, which can beat
	// the caller's SetHandler; losing those would orphan the newcomer.
	backlog []core.Envelope

	send chan []byte
	done chan struct{}
}

// Dial connects and starts the pumps. Envelopes that arrive before a
// handler is registered are held and replayed, in order, on the first
// SetHandler call.
func Dial(ctx context.Context, opts Options, log zerolog.Logger) (*Channel, error) {
	opts.defaults()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling channel: %w", err)
	}
	conn.SetReadLimit(opts.ReadLimit)
	c := &Channel{
		log:   log.With().Str("module", "signal.channel").Logger(),
		opts:  opts,
		conn:  conn,
		state: core.ChannelConnected,
		send:  make(chan []byte, 32),
		done:  make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Channel) SetHandler(fn func(core.Envelope)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
	c.dispatch(nil)
}

func (c *Channel) SetStateHandler(fn func(core.ChannelState)) {
	c.mu.Lock()
	c.stateFn = fn
	c.mu.Unlock()
}

// Send marshals and queues one envelope. Fails with ErrChannelClosed
// while closed or reconnecting, ErrBackpressure when the writer lags.
func (c *Channel) Send(env core.Envelope) error {
	c.mu.RLock()
	ok := !c.closed && c.state == core.ChannelConnected
	c.mu.RUnlock()
	if !ok {
		return core.ErrChannelClosed
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read pump notices the broken transport and drives
				// the reconnect; dropping here keeps fail-fast semantics.
				c.log.Warn().Err(err).Msg("writePump write error")
			}
		}
	}
}

func (c *Channel) readPump() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.reconnect() {
				return
			}
			continue
		}

		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Error().Err(err).Msg("bad envelope json")
			continue
		}
		c.dispatch(&env)
	}
}

// dispatch hands env to the handler, draining the pre-handler backlog
// first so nothing read before registration is lost or reordered. A
// nil env just drains.
func (c *Channel) dispatch(env *core.Envelope) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	handler := c.handler
	if handler == nil {
		if env != nil {
			c.backlog = append(c.backlog, *env)
		}
		c.mu.Unlock()
		return
	}
	pending := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, e := range pending {
		handler(e)
	}
	if env != nil {
		handler(*env)
	}
}

// reconnect redials silently with capped backoff. Reports false when
// the channel is closed or every attempt failed, after announcing the
// terminal state.
func (c *Channel) reconnect() bool {
	c.setState(core.ChannelReconnecting)
	delay := c.opts.ReconnectMin
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}
		conn, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
		if err == nil {
			conn.SetReadLimit(c.opts.ReadLimit)
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return false
			}
			c.conn = conn
			c.mu.Unlock()
			c.setState(core.ChannelConnected)
			c.log.Info().Int("attempt", attempt).Msg("signaling channel reconnected")
			return true
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}
	c.setState(core.ChannelLost)
	return false
}

func (c *Channel) setState(s core.ChannelState) {
	c.mu.Lock()
	c.state = s
	fn := c.stateFn
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
