package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
	"github.com/dialcare/consult/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// roomConn is the relay-side end of one member's websocket: a buffered
// send channel drained by a single writer goroutine, so the room's
// dispatch order is the wire order.
type roomConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newRoomConn(ws *websocket.Conn) *roomConn {
	return &roomConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *roomConn) TrySend(b []byte) error {
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *roomConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *roomConn) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRoomSocket upgrades the connection, joins the room and relays
// inbound envelopes until the socket drops.
func (s *Server) handleRoomSocket(c *gin.Context) {
	sid := domain.SessionID(c.Param("session"))
	pid := domain.ParticipantID(c.Param("participant"))
	role := domain.Role(c.Query("role"))
	name := c.Query("name")

	if _, err := s.book.Get(sid, time.Now()); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, core.ErrSessionExpired) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if role != domain.RoleInitiator && role != domain.RoleCounterpart {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	if _, err := domain.NewParticipant(pid, role, name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := newRoomConn(ws)
	room := s.hub.GetOrCreate(sid)
	room.Join(core.JoinedPayload{ID: pid, Role: role, DisplayName: name, VideoEnabled: true, AudioEnabled: true}, conn)
	if err := s.book.MarkJoined(sid); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("session", string(sid)).Msg("mark joined")
	}

	go conn.writePump(s.cfg.PingPeriod)
	s.readPump(room, pid, conn)
}

func (s *Server) readPump(room *relay.Room, pid domain.ParticipantID, c *roomConn) {
	defer room.Leave(pid)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("participant", string(pid)).Msg("readPump closed")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("bad envelope json")
			continue
		}
		// The sender field is authoritative from the path, not the body.
		env.SenderID = pid
		room.Dispatch(env)
	}
}
