// Package signal pushes relay events to connected clients over websockets.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// EventFeed fans relay events out to every feed connection of the client
// that owns the stream.
type EventFeed struct {
	Streams *app.Registry

	mu    sync.RWMutex
	conns map[domain.ClientToken]map[*WsSignalConn]struct{}
}

func NewEventFeed(streams *app.Registry) *EventFeed {
	return &EventFeed{
		Streams: streams,
		conns:   make(map[domain.ClientToken]map[*WsSignalConn]struct{}),
	}
}

// Publish implements core.EventPublisher. Slow connections drop events.
func (f *EventFeed) Publish(owner string, ev core.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("publish marshal")
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.conns[domain.ClientToken(owner)] {
		if err := c.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("owner", owner).Str("event", string(ev.Type)).Msg("event dropped")
		}
	}
}

// Subscribers returns how many feed connections owner has open.
func (f *EventFeed) Subscribers(owner domain.ClientToken) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns[owner])
}

func (f *EventFeed) add(owner domain.ClientToken, c *WsSignalConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.conns[owner]
	if !ok {
		set = make(map[*WsSignalConn]struct{})
		f.conns[owner] = set
	}
	set[c] = struct{}{}
}

func (f *EventFeed) remove(owner domain.ClientToken, c *WsSignalConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns[owner], c)
	if len(f.conns[owner]) == 0 {
		delete(f.conns, owner)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (f *EventFeed) HandleEvents(ctx context.Context, c *gin.Context) {
	owner, err := domain.ParseClientToken(c.GetString("client_token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("owner", string(owner)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	f.add(owner, conn)

	ctx, cancel := context.WithCancel(ctx)
	go f.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer f.remove(owner, conn)
		f.readPump(ctx, owner, conn)
	}()
}
