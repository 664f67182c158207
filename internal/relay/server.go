// Package relay exposes a document store over WebSocket so that every
// participant of a deployment shares one queue and one set of rooms without
// talking to a third-party backend.
package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prepmate/peerlink/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// SDP bodies dominate; 64 KB leaves generous headroom.
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Server serves the relay protocol on top of a backing store.
type Server struct {
	store    domain.Store
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewServer wraps the given store. The zero upgrader accepts any origin
// because relay deployments sit behind their own ingress.
func NewServer(store domain.Store) *Server {
	return &Server{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection's pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade: %v", err)
		return
	}

	c := &conn{
		server:  s,
		ws:      ws,
		send:    make(chan any, sendBuffer),
		watches: make(map[uint64]func()),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	log.Printf("[relay] client connected: %s", ws.RemoteAddr())

	go c.writePump()
	c.readPump()
}

// Close drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.teardown()
	}
}

func (s *Server) drop(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// conn is one connected client. readPump is the only reader, writePump the
// only writer; everything else goes through the send channel.
type conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan any

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	watches   map[uint64]func()
	nextWatch uint64
	closed    bool
}

func (c *conn) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[relay] read: %v", err)
			}
			return
		}
		c.handle(req)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("[relay] write: %v", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a message to writePump. Messages for a closed connection are
// dropped; a full send buffer drops the connection as too slow.
func (c *conn) enqueue(msg any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- msg:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		log.Printf("[relay] client too slow, dropping: %s", c.ws.RemoteAddr())
		c.teardown()
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stops := make([]func(), 0, len(c.watches))
	for _, stop := range c.watches {
		stops = append(stops, stop)
	}
	c.watches = nil
	c.mu.Unlock()

	c.cancel()
	for _, stop := range stops {
		stop()
	}
	close(c.send)
	c.ws.Close()
	c.server.drop(c)
	log.Printf("[relay] client disconnected: %s", c.ws.RemoteAddr())
}

func (c *conn) handle(req request) {
	switch req.Op {
	case opPut:
		c.respondErr(req.Seq, c.server.store.Put(c.ctx, req.Path, req.ID, req.Fields))

	case opMerge:
		c.respondErr(req.Seq, c.server.store.Merge(c.ctx, req.Path, req.ID, req.Fields))

	case opDelete:
		c.respondErr(req.Seq, c.server.store.Delete(c.ctx, req.Path, req.ID))

	case opGet:
		fields, found, err := c.server.store.Get(c.ctx, req.Path, req.ID)
		if err != nil {
			c.respondErr(req.Seq, err)
			return
		}
		c.enqueue(response{Seq: req.Seq, OK: true, Found: found, Docs: docList(found, req.ID, fields)})

	case opAdd:
		id, err := c.server.store.Add(c.ctx, req.Path, req.Fields)
		if err != nil {
			c.respondErr(req.Seq, err)
			return
		}
		c.enqueue(response{Seq: req.Seq, OK: true, ID: id})

	case opList:
		docs, err := c.server.store.List(c.ctx, req.Path, req.Limit)
		if err != nil {
			c.respondErr(req.Seq, err)
			return
		}
		out := make([]document, 0, len(docs))
		for _, d := range docs {
			out = append(out, document{ID: d.ID, Fields: d.Fields})
		}
		c.enqueue(response{Seq: req.Seq, OK: true, Docs: out})

	case opWatchDoc:
		c.startDocWatch(req)

	case opWatchCol:
		c.startColWatch(req)

	case opUnwatch:
		c.mu.Lock()
		stop := c.watches[req.Watch]
		delete(c.watches, req.Watch)
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		c.enqueue(response{Seq: req.Seq, OK: true})

	default:
		c.enqueue(response{Seq: req.Seq, Error: "unknown op: " + req.Op})
	}
}

func (c *conn) startDocWatch(req request) {
	ch, stop, err := c.server.store.WatchDoc(c.ctx, req.Path, req.ID)
	if err != nil {
		c.respondErr(req.Seq, err)
		return
	}
	id := c.registerWatch(stop)
	c.enqueue(response{Seq: req.Seq, OK: true, Watch: id})

	go func() {
		for fields := range ch {
			c.enqueue(push{Event: eventDoc, Watch: id, Fields: fields, Gone: fields == nil})
		}
	}()
}

func (c *conn) startColWatch(req request) {
	ch, stop, err := c.server.store.WatchCollection(c.ctx, req.Path)
	if err != nil {
		c.respondErr(req.Seq, err)
		return
	}
	id := c.registerWatch(stop)
	c.enqueue(response{Seq: req.Seq, OK: true, Watch: id})

	go func() {
		for change := range ch {
			c.enqueue(push{
				Event:  eventChange,
				Watch:  id,
				Kind:   change.Kind.String(),
				ID:     change.Doc.ID,
				Fields: change.Doc.Fields,
			})
		}
	}()
}

func (c *conn) registerWatch(stop func()) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextWatch++
	id := c.nextWatch
	if c.closed {
		// Lost the race with teardown; stop immediately.
		go stop()
		return id
	}
	c.watches[id] = stop
	return id
}

func (c *conn) respondErr(seq uint64, err error) {
	if err != nil {
		c.enqueue(response{Seq: seq, Error: err.Error()})
		return
	}
	c.enqueue(response{Seq: seq, OK: true})
}

func docList(found bool, id string, fields map[string]any) []document {
	if !found {
		return nil
	}
	return []document{{ID: id, Fields: fields}}
}
