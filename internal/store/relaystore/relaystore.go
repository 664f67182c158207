// Package relaystore implements the document store against a relay server
// over a single WebSocket connection.
package relaystore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prepmate/peerlink/internal/domain"
)

// ErrClosed reports that the relay connection is gone. Every blocked call and
// open watch fails with it; the session layer treats that as a signaling
// failure.
var ErrClosed = errors.New("relay connection closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wire envelope, mirroring the relay server's protocol. Responses carry Seq,
// pushes carry Event.
type envelope struct {
	Seq    uint64         `json:"seq,omitempty"`
	Op     string         `json:"op,omitempty"`
	Path   string         `json:"path,omitempty"`
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Watch  uint64         `json:"watch,omitempty"`

	OK    bool       `json:"ok,omitempty"`
	Error string     `json:"error,omitempty"`
	Found bool       `json:"found,omitempty"`
	Docs  []document `json:"docs,omitempty"`

	Event string `json:"event,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Gone  bool   `json:"gone,omitempty"`
}

type document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// watch is one live subscription: deliver feeds pushes from the read loop,
// stop ends the delivery queue and closes the subscriber's channel.
type watch struct {
	deliver func(envelope)
	stop    func()
}

// Store is a domain.Store backed by a relay server.
type Store struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextSeq uint64
	pending map[uint64]chan envelope
	watches map[uint64]*watch
	closed  chan struct{}
}

var _ domain.Store = (*Store)(nil)

// Dial connects to a relay server ("ws://host:port/ws") and starts the read
// and ping loops.
func Dial(url string) (*Store, error) {
	log.Printf("[relaystore] connecting to %s", url)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", url, err)
	}

	s := &Store{
		conn:    conn,
		pending: make(map[uint64]chan envelope),
		watches: make(map[uint64]*watch),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed and
// watch channels close.
func (s *Store) Close() {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return
	default:
	}
	close(s.closed)
	pending := s.pending
	s.pending = make(map[uint64]chan envelope)
	watches := s.watches
	s.watches = make(map[uint64]*watch)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, w := range watches {
		w.stop()
	}
	s.conn.Close()
}

func (s *Store) Put(ctx context.Context, path, id string, fields map[string]any) error {
	_, err := s.call(ctx, envelope{Op: "put", Path: path, ID: id, Fields: fields})
	return err
}

func (s *Store) Merge(ctx context.Context, path, id string, fields map[string]any) error {
	_, err := s.call(ctx, envelope{Op: "merge", Path: path, ID: id, Fields: fields})
	return err
}

func (s *Store) Get(ctx context.Context, path, id string) (map[string]any, bool, error) {
	resp, err := s.call(ctx, envelope{Op: "get", Path: path, ID: id})
	if err != nil {
		return nil, false, err
	}
	if !resp.Found || len(resp.Docs) == 0 {
		return nil, false, nil
	}
	return resp.Docs[0].Fields, true, nil
}

func (s *Store) Delete(ctx context.Context, path, id string) error {
	_, err := s.call(ctx, envelope{Op: "delete", Path: path, ID: id})
	return err
}

func (s *Store) Add(ctx context.Context, path string, fields map[string]any) (string, error) {
	resp, err := s.call(ctx, envelope{Op: "add", Path: path, Fields: fields})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Store) List(ctx context.Context, path string, limit int) ([]domain.Document, error) {
	resp, err := s.call(ctx, envelope{Op: "list", Path: path, Limit: limit})
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(resp.Docs))
	for _, d := range resp.Docs {
		docs = append(docs, domain.Document{ID: d.ID, Fields: d.Fields})
	}
	return docs, nil
}

func (s *Store) WatchDoc(ctx context.Context, path, id string) (<-chan map[string]any, func(), error) {
	resp, err := s.call(ctx, envelope{Op: "watch_doc", Path: path, ID: id})
	if err != nil {
		return nil, nil, err
	}

	q := newDeliveryQueue[map[string]any]()
	s.registerWatch(resp.Watch, &watch{
		deliver: func(ev envelope) {
			if ev.Gone {
				q.push(nil)
				return
			}
			q.push(ev.Fields)
		},
		stop: q.stop,
	})
	return q.out, s.stopFunc(resp.Watch, q.stop), nil
}

func (s *Store) WatchCollection(ctx context.Context, path string) (<-chan domain.Change, func(), error) {
	resp, err := s.call(ctx, envelope{Op: "watch_col", Path: path})
	if err != nil {
		return nil, nil, err
	}

	q := newDeliveryQueue[domain.Change]()
	s.registerWatch(resp.Watch, &watch{
		deliver: func(ev envelope) {
			q.push(domain.Change{
				Kind: parseKind(ev.Kind),
				Doc:  domain.Document{ID: ev.ID, Fields: ev.Fields},
			})
		},
		stop: q.stop,
	})
	return q.out, s.stopFunc(resp.Watch, q.stop), nil
}

// call sends one request and suspends until its response, the context, or
// the connection going away.
func (s *Store) call(ctx context.Context, req envelope) (envelope, error) {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return envelope{}, ErrClosed
	default:
	}
	s.nextSeq++
	req.Seq = s.nextSeq
	ch := make(chan envelope, 1)
	s.pending[req.Seq] = ch

	err := s.writeJSON(req)
	if err != nil {
		delete(s.pending, req.Seq)
		s.mu.Unlock()
		return envelope{}, fmt.Errorf("relay %s: %w", req.Op, err)
	}
	s.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return envelope{}, ErrClosed
		}
		if resp.Error != "" {
			return envelope{}, fmt.Errorf("relay %s: %s", req.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, req.Seq)
		s.mu.Unlock()
		return envelope{}, ctx.Err()
	case <-s.closed:
		return envelope{}, ErrClosed
	}
}

// writeJSON requires s.mu held: the websocket allows one writer at a time.
func (s *Store) writeJSON(msg envelope) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *Store) registerWatch(id uint64, w *watch) {
	s.mu.Lock()
	select {
	case <-s.closed:
		// Lost the race with Close; end the watch immediately.
		s.mu.Unlock()
		w.stop()
		return
	default:
	}
	s.watches[id] = w
	s.mu.Unlock()
}

func (s *Store) stopFunc(id uint64, stopQueue func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watches, id)
			// Best effort: the server also drops watches on disconnect.
			s.nextSeq++
			s.writeJSON(envelope{Op: "unwatch", Seq: s.nextSeq, Watch: id})
			s.mu.Unlock()
			stopQueue()
		})
	}
}

func (s *Store) readLoop() {
	defer s.Close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev envelope
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.closed:
			default:
				log.Printf("[relaystore] read: %v", err)
			}
			return
		}

		if ev.Event != "" {
			s.mu.Lock()
			w := s.watches[ev.Watch]
			s.mu.Unlock()
			if w != nil {
				w.deliver(ev)
			}
			continue
		}

		s.mu.Lock()
		ch := s.pending[ev.Seq]
		delete(s.pending, ev.Seq)
		s.mu.Unlock()
		if ch != nil {
			ch <- ev
		}
	}
}

func (s *Store) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				select {
				case <-s.closed:
				default:
					log.Printf("[relaystore] ping: %v", err)
					s.Close()
				}
				return
			}
		}
	}
}

func parseKind(kind string) domain.ChangeKind {
	switch kind {
	case "added":
		return domain.ChangeAdded
	case "modified":
		return domain.ChangeModified
	case "removed":
		return domain.ChangeRemoved
	default:
		return 0
	}
}
