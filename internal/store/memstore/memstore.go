// Package memstore implements the signaling store in process memory.
// It backs tests and the relay server's document state.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"prepmate/peerlink/internal/domain"
)

// Store is an in-memory domain.Store. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	cols map[string]*collection
}

type collection struct {
	docs  map[string]map[string]any
	order []string

	docWatchers map[string][]*watcher[map[string]any]
	colWatchers []*watcher[domain.Change]
}

// New returns an empty store.
func New() *Store {
	return &Store{cols: make(map[string]*collection)}
}

func (s *Store) col(path string) *collection {
	c, ok := s.cols[path]
	if !ok {
		c = &collection{
			docs:        make(map[string]map[string]any),
			docWatchers: make(map[string][]*watcher[map[string]any]),
		}
		s.cols[path] = c
	}
	return c
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Put creates or fully overwrites a document.
func (s *Store) Put(ctx context.Context, path, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.col(path)
	_, existed := c.docs[id]
	c.docs[id] = cloneFields(fields)
	if !existed {
		c.order = append(c.order, id)
	}
	c.notify(id, existed)
	return nil
}

// Merge updates individual fields, creating the document if absent.
func (s *Store) Merge(ctx context.Context, path, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.col(path)
	doc, existed := c.docs[id]
	if !existed {
		doc = make(map[string]any, len(fields))
		c.docs[id] = doc
		c.order = append(c.order, id)
	}
	for k, v := range fields {
		doc[k] = v
	}
	c.notify(id, existed)
	return nil
}

// Get reads a document.
func (s *Store) Get(ctx context.Context, path, id string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cols[path]
	if !ok {
		return nil, false, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	return cloneFields(doc), true, nil
}

// Delete removes a document. Missing documents are ignored.
func (s *Store) Delete(ctx context.Context, path, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cols[path]
	if !ok {
		return nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil
	}
	delete(c.docs, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	removed := domain.Document{ID: id, Fields: cloneFields(doc)}
	for _, w := range c.colWatchers {
		w.push(domain.Change{Kind: domain.ChangeRemoved, Doc: removed})
	}
	for _, w := range c.docWatchers[id] {
		w.push(nil)
	}
	return nil
}

// Add appends a document with a generated ID.
func (s *Store) Add(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Put(ctx, path, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// List returns up to limit documents in insertion order.
func (s *Store) List(ctx context.Context, path string, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cols[path]
	if !ok {
		return nil, nil
	}
	var out []domain.Document
	for _, id := range c.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, domain.Document{ID: id, Fields: cloneFields(c.docs[id])})
	}
	return out, nil
}

// notify fans a write out to collection and document watchers.
// Callers hold s.mu.
func (c *collection) notify(id string, existed bool) {
	kind := domain.ChangeAdded
	if existed {
		kind = domain.ChangeModified
	}
	doc := domain.Document{ID: id, Fields: cloneFields(c.docs[id])}
	for _, w := range c.colWatchers {
		w.push(domain.Change{Kind: kind, Doc: doc})
	}
	for _, w := range c.docWatchers[id] {
		w.push(cloneFields(c.docs[id]))
	}
}

// WatchDoc subscribes to one document, replaying the current state first.
// A nil delivery means the document was deleted.
func (s *Store) WatchDoc(ctx context.Context, path, id string) (<-chan map[string]any, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.col(path)
	w := newWatcher[map[string]any]()
	c.docWatchers[id] = append(c.docWatchers[id], w)
	if doc, ok := c.docs[id]; ok {
		w.push(cloneFields(doc))
	}

	stop := func() {
		s.mu.Lock()
		ws := c.docWatchers[id]
		for i, other := range ws {
			if other == w {
				c.docWatchers[id] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		w.stop()
	}
	return w.ch, stop, nil
}

// WatchCollection subscribes to a collection, replaying existing documents
// as ChangeAdded first.
func (s *Store) WatchCollection(ctx context.Context, path string) (<-chan domain.Change, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.col(path)
	w := newWatcher[domain.Change]()
	c.colWatchers = append(c.colWatchers, w)
	for _, id := range c.order {
		w.push(domain.Change{Kind: domain.ChangeAdded, Doc: domain.Document{ID: id, Fields: cloneFields(c.docs[id])}})
	}

	stop := func() {
		s.mu.Lock()
		for i, other := range c.colWatchers {
			if other == w {
				c.colWatchers = append(c.colWatchers[:i], c.colWatchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		w.stop()
	}
	return w.ch, stop, nil
}
