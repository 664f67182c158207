// Package redistore implements the document store on Redis, for deployments
// where the participants share a Redis instance instead of a relay.
//
// Layout: each document is a JSON blob under "doc:<path>/<id>", each
// collection keeps insertion order in the list "col:<path>", and watches ride
// pub/sub channels "watch:<path>" and "watch:<path>/<id>".
package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"prepmate/peerlink/internal/domain"
)

// Merge retries when a concurrent writer trips the transaction.
const mergeRetries = 10

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a domain.Store on Redis.
type Store struct {
	client *redis.Client
}

var _ domain.Store = (*Store)(nil)

// Connect opens and pings the Redis client.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &Store{client: client}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func docKey(path, id string) string  { return "doc:" + path + "/" + id }
func colKey(path string) string      { return "col:" + path }
func colChan(path string) string     { return "watch:" + path }
func docChan(path, id string) string { return "watch:" + path + "/" + id }

// colEvent is the pub/sub payload on a collection channel.
type colEvent struct {
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (s *Store) Put(ctx context.Context, path, id string, fields map[string]any) error {
	return s.write(ctx, path, id, func(map[string]any) map[string]any {
		return fields
	})
}

func (s *Store) Merge(ctx context.Context, path, id string, fields map[string]any) error {
	return s.write(ctx, path, id, func(existing map[string]any) map[string]any {
		if existing == nil {
			existing = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			existing[k] = v
		}
		return existing
	})
}

// write runs a read-modify-write on one document under WATCH so that
// concurrent merges on the same document serialize instead of clobbering.
func (s *Store) write(ctx context.Context, path, id string, apply func(existing map[string]any) map[string]any) error {
	key := docKey(path, id)

	txn := func(tx *redis.Tx) error {
		var existing map[string]any
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			// new document
		case err != nil:
			return fmt.Errorf("read %s: %w", key, err)
		default:
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		}
		isNew := raw == "" && err == redis.Nil

		next := apply(existing)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if isNew {
				pipe.RPush(ctx, colKey(path), id)
			}
			return nil
		})
		if err != nil {
			return err
		}

		kind := "modified"
		if isNew {
			kind = "added"
		}
		s.publish(ctx, path, id, kind, next)
		return nil
	}

	var err error
	for i := 0; i < mergeRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("write %s: %w", key, err)
}

func (s *Store) Get(ctx context.Context, path, id string) (map[string]any, bool, error) {
	raw, err := s.client.Get(ctx, docKey(path, id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", path, id, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", path, id, err)
	}
	return fields, true, nil
}

func (s *Store) Delete(ctx context.Context, path, id string) error {
	removed, err := s.client.Del(ctx, docKey(path, id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}
	if removed == 0 {
		return nil
	}
	if err := s.client.LRem(ctx, colKey(path), 1, id).Err(); err != nil {
		return fmt.Errorf("unlist %s/%s: %w", path, id, err)
	}
	s.publish(ctx, path, id, "removed", nil)
	return nil
}

func (s *Store) Add(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Put(ctx, path, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) List(ctx context.Context, path string, limit int) ([]domain.Document, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, colKey(path), 0, end).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(path, id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	docs := make([]domain.Document, 0, len(ids))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Deleted between LRANGE and MGET.
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(str), &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", path, ids[i], err)
		}
		docs = append(docs, domain.Document{ID: ids[i], Fields: fields})
	}
	return docs, nil
}

func (s *Store) WatchDoc(ctx context.Context, path, id string) (<-chan map[string]any, func(), error) {
	sub := s.client.Subscribe(ctx, docChan(path, id))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("watch %s/%s: %w", path, id, err)
	}

	out := make(chan map[string]any)
	done := make(chan struct{})
	go func() {
		defer close(out)

		// Snapshot after subscribing so no write slips between the two.
		// A write racing the snapshot may arrive twice; consumers treat
		// deliveries as state, not edges.
		if fields, found, err := s.Get(ctx, path, id); err == nil && found {
			select {
			case out <- fields:
			case <-done:
				return
			}
		}

		for msg := range sub.Channel() {
			var fields map[string]any
			if msg.Payload != "null" {
				if err := json.Unmarshal([]byte(msg.Payload), &fields); err != nil {
					log.Printf("[redistore] decode doc event: %v", err)
					continue
				}
			}
			select {
			case out <- fields:
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		sub.Close()
	}
	return out, stop, nil
}

func (s *Store) WatchCollection(ctx context.Context, path string) (<-chan domain.Change, func(), error) {
	sub := s.client.Subscribe(ctx, colChan(path))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", path, err)
	}

	out := make(chan domain.Change)
	done := make(chan struct{})
	go func() {
		defer close(out)

		docs, err := s.List(ctx, path, 0)
		if err != nil {
			log.Printf("[redistore] replay %s: %v", path, err)
		}
		seen := make(map[string]bool, len(docs))
		for _, doc := range docs {
			seen[doc.ID] = true
			select {
			case out <- domain.Change{Kind: domain.ChangeAdded, Doc: doc}:
			case <-done:
				return
			}
		}

		for msg := range sub.Channel() {
			var ev colEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[redistore] decode collection event: %v", err)
				continue
			}
			// A replayed document's buffered "added" would duplicate.
			if ev.Kind == "added" && seen[ev.ID] {
				continue
			}
			seen[ev.ID] = ev.Kind != "removed"

			select {
			case out <- domain.Change{Kind: parseKind(ev.Kind), Doc: domain.Document{ID: ev.ID, Fields: ev.Fields}}:
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		sub.Close()
	}
	return out, stop, nil
}

// publish is best effort: a dropped event degrades a watch, not the data.
func (s *Store) publish(ctx context.Context, path, id, kind string, fields map[string]any) {
	docPayload := []byte("null")
	if fields != nil {
		var err error
		docPayload, err = json.Marshal(fields)
		if err != nil {
			log.Printf("[redistore] encode doc event: %v", err)
			return
		}
	}
	if err := s.client.Publish(ctx, docChan(path, id), docPayload).Err(); err != nil {
		log.Printf("[redistore] publish doc event: %v", err)
	}

	colPayload, err := json.Marshal(colEvent{Kind: kind, ID: id, Fields: fields})
	if err != nil {
		log.Printf("[redistore] encode collection event: %v", err)
		return
	}
	if err := s.client.Publish(ctx, colChan(path), colPayload).Err(); err != nil {
		log.Printf("[redistore] publish collection event: %v", err)
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
