package memstore

import (
	"context"
	"testing"
	"time"

	"prepmate/peerlink/internal/domain"
)

func recvDoc(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case doc := <-ch:
		return doc
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for document delivery")
		return nil
	}
}

func recvChange(t *testing.T, ch <-chan domain.Change) domain.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change delivery")
		return domain.Change{}
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, "rooms", "r1", map[string]any{"callerId": "u1"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	doc, ok, err := s.Get(ctx, "rooms", "r1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if doc["callerId"] != "u1" {
		t.Errorf("expected callerId u1, got %v", doc["callerId"])
	}

	if err := s.Delete(ctx, "rooms", "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "rooms", "r1"); ok {
		t.Error("expected document to be gone after delete")
	}

	// Deleting again must not fail.
	if err := s.Delete(ctx, "rooms", "r1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestMergePreservesOtherFields(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Put(ctx, "rooms", "r1", map[string]any{"offer": "sdp", "callerId": "u1"})
	s.Merge(ctx, "rooms", "r1", map[string]any{"answer": "sdp2"})

	doc, _, _ := s.Get(ctx, "rooms", "r1")
	if doc["offer"] != "sdp" || doc["answer"] != "sdp2" || doc["callerId"] != "u1" {
		t.Errorf("merge lost fields: %v", doc)
	}
}

func TestListInsertionOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, _ := s.Add(ctx, "queue", map[string]any{"n": 1})
	s.Add(ctx, "queue", map[string]any{"n": 2})

	docs, err := s.List(ctx, "queue", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != first {
		t.Errorf("expected only the first entry, got %v", docs)
	}

	all, _ := s.List(ctx, "queue", 0)
	if len(all) != 2 {
		t.Errorf("expected 2 entries, got %d", len(all))
	}
}

func TestWatchDocReplayAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Put(ctx, "queue", "u1", map[string]any{"waiting": true})

	ch, stop, err := s.WatchDoc(ctx, "queue", "u1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if doc := recvDoc(t, ch); doc["waiting"] != true {
		t.Errorf("expected replay of current state, got %v", doc)
	}

	s.Merge(ctx, "queue", "u1", map[string]any{"matchedWith": "u2"})
	if doc := recvDoc(t, ch); doc["matchedWith"] != "u2" {
		t.Errorf("expected merged update, got %v", doc)
	}

	s.Delete(ctx, "queue", "u1")
	if doc := recvDoc(t, ch); doc != nil {
		t.Errorf("expected nil delivery on delete, got %v", doc)
	}
}

func TestWatchDocStopClosesChannel(t *testing.T) {
	ctx := context.Background()
	s := New()

	ch, stop, _ := s.WatchDoc(ctx, "queue", "u1")
	stop()

	select {
	case _, open := <-ch:
		if open {
			t.Error("expected channel to be closed after stop")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after stop")
	}

	// Writes after stop must not panic or block.
	s.Put(ctx, "queue", "u1", map[string]any{"waiting": true})
}

func TestWatchCollectionOrderAndKinds(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Add(ctx, "rooms/r1/callerCandidates", map[string]any{"candidate": "a"})

	ch, stop, err := s.WatchCollection(ctx, "rooms/r1/callerCandidates")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	c := recvChange(t, ch)
	if c.Kind != domain.ChangeAdded || c.Doc.Fields["candidate"] != "a" {
		t.Errorf("expected replay of existing doc, got %+v", c)
	}

	id, _ := s.Add(ctx, "rooms/r1/callerCandidates", map[string]any{"candidate": "b"})
	c = recvChange(t, ch)
	if c.Kind != domain.ChangeAdded || c.Doc.Fields["candidate"] != "b" {
		t.Errorf("expected added change, got %+v", c)
	}

	s.Merge(ctx, "rooms/r1/callerCandidates", id, map[string]any{"candidate": "b2"})
	c = recvChange(t, ch)
	if c.Kind != domain.ChangeModified {
		t.Errorf("expected modified change, got %+v", c)
	}

	s.Delete(ctx, "rooms/r1/callerCandidates", id)
	c = recvChange(t, ch)
	if c.Kind != domain.ChangeRemoved || c.Doc.ID != id {
		t.Errorf("expected removed change for %s, got %+v", id, c)
	}
}

func TestWatchDeliveryIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	ch, stop, _ := s.WatchDoc(ctx, "queue", "u1")
	defer stop()

	s.Put(ctx, "queue", "u1", map[string]any{"waiting": true})
	doc := recvDoc(t, ch)
	doc["waiting"] = false

	stored, _, _ := s.Get(ctx, "queue", "u1")
	if stored["waiting"] != true {
		t.Error("mutating a delivered document leaked into the store")
	}
}
