package relaystore

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/relay"
	"prepmate/peerlink/internal/store/memstore"
)

func newRelay(t *testing.T) (*Store, *Store) {
	t.Helper()
	server := relay.NewServer(memstore.New())
	httpSrv := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpSrv.Close()
	})

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	a, err := Dial(url)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	t.Cleanup(a.Close)
	b, err := Dial(url)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	t.Cleanup(b.Close)
	return a, b
}

func TestPutGetAcrossClients(t *testing.T) {
	ctx := context.Background()
	a, b := newRelay(t)

	if err := a.Put(ctx, "rooms", "r1", map[string]any{"callerId": "u1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	fields, found, err := b.Get(ctx, "rooms", "r1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if fields["callerId"] != "u1" {
		t.Errorf("fields = %v", fields)
	}

	if _, found, _ := b.Get(ctx, "rooms", "missing"); found {
		t.Error("missing doc reported found")
	}
}

func TestMergeUpdatesSingleField(t *testing.T) {
	ctx := context.Background()
	a, b := newRelay(t)

	if err := a.Put(ctx, "rooms", "r1", map[string]any{"offer": "sdp", "callerId": "u1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Merge(ctx, "rooms", "r1", map[string]any{"answer": "sdp2"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	fields, _, err := a.Get(ctx, "rooms", "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fields["offer"] != "sdp" || fields["answer"] != "sdp2" {
		t.Errorf("merge lost fields: %v", fields)
	}
}

func TestAddListOrder(t *testing.T) {
	ctx := context.Background()
	a, _ := newRelay(t)

	for _, c := range []string{"one", "two", "three"} {
		if _, err := a.Add(ctx, "rooms/r1/callerCandidates", map[string]any{"candidate": c}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	docs, err := a.List(ctx, "rooms/r1/callerCandidates", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if docs[i].Fields["candidate"] != want {
			t.Errorf("docs[%d] = %v, want %s", i, docs[i].Fields, want)
		}
	}

	docs, _ = a.List(ctx, "rooms/r1/callerCandidates", 1)
	if len(docs) != 1 || docs[0].Fields["candidate"] != "one" {
		t.Errorf("limit 1 gave %v", docs)
	}
}

func TestWatchDocAcrossClients(t *testing.T) {
	ctx := context.Background()
	a, b := newRelay(t)

	ch, stop, err := b.WatchDoc(ctx, "rooms", "r1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := a.Put(ctx, "rooms", "r1", map[string]any{"offer": "sdp"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	fields := recvDoc(t, ch)
	if fields["offer"] != "sdp" {
		t.Errorf("watched fields = %v", fields)
	}

	if err := a.Delete(ctx, "rooms", "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fields := recvDoc(t, ch); fields != nil {
		t.Errorf("expected nil for deletion, got %v", fields)
	}
}

func TestWatchCollectionAcrossClients(t *testing.T) {
	ctx := context.Background()
	a, b := newRelay(t)

	ch, stop, err := b.WatchCollection(ctx, "queue")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := a.Put(ctx, "queue", "u1", map[string]any{"status": "waiting"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	change := recvChange(t, ch)
	if change.Kind != domain.ChangeAdded || change.Doc.ID != "u1" {
		t.Errorf("change = %+v", change)
	}

	if err := a.Delete(ctx, "queue", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	change = recvChange(t, ch)
	if change.Kind != domain.ChangeRemoved {
		t.Errorf("expected removal, got %+v", change)
	}
}

func TestStopEndsWatch(t *testing.T) {
	ctx := context.Background()
	a, b := newRelay(t)

	ch, stop, err := b.WatchDoc(ctx, "rooms", "r1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	stop()
	stop() // idempotent

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after stop")
	}

	// The other client keeps working after this one's watch stopped.
	if err := a.Put(ctx, "rooms", "r1", map[string]any{"offer": "sdp"}); err != nil {
		t.Fatalf("put after stop: %v", err)
	}
}

func TestWatchesEndOnConnectionLoss(t *testing.T) {
	ctx := context.Background()
	server := relay.NewServer(memstore.New())
	httpSrv := httptest.NewServer(server)
	t.Cleanup(httpSrv.Close)

	s, err := Dial("ws" + strings.TrimPrefix(httpSrv.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(s.Close)

	docCh, _, err := s.WatchDoc(ctx, "rooms", "r1")
	if err != nil {
		t.Fatalf("watch doc: %v", err)
	}
	colCh, _, err := s.WatchCollection(ctx, "queue")
	if err != nil {
		t.Fatalf("watch collection: %v", err)
	}

	// Relay goes away: calls must fail and every open watch must end, so a
	// consumer blocked on a watch channel learns the store is gone.
	server.Close()

	deadline := time.After(3 * time.Second)
	for docCh != nil || colCh != nil {
		select {
		case _, ok := <-docCh:
			if !ok {
				docCh = nil
			}
		case _, ok := <-colCh:
			if !ok {
				colCh = nil
			}
		case <-deadline:
			t.Fatal("watch channels still open after connection loss")
		}
	}

	if err := s.Put(ctx, "rooms", "r1", map[string]any{"x": 1}); err == nil {
		t.Error("expected call to fail after connection loss")
	}
}

func TestCallsFailAfterClose(t *testing.T) {
	ctx := context.Background()
	a, _ := newRelay(t)

	a.Close()
	if err := a.Put(ctx, "rooms", "r1", map[string]any{"x": 1}); err == nil {
		t.Error("expected error after close")
	}
}

func recvDoc(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case fields := <-ch:
		return fields
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for document")
		return nil
	}
}

func recvChange(t *testing.T, ch <-chan domain.Change) domain.Change {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return domain.Change{}
	}
}
