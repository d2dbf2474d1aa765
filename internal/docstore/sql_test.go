package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"worksafe/internal/db"
	"worksafe/internal/migrate"
)

var fixedNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(conn, Options{Now: func() time.Time { return fixedNow }})
}

func key(id string) Key { return Key{Namespace: "u1", Collection: "items", ID: id} }

func decode(t *testing.T, doc Doc) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		t.Fatalf("decode %s: %v", doc.Key, err)
	}
	return m
}

func nextSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return snap
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), key("nope")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTimestampsAreServerAssigned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Set(ctx, key("a"), map[string]any{"no": "A1", "createdAt": "1999-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err := s.Get(ctx, key("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !doc.CreatedAt.Equal(fixedNow) || !doc.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("timestamps not from store clock: %v %v", doc.CreatedAt, doc.UpdatedAt)
	}
	if _, ok := decode(t, doc)["createdAt"]; ok {
		t.Fatalf("client createdAt persisted")
	}

	later := fixedNow.Add(time.Hour)
	s.Now = func() time.Time { return later }
	if err := s.Merge(ctx, key("a"), map[string]any{"qty": 2}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc, _ = s.Get(ctx, key("a"))
	if !doc.CreatedAt.Equal(fixedNow) || !doc.UpdatedAt.Equal(later) {
		t.Fatalf("merge should only move updatedAt: %v %v", doc.CreatedAt, doc.UpdatedAt)
	}
}

func TestQueryOrdersBySubsecondCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s.Now = func() time.Time { return at }
	if err := s.Set(ctx, key("z-first"), map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}
	at = at.Add(100 * time.Millisecond)
	if err := s.Set(ctx, key("a-second"), map[string]any{"v": 2}); err != nil {
		t.Fatal(err)
	}
	docs, err := s.Query(ctx, Query{Namespace: "u1", Collection: "items"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "z-first" || docs[1].ID != "a-second" {
		t.Fatalf("expected creation order, got %v", docIDs(docs))
	}
	if !docs[1].CreatedAt.Equal(at) {
		t.Fatalf("sub-second timestamp lost: %v", docs[1].CreatedAt)
	}
}

func docIDs(docs []Doc) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestMergeIsShallow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, key("a"), map[string]any{"no": "A1", "sig": map[string]any{"x": 1, "y": 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(ctx, key("a"), map[string]any{"sig": map[string]any{"x": 3}}); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, key("a"))
	m := decode(t, doc)
	if m["no"] != "A1" {
		t.Fatalf("untouched field lost: %v", m)
	}
	sig := m["sig"].(map[string]any)
	if _, ok := sig["y"]; ok || sig["x"].(float64) != 3 {
		t.Fatalf("nested field should be replaced wholesale: %v", sig)
	}

	if err := s.Merge(ctx, key("new"), map[string]any{"no": "B"}); err != nil {
		t.Fatalf("merge should create: %v", err)
	}
	if _, err := s.Get(ctx, key("new")); err != nil {
		t.Fatalf("merged doc missing: %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for id, wo := range map[string]string{"i1": "w1", "i2": "w2", "i3": "w3", "i4": "w1"} {
		if err := s.Set(ctx, key(id), map[string]any{"workOrderId": wo}); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.Query(ctx, Query{Namespace: "u1", Collection: "items", Filters: []Filter{Eq("workOrderId", "w1")}})
	if err != nil || len(docs) != 2 {
		t.Fatalf("eq filter: %v %d", err, len(docs))
	}
	docs, _ = s.Query(ctx, Query{Namespace: "u1", Collection: "items", Filters: []Filter{In("workOrderId", "w2", "w3")}})
	if len(docs) != 2 {
		t.Fatalf("in filter: got %d", len(docs))
	}
	docs, _ = s.Query(ctx, Query{Namespace: "u1", Collection: "items", Filters: []Filter{IDIn("i1", "i3", "missing")}})
	if len(docs) != 2 {
		t.Fatalf("id filter: got %d", len(docs))
	}
	docs, _ = s.Query(ctx, Query{Namespace: "u2", Collection: "items"})
	if len(docs) != 0 {
		t.Fatalf("namespaces must not leak")
	}
}

func TestBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, key("array"), json.RawMessage(`[1,2]`)); err != nil {
		t.Fatal(err)
	}
	good, _ := SetOp(key("good"), map[string]any{"no": "X"})
	bad, _ := MergeOp(key("array"), map[string]any{"no": "Y"})
	if err := s.Batch(ctx, []Op{good, bad}); err == nil {
		t.Fatalf("expected batch failure")
	}
	if _, err := s.Get(ctx, key("good")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial batch committed: %v", err)
	}
}

func TestRawSetKeepsBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	raw := json.RawMessage(`{"woNo": "AB12CD34",  "note":"<b>&"}`)
	if err := s.Batch(ctx, []Op{RawSetOp(key("r"), raw)}); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, key("r"))
	if string(doc.Data) != string(raw) {
		t.Fatalf("bytes changed: %s", doc.Data)
	}
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Subscribe(ctx, Query{Namespace: "u1", Collection: "items", ID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if snap := nextSnapshot(t, sub); snap.Err != nil || len(snap.Docs) != 0 {
		t.Fatalf("initial snapshot: %+v", snap)
	}
	if err := s.Set(ctx, key("a"), map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}
	snap := nextSnapshot(t, sub)
	if len(snap.Docs) != 1 || decode(t, snap.Docs[0])["v"].(float64) != 1 {
		t.Fatalf("change not delivered: %+v", snap)
	}

	sub.Close()
	for range sub.Updates() {
	}
	if n := s.Hub.Listeners("u1", "items"); n != 0 {
		t.Fatalf("listener leaked: %d", n)
	}
}

func TestSubscribeLatestWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Subscribe(ctx, Query{Namespace: "u1", Collection: "items", ID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	nextSnapshot(t, sub)
	for i := 1; i <= 5; i++ {
		if err := s.Set(ctx, key("a"), map[string]any{"v": i}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-sub.Updates():
			if len(snap.Docs) == 1 && decode(t, snap.Docs[0])["v"].(float64) == 5 {
				return
			}
		case <-deadline:
			t.Fatalf("never saw the latest write")
		}
	}
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	s.DB.Close()
	_, err := s.Get(context.Background(), key("a"))
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	err = s.Set(context.Background(), key("a"), map[string]any{"v": 1})
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError on write, got %v", err)
	}
}

func TestTapsSeeLocalCommitsOnly(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	hub := NewHub()
	feed := NewChangeFeed(4)
	s := NewSQLStore(conn, Options{Hub: hub, Taps: []Broadcaster{feed}})
	ctx := context.Background()

	if err := s.Set(ctx, key("a"), map[string]any{"qty": 1}); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-feed.Changes():
		if c.ID != "a" || c.Op != OpSet {
			t.Fatalf("unexpected change %+v", c)
		}
	default:
		t.Fatalf("expected local change on tap")
	}

	// Relayed changes reach the hub but not the tap.
	hub.Broadcast(ctx, []Change{{Namespace: "u1", Collection: "items", ID: "b", Op: OpSet}})
	select {
	case c := <-feed.Changes():
		t.Fatalf("relayed change leaked to tap: %+v", c)
	default:
	}
}

func TestChangeFeedCountsDrops(t *testing.T) {
	feed := NewChangeFeed(1)
	feed.Broadcast(context.Background(), []Change{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	if feed.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", feed.Dropped())
	}
}
