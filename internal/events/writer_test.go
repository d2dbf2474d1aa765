package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"worksafe/internal/db"
	"worksafe/internal/docstore"
	"worksafe/internal/events"
	"worksafe/internal/migrate"
)

func newWriter(t *testing.T) events.Writer {
	t.Helper()
	return newWriterAt(t, nil)
}

func newWriterAt(t *testing.T, now func() time.Time) events.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Writer{Store: docstore.NewSQLStore(conn, docstore.Options{Hub: docstore.NewHub(), Now: now})}
}

func TestAppendListAndFilter(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t)
	if err := w.Append(ctx, "alice", events.WorkOrderCreated, "workorder", "wo-1", "alice", events.EventPayload{"no": "A1234567"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "alice", events.ItemSaved, "item", "it-1", "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "bob", events.WorkOrderCreated, "workorder", "wo-2", "bob", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := w.List(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events in alice's namespace, got %d", len(all))
	}
	created, err := w.List(ctx, "alice", events.WorkOrderCreated, "")
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(created) != 1 || created[0].EntityID != "wo-1" || created[0].Payload["no"] != "A1234567" {
		t.Fatalf("unexpected filtered events: %+v", created)
	}
	if created[0].CreatedAt == "" {
		t.Fatalf("expected createdAt from the stored document")
	}
	byEntity, err := w.List(ctx, "alice", "", "it-1")
	if err != nil || len(byEntity) != 1 || byEntity[0].Type != events.ItemSaved {
		t.Fatalf("list by entity: %v %+v", err, byEntity)
	}
	if byEntity[0].Payload == nil {
		t.Fatalf("expected empty payload map, got nil")
	}
}

func TestGetEvent(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t)
	op, err := w.Op("alice", events.SignatureCaptured, "agreement", "wo-1", "guest", events.EventPayload{"role": "csc_staff"})
	if err != nil {
		t.Fatalf("op: %v", err)
	}
	if err := w.Store.Batch(ctx, []docstore.Op{op}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	evt, err := w.Get(ctx, "alice", op.Key.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if evt.Type != events.SignatureCaptured || evt.ActorID != "guest" || evt.Payload["role"] != "csc_staff" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if _, err := w.Get(ctx, "bob", op.Key.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected not found in another namespace, got %v", err)
	}
}

func TestListIsOldestFirstWithinASecond(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	w := newWriterAt(t, func() time.Time { return at })
	if err := w.Append(ctx, "alice", events.ItemSaved, "item", "first", "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	at = at.Add(100 * time.Millisecond)
	if err := w.Append(ctx, "alice", events.ItemSaved, "item", "second", "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := w.List(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].EntityID != "first" || got[1].EntityID != "second" {
		t.Fatalf("expected first then second, got %+v", got)
	}
}

func TestDecodeSortsOnFullTimestamp(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	docs := []docstore.Doc{
		{Key: docstore.Key{ID: "late"}, Data: []byte(`{"type":"item.saved"}`), CreatedAt: base.Add(100 * time.Millisecond)},
		{Key: docstore.Key{ID: "early"}, Data: []byte(`{"type":"item.saved"}`), CreatedAt: base},
	}
	got, err := events.Decode(docs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("expected early then late, got %s, %s", got[0].ID, got[1].ID)
	}
	if docs[0].ID != "late" {
		t.Fatalf("decode reordered the caller's slice")
	}
}
