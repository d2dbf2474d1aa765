package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"worksafe/internal/db"
)

// timestampLayout is fixed width so the text columns sort in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// reserved fields are owned by the store and never persisted from callers.
var reservedFields = []string{"createdAt", "updatedAt"}

type Options struct {
	// Driver selects placeholder syntax; see db.DriverSQLite and db.DriverPgx.
	Driver string
	Now    func() time.Time
	Hub    *Hub
	// Broadcaster also receives committed changes after Hub, typically a
	// relay to other instances.
	Broadcaster Broadcaster
	// Taps see only changes committed by this store, never relayed ones.
	Taps   []Broadcaster
	Logger *zap.Logger
}

// SQLStore implements Store on the documents table.
type SQLStore struct {
	DB          *sql.DB
	Driver      string
	Now         func() time.Time
	Hub         *Hub
	broadcaster Broadcaster
	taps        []Broadcaster
	log         *zap.Logger
}

func NewSQLStore(conn *sql.DB, opts Options) *SQLStore {
	s := &SQLStore{
		DB:          conn,
		Driver:      opts.Driver,
		Now:         opts.Now,
		Hub:         opts.Hub,
		broadcaster: opts.Broadcaster,
		taps:        opts.Taps,
		log:         opts.Logger,
	}
	if s.Driver == "" {
		s.Driver = db.DriverSQLite
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Hub == nil {
		s.Hub = NewHub()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *SQLStore) q(query string) string { return db.Rebind(s.Driver, query) }

func (s *SQLStore) Get(ctx context.Context, key Key) (Doc, error) {
	if err := key.validate(); err != nil {
		return Doc{}, err
	}
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT data_json, created_at, updated_at FROM documents WHERE namespace=? AND collection=? AND id=?`),
		key.Namespace, key.Collection, key.ID)
	doc, err := scanDoc(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, unavailable("get", err)
	}
	return doc, nil
}

func (s *SQLStore) Set(ctx context.Context, key Key, v any) error {
	op, err := SetOp(key, v)
	if err != nil {
		return err
	}
	return s.Batch(ctx, []Op{op})
}

func (s *SQLStore) Merge(ctx context.Context, key Key, v any) error {
	op, err := MergeOp(key, v)
	if err != nil {
		return err
	}
	return s.Batch(ctx, []Op{op})
}

func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	return s.Batch(ctx, []Op{DeleteOp(key)})
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	if q.ID != "" {
		doc, err := s.Get(ctx, Key{Namespace: q.Namespace, Collection: q.Collection, ID: q.ID})
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Doc{doc}, nil
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT id, data_json, created_at, updated_at FROM documents WHERE namespace=? AND collection=? ORDER BY created_at, id`),
		q.Namespace, q.Collection)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()
	var res []Doc
	for rows.Next() {
		doc := Doc{Key: Key{Namespace: q.Namespace, Collection: q.Collection}}
		var data, created, updated string
		if err := rows.Scan(&doc.ID, &data, &created, &updated); err != nil {
			return nil, unavailable("query", err)
		}
		doc.Data = json.RawMessage(data)
		doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		ok, err := matches(doc, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query", err)
	}
	return res, nil
}

func (s *SQLStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if err := op.Key.validate(); err != nil {
			return err
		}
		if op.Kind != OpDelete && !json.Valid(op.Data) {
			return fmt.Errorf("document %s: invalid json", op.Key)
		}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("batch", err)
	}
	defer tx.Rollback()

	ts := s.Now().UTC().Format(timestampLayout)
	changes := make([]Change, 0, len(ops))
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpSet:
			err = s.setTx(ctx, tx, op.Key, op.Data, ts)
		case OpMerge:
			err = s.mergeTx(ctx, tx, op.Key, op.Data, ts)
		case OpDelete:
			_, err = tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE namespace=? AND collection=? AND id=?`),
				op.Key.Namespace, op.Key.Collection, op.Key.ID)
			err = unavailable("delete", err)
		default:
			err = fmt.Errorf("unknown batch op %q", op.Kind)
		}
		if err != nil {
			return err
		}
		changes = append(changes, Change{Namespace: op.Key.Namespace, Collection: op.Key.Collection, ID: op.Key.ID, Op: op.Kind})
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	if err := s.Hub.Broadcast(ctx, changes); err != nil {
		s.log.Warn("notify local subscribers failed", zap.Int("changes", len(changes)), zap.Error(err))
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(ctx, changes); err != nil {
			s.log.Warn("broadcast changes failed", zap.Int("changes", len(changes)), zap.Error(err))
		}
	}
	for _, t := range s.taps {
		if err := t.Broadcast(ctx, changes); err != nil {
			s.log.Warn("change tap failed", zap.Error(err))
		}
	}
	return nil
}

func (s *SQLStore) setTx(ctx context.Context, tx *sql.Tx, key Key, data json.RawMessage, ts string) error {
	data, err := stripReserved(data)
	if err != nil {
		return fmt.Errorf("document %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO documents(namespace, collection, id, data_json, created_at, updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(namespace, collection, id) DO UPDATE SET data_json=excluded.data_json, updated_at=excluded.updated_at`),
		key.Namespace, key.Collection, key.ID, string(data), ts, ts)
	return unavailable("set", err)
}

func (s *SQLStore) mergeTx(ctx context.Context, tx *sql.Tx, key Key, patch json.RawMessage, ts string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("document %s: merge data must be an object: %w", key, err)
	}
	var current string
	err := tx.QueryRowContext(ctx, s.q(`SELECT data_json FROM documents WHERE namespace=? AND collection=? AND id=?`),
		key.Namespace, key.Collection, key.ID).Scan(&current)
	existing := map[string]json.RawMessage{}
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return unavailable("merge", err)
	default:
		if err := json.Unmarshal([]byte(current), &existing); err != nil {
			return fmt.Errorf("document %s: stored data is not an object: %w", key, err)
		}
	}
	for k, v := range fields {
		existing[k] = v
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("document %s: %w", key, err)
	}
	return s.setTx(ctx, tx, key, merged, ts)
}

// Subscribe registers q with the hub before taking the first snapshot so no
// change between the two is lost.
func (s *SQLStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if q.Namespace == "" || q.Collection == "" {
		return nil, fmt.Errorf("subscribe needs namespace and collection")
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	unregister := s.Hub.register(q.Namespace, q.Collection, q.ID, sub.notify)
	go func() {
		defer close(sub.updates)
		defer unregister()
		for {
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			sub.deliver(Snapshot{Docs: docs, Err: err})
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
			}
		}
	}()
	return sub, nil
}

func scanDoc(row *sql.Row, key Key) (Doc, error) {
	var data, created, updated string
	if err := row.Scan(&data, &created, &updated); err != nil {
		return Doc{}, err
	}
	doc := Doc{Key: key, Data: json.RawMessage(data)}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

// stripReserved only re-encodes data when it carries a reserved field, so
// documents without them are stored byte for byte.
func stripReserved(data json.RawMessage) (json.RawMessage, error) {
	hit := false
	for _, f := range reservedFields {
		if bytes.Contains(data, []byte(`"`+f+`"`)) {
			hit = true
			break
		}
	}
	if !hit {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data, nil
	}
	changed := false
	for _, f := range reservedFields {
		if _, ok := fields[f]; ok {
			delete(fields, f)
			changed = true
		}
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(fields)
}

func matches(doc Doc, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return false, fmt.Errorf("document %s: %w", doc.Key, err)
	}
	for _, f := range filters {
		var got json.RawMessage
		if f.Field == FieldID {
			got, _ = json.Marshal(doc.ID)
		} else {
			got = fields[f.Field]
		}
		ok, err := f.match(got)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (f Filter) match(got json.RawMessage) (bool, error) {
	if got == nil {
		return false, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, got); err != nil {
		return false, err
	}
	for _, v := range f.values {
		want, err := json.Marshal(v)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		if bytes.Equal(compact.Bytes(), want) {
			return true, nil
		}
	}
	return false, nil
}
