// Package docstore keeps JSON documents addressed by (namespace, collection,
// id) on a SQL database and pushes fresh snapshots to subscribers after every
// change.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("document not found")

// UnavailableError reports that the backing store could not serve a request.
// Callers surface it; nothing retries automatically.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// Key addresses one document.
type Key struct {
	Namespace  string
	Collection string
	ID         string
}

func (k Key) String() string { return k.Namespace + "/" + k.Collection + "/" + k.ID }

func (k Key) validate() error {
	if k.Namespace == "" || k.Collection == "" || k.ID == "" {
		return fmt.Errorf("incomplete document key %q", k.String())
	}
	return nil
}

// Doc is a stored document. CreatedAt and UpdatedAt are assigned by the store.
type Doc struct {
	Key
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FieldID matches the document id instead of a data field.
const FieldID = "__id__"

type filterOp int

const (
	opEq filterOp = iota
	opIn
)

// Filter restricts a query on a top-level field.
type Filter struct {
	Field  string
	op     filterOp
	values []any
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Filter {
	return Filter{Field: field, op: opEq, values: []any{v}}
}

// In matches documents whose field equals any of vs.
func In(field string, vs ...any) Filter {
	return Filter{Field: field, op: opIn, values: vs}
}

// IDIn matches documents by id.
func IDIn(ids ...string) Filter {
	vs := make([]any, len(ids))
	for i, id := range ids {
		vs[i] = id
	}
	return In(FieldID, vs...)
}

// Query selects documents of one collection. When ID is set the query
// targets that single document and Filters are ignored.
type Query struct {
	Namespace  string
	Collection string
	ID         string
	Filters    []Filter
}

type OpKind string

const (
	OpSet    OpKind = "set"
	OpMerge  OpKind = "merge"
	OpDelete OpKind = "delete"
)

// Op is one write inside a batch. Data holds the full document for OpSet
// and the top-level fields to overlay for OpMerge; it is stored as given.
type Op struct {
	Kind OpKind
	Key  Key
	Data json.RawMessage
}

// SetOp replaces the document at key with the JSON encoding of v.
func SetOp(key Key, v any) (Op, error) {
	data, err := marshalDoc(v)
	if err != nil {
		return Op{}, err
	}
	return Op{Kind: OpSet, Key: key, Data: data}, nil
}

// RawSetOp replaces the document at key with data byte for byte.
func RawSetOp(key Key, data json.RawMessage) Op {
	return Op{Kind: OpSet, Key: key, Data: data}
}

// MergeOp overlays the top-level fields of v onto the document at key,
// creating it when missing.
func MergeOp(key Key, v any) (Op, error) {
	data, err := marshalDoc(v)
	if err != nil {
		return Op{}, err
	}
	return Op{Kind: OpMerge, Key: key, Data: data}, nil
}

// DeleteOp removes the document at key. Deleting a missing document succeeds.
func DeleteOp(key Key) Op {
	return Op{Kind: OpDelete, Key: key}
}

func marshalDoc(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Store is the document store contract the repository builds on.
type Store interface {
	Get(ctx context.Context, key Key) (Doc, error)
	Set(ctx context.Context, key Key, v any) error
	Merge(ctx context.Context, key Key, v any) error
	Delete(ctx context.Context, key Key) error
	Query(ctx context.Context, q Query) ([]Doc, error)
	// Batch applies every op or none.
	Batch(ctx context.Context, ops []Op) error
	// Subscribe delivers the current result of q immediately and again
	// after every change to q's collection.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}
