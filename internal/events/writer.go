package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
)

// Collection holds audit events, one per committed state change.
const Collection = "events"

const (
	WorkOrderCreated     = "workorder.created"
	WorkOrderUpdated     = "workorder.updated"
	WorkOrderDeleted     = "workorder.deleted"
	WorkOrderMerged      = "workorder.merged"
	WorkOrderTransferred = "workorder.transferred"
	WorkOrderReceived    = "workorder.received"
	ItemSaved            = "item.saved"
	ItemDeleted          = "item.deleted"
	AgreementUpdated     = "agreement.updated"
	SignatureCaptured    = "signature.captured"
	SignatureCleared     = "signature.cleared"
	SignatureRedated     = "signature.redated"
	ProfileUpdated       = "profile.updated"
)

type Writer struct {
	Store docstore.Store
}

type EventPayload map[string]any

// Op builds the event document so callers can commit it in the same batch
// as the change it records.
func (w Writer) Op(namespace, evtType, entityKind, entityID, actorID string, payload EventPayload) (docstore.Op, error) {
	if payload == nil {
		payload = EventPayload{}
	}
	evt := domain.Event{
		ID:         uuid.NewString(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	}
	op, err := docstore.SetOp(docstore.Key{Namespace: namespace, Collection: Collection, ID: evt.ID}, evt)
	if err != nil {
		return docstore.Op{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return op, nil
}

// Append writes a single event on its own.
func (w Writer) Append(ctx context.Context, namespace, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	op, err := w.Op(namespace, evtType, entityKind, entityID, actorID, payload)
	if err != nil {
		return err
	}
	return w.Store.Batch(ctx, []docstore.Op{op})
}

// List returns events of a namespace, optionally limited to one type and
// entity, oldest first.
func (w Writer) List(ctx context.Context, namespace, evtType, entityID string) ([]domain.Event, error) {
	q := docstore.Query{Namespace: namespace, Collection: Collection}
	if evtType != "" {
		q.Filters = append(q.Filters, docstore.Eq("type", evtType))
	}
	if entityID != "" {
		q.Filters = append(q.Filters, docstore.Eq("entityId", entityID))
	}
	docs, err := w.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return Decode(docs)
}

// Decode turns event documents into events, oldest first.
func Decode(docs []docstore.Doc) ([]domain.Event, error) {
	docs = append([]docstore.Doc(nil), docs...)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	res := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		var evt domain.Event
		if err := json.Unmarshal(d.Data, &evt); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", d.ID, err)
		}
		evt.ID = d.ID
		evt.CreatedAt = d.CreatedAt.UTC().Format(time.RFC3339)
		res = append(res, evt)
	}
	return res, nil
}

// Get reads one event by id.
func (w Writer) Get(ctx context.Context, namespace, id string) (domain.Event, error) {
	doc, err := w.Store.Get(ctx, docstore.Key{Namespace: namespace, Collection: Collection, ID: id})
	if err != nil {
		return domain.Event{}, err
	}
	res, err := Decode([]docstore.Doc{doc})
	if err != nil {
		return domain.Event{}, err
	}
	return res[0], nil
}
