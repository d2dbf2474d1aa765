package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
)

const (
	CollectionWorkOrders = "workOrders"
	CollectionItems      = "items"
	CollectionAgreements = "agreements"
	CollectionProfiles   = "userProfiles"
)

// Repo is the typed view over the document store. Every entity lives in the
// namespace of the user that owns it.
type Repo struct {
	Store docstore.Store
}

var ErrNotFound = errors.New("not found")

func mapErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func key(ns, collection, id string) docstore.Key {
	return docstore.Key{Namespace: ns, Collection: collection, ID: id}
}

func WorkOrderKey(ns, id string) docstore.Key { return key(ns, CollectionWorkOrders, id) }
func ItemKey(ns, id string) docstore.Key      { return key(ns, CollectionItems, id) }
func AgreementKey(ns, id string) docstore.Key { return key(ns, CollectionAgreements, id) }
func ProfileKey(uid string) docstore.Key      { return key(uid, CollectionProfiles, uid) }

func stamp(d docstore.Doc) (string, string) {
	return d.CreatedAt.UTC().Format(time.RFC3339), d.UpdatedAt.UTC().Format(time.RFC3339)
}

// Batch commits ops atomically.
func (r Repo) Batch(ctx context.Context, ops []docstore.Op) error {
	return r.Store.Batch(ctx, ops)
}

// Work orders

func DecodeWorkOrder(d docstore.Doc) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	if err := json.Unmarshal(d.Data, &wo); err != nil {
		return wo, fmt.Errorf("decode work order %s: %w", d.ID, err)
	}
	wo.ID = d.ID
	wo.CreatedAt, wo.UpdatedAt = stamp(d)
	return wo, nil
}

func decodeWorkOrders(docs []docstore.Doc) ([]domain.WorkOrder, error) {
	res := make([]domain.WorkOrder, 0, len(docs))
	for _, d := range docs {
		wo, err := DecodeWorkOrder(d)
		if err != nil {
			return nil, err
		}
		res = append(res, wo)
	}
	return res, nil
}

func (r Repo) GetWorkOrder(ctx context.Context, ns, id string) (domain.WorkOrder, error) {
	d, err := r.Store.Get(ctx, WorkOrderKey(ns, id))
	if err != nil {
		return domain.WorkOrder{}, mapErr(err)
	}
	return DecodeWorkOrder(d)
}

func (r Repo) ListWorkOrders(ctx context.Context, ns string, filters ...docstore.Filter) ([]domain.WorkOrder, error) {
	docs, err := r.Store.Query(ctx, docstore.Query{Namespace: ns, Collection: CollectionWorkOrders, Filters: filters})
	if err != nil {
		return nil, err
	}
	return decodeWorkOrders(docs)
}

func (r Repo) ListWorkOrdersByID(ctx context.Context, ns string, ids []string) ([]domain.WorkOrder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.ListWorkOrders(ctx, ns, docstore.IDIn(ids...))
}

func PutWorkOrderOp(ns string, wo domain.WorkOrder) (docstore.Op, error) {
	wo.CreatedAt, wo.UpdatedAt = "", ""
	return docstore.SetOp(WorkOrderKey(ns, wo.ID), wo)
}

func DeleteWorkOrderOp(ns, id string) docstore.Op {
	return docstore.DeleteOp(WorkOrderKey(ns, id))
}

func (r Repo) SubscribeWorkOrders(ctx context.Context, ns string) (*docstore.Subscription, error) {
	return r.Store.Subscribe(ctx, docstore.Query{Namespace: ns, Collection: CollectionWorkOrders})
}

// Items

func DecodeItem(d docstore.Doc) (domain.Item, error) {
	var it domain.Item
	if err := json.Unmarshal(d.Data, &it); err != nil {
		return it, fmt.Errorf("decode item %s: %w", d.ID, err)
	}
	it.ID = d.ID
	it.CreatedAt, it.UpdatedAt = stamp(d)
	return it, nil
}

func DecodeItems(docs []docstore.Doc) ([]domain.Item, error) {
	res := make([]domain.Item, 0, len(docs))
	for _, d := range docs {
		it, err := DecodeItem(d)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, nil
}

func (r Repo) GetItem(ctx context.Context, ns, id string) (domain.Item, error) {
	d, err := r.Store.Get(ctx, ItemKey(ns, id))
	if err != nil {
		return domain.Item{}, mapErr(err)
	}
	return DecodeItem(d)
}

func (r Repo) ListItems(ctx context.Context, ns, workOrderID string) ([]domain.Item, error) {
	docs, err := r.Store.Query(ctx, docstore.Query{
		Namespace:  ns,
		Collection: CollectionItems,
		Filters:    []docstore.Filter{docstore.Eq("workOrderId", workOrderID)},
	})
	if err != nil {
		return nil, err
	}
	return DecodeItems(docs)
}

// ListItemsForWorkOrders reads the items of several work orders in one query.
func (r Repo) ListItemsForWorkOrders(ctx context.Context, ns string, workOrderIDs []string) ([]domain.Item, error) {
	if len(workOrderIDs) == 0 {
		return nil, nil
	}
	vs := make([]any, len(workOrderIDs))
	for i, id := range workOrderIDs {
		vs[i] = id
	}
	docs, err := r.Store.Query(ctx, docstore.Query{
		Namespace:  ns,
		Collection: CollectionItems,
		Filters:    []docstore.Filter{docstore.In("workOrderId", vs...)},
	})
	if err != nil {
		return nil, err
	}
	return DecodeItems(docs)
}

func PutItemOp(ns string, it domain.Item) (docstore.Op, error) {
	it.CreatedAt, it.UpdatedAt = "", ""
	return docstore.SetOp(ItemKey(ns, it.ID), it)
}

func DeleteItemOp(ns, id string) docstore.Op {
	return docstore.DeleteOp(ItemKey(ns, id))
}

func (r Repo) SubscribeItems(ctx context.Context, ns, workOrderID string) (*docstore.Subscription, error) {
	return r.Store.Subscribe(ctx, docstore.Query{
		Namespace:  ns,
		Collection: CollectionItems,
		Filters:    []docstore.Filter{docstore.Eq("workOrderId", workOrderID)},
	})
}

// Agreements

func DecodeAgreement(data json.RawMessage) (domain.Agreement, error) {
	var a domain.Agreement
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("decode agreement: %w", err)
	}
	if a.SafetyChecks == nil {
		a.SafetyChecks = []int{}
	}
	if a.Signatures == nil {
		a.Signatures = domain.Signatures{}
	}
	return a, nil
}

func (r Repo) GetAgreement(ctx context.Context, ns, id string) (domain.Agreement, error) {
	raw, err := r.GetAgreementRaw(ctx, ns, id)
	if err != nil {
		return domain.Agreement{}, err
	}
	return DecodeAgreement(raw)
}

// GetAgreementRaw returns the stored bytes untouched.
func (r Repo) GetAgreementRaw(ctx context.Context, ns, id string) (json.RawMessage, error) {
	d, err := r.Store.Get(ctx, AgreementKey(ns, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return d.Data, nil
}

func PutAgreementOp(ns, id string, a domain.Agreement) (docstore.Op, error) {
	return docstore.SetOp(AgreementKey(ns, id), a)
}

func RawAgreementOp(ns, id string, raw json.RawMessage) docstore.Op {
	return docstore.RawSetOp(AgreementKey(ns, id), raw)
}

func MergeAgreementOp(ns, id string, fields map[string]any) (docstore.Op, error) {
	return docstore.MergeOp(AgreementKey(ns, id), fields)
}

func DeleteAgreementOp(ns, id string) docstore.Op {
	return docstore.DeleteOp(AgreementKey(ns, id))
}

func (r Repo) MergeAgreement(ctx context.Context, ns, id string, fields map[string]any) error {
	return r.Store.Merge(ctx, AgreementKey(ns, id), fields)
}

func (r Repo) SubscribeAgreement(ctx context.Context, ns, id string) (*docstore.Subscription, error) {
	return r.Store.Subscribe(ctx, docstore.Query{Namespace: ns, Collection: CollectionAgreements, ID: id})
}

// Profiles

func (r Repo) GetProfile(ctx context.Context, uid string) (domain.UserProfile, error) {
	d, err := r.Store.Get(ctx, ProfileKey(uid))
	if err != nil {
		return domain.UserProfile{}, mapErr(err)
	}
	var p domain.UserProfile
	if err := json.Unmarshal(d.Data, &p); err != nil {
		return p, fmt.Errorf("decode profile %s: %w", uid, err)
	}
	p.UID = uid
	p.CreatedAt, p.UpdatedAt = stamp(d)
	return p, nil
}

func MergeProfileOp(uid string, fields map[string]any) (docstore.Op, error) {
	return docstore.MergeOp(ProfileKey(uid), fields)
}

func (r Repo) MergeProfile(ctx context.Context, uid string, fields map[string]any) error {
	return r.Store.Merge(ctx, ProfileKey(uid), fields)
}
