package engine

import (
	"context"
	"fmt"
	"strings"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

// ItemInput creates an item when ID is empty and edits it otherwise.
// A nil Price is filled from the catalog when the code is known, and
// otherwise keeps the stored price of an edited item.
type ItemInput struct {
	ID          string
	WorkOrderID string
	No          string
	Name        string
	Qty         float64
	Price       *float64
	Remark      string
}

// SaveItem validates and writes one item of a work order. Item codes are
// unique within a work order.
func (e Engine) SaveItem(ctx context.Context, acc auth.Access, in ItemInput) (domain.Item, error) {
	if err := acc.RequireOwner("save item"); err != nil {
		return domain.Item{}, err
	}
	it := domain.Item{
		ID:          in.ID,
		WorkOrderID: in.WorkOrderID,
		No:          in.No,
		Name:        in.Name,
		Qty:         in.Qty,
		Remark:      strings.TrimSpace(in.Remark),
	}
	priced := in.Price != nil
	if priced {
		it.Price = *in.Price
	}
	it.Normalize()
	if e.Catalog != nil && it.No != "" {
		if entry, ok := e.Catalog.Lookup(it.No); ok {
			if it.Name == "" {
				it.Name = entry.Name
			}
			if !priced {
				it.Price = entry.Price
				priced = true
			}
		}
	}
	if err := it.Validate(); err != nil {
		return domain.Item{}, err
	}
	if _, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, it.WorkOrderID); err != nil {
		return domain.Item{}, err
	}

	created := it.ID == ""
	if created {
		it.ID = e.newID()
	} else {
		prev, err := e.Repo.GetItem(ctx, acc.Namespace, it.ID)
		if err != nil {
			return domain.Item{}, err
		}
		if prev.WorkOrderID != it.WorkOrderID {
			return domain.Item{}, domain.Invalid("workOrderId", "item belongs to another work order")
		}
		if !priced {
			it.Price = prev.Price
		}
	}
	siblings, err := e.Repo.ListItems(ctx, acc.Namespace, it.WorkOrderID)
	if err != nil {
		return domain.Item{}, err
	}
	for _, s := range siblings {
		if s.ID != it.ID && s.No == it.No {
			return domain.Item{}, domain.Invalid("no", "item "+it.No+" already exists on this work order")
		}
	}

	op, err := repo.PutItemOp(acc.Namespace, it)
	if err != nil {
		return domain.Item{}, err
	}
	evt, err := e.Events.Op(acc.Namespace, events.ItemSaved, "item", it.ID, acc.ActorID, events.EventPayload{
		"workOrderId": it.WorkOrderID,
		"no":          it.No,
		"created":     created,
	})
	if err != nil {
		return domain.Item{}, err
	}
	if err := e.Repo.Batch(ctx, []docstore.Op{op, evt}); err != nil {
		return domain.Item{}, err
	}
	return e.Repo.GetItem(ctx, acc.Namespace, it.ID)
}

// DeleteItem removes an item of woID. An item of another work order is
// reported as not found.
func (e Engine) DeleteItem(ctx context.Context, acc auth.Access, woID, id string) error {
	if err := acc.RequireOwner("delete item"); err != nil {
		return err
	}
	it, err := e.Repo.GetItem(ctx, acc.Namespace, id)
	if err != nil {
		return err
	}
	if it.WorkOrderID != woID {
		return fmt.Errorf("item %s of work order %s: %w", id, woID, repo.ErrNotFound)
	}
	evt, err := e.Events.Op(acc.Namespace, events.ItemDeleted, "item", id, acc.ActorID, events.EventPayload{
		"workOrderId": it.WorkOrderID,
		"no":          it.No,
	})
	if err != nil {
		return err
	}
	return e.Repo.Batch(ctx, []docstore.Op{repo.DeleteItemOp(acc.Namespace, id), evt})
}

// ListItems returns the items of a work order the access may read.
func (e Engine) ListItems(ctx context.Context, acc auth.Access, woID string) ([]domain.Item, error) {
	if err := acc.RequireRead(woID); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, woID); err != nil {
		return nil, err
	}
	return e.Repo.ListItems(ctx, acc.Namespace, woID)
}
