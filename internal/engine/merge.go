package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

const mergedFromPrefix = "合併自: "

type MergeOptions struct {
	DestinationID string
	SourceIDs     []string
	// AllowRemerge lets sources already folded into the destination be folded
	// again. Quantities are then counted twice.
	AllowRemerge bool
}

type MergeResult struct {
	// Items is the destination item set after the merge.
	Items   []domain.Item
	Updated int
	Created int
	Sources []string
}

// Merge folds the items of the source work orders into the destination.
// Items with the same code have their quantities summed; the rest are copied
// under fresh ids. Sources are never modified. All writes commit in one batch.
func (e Engine) Merge(ctx context.Context, acc auth.Access, opts MergeOptions) (MergeResult, error) {
	if err := acc.RequireOwner("merge work orders"); err != nil {
		return MergeResult{}, err
	}
	if opts.DestinationID == "" {
		return MergeResult{}, domain.Invalid("destination", "destination work order is required")
	}
	dest, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, opts.DestinationID)
	if err != nil {
		return MergeResult{}, err
	}
	sourceIDs, err := dedupeSources(opts.DestinationID, opts.SourceIDs)
	if err != nil {
		return MergeResult{}, err
	}
	if len(sourceIDs) == 0 {
		items, err := e.Repo.ListItems(ctx, acc.Namespace, dest.ID)
		return MergeResult{Items: items}, err
	}

	sources, err := e.Repo.ListWorkOrdersByID(ctx, acc.Namespace, sourceIDs)
	if err != nil {
		return MergeResult{}, err
	}
	codes := make(map[string]string, len(sources))
	for _, wo := range sources {
		codes[wo.ID] = wo.No
	}
	for _, id := range sourceIDs {
		if _, ok := codes[id]; !ok {
			return MergeResult{}, fmt.Errorf("source work order %s: %w", id, repo.ErrNotFound)
		}
	}
	if !opts.AllowRemerge {
		if err := e.checkNotMerged(ctx, acc.Namespace, dest.ID, sourceIDs); err != nil {
			return MergeResult{}, err
		}
	}

	srcItems, err := e.Repo.ListItemsForWorkOrders(ctx, acc.Namespace, sourceIDs)
	if err != nil {
		return MergeResult{}, err
	}
	destItems, err := e.Repo.ListItems(ctx, acc.Namespace, dest.ID)
	if err != nil {
		return MergeResult{}, err
	}

	bySource := make(map[string][]domain.Item, len(sourceIDs))
	for _, it := range srcItems {
		bySource[it.WorkOrderID] = append(bySource[it.WorkOrderID], it)
	}
	result := foldItems(destItems, sourceIDs, bySource, codes, dest.ID, e.newID)

	ops := make([]docstore.Op, 0, result.Updated+result.Created+1)
	for _, it := range result.Items {
		if !result.touched[it.ID] {
			continue
		}
		op, err := repo.PutItemOp(acc.Namespace, it)
		if err != nil {
			return MergeResult{}, err
		}
		ops = append(ops, op)
	}
	evt, err := e.Events.Op(acc.Namespace, events.WorkOrderMerged, "workorder", dest.ID, acc.ActorID, events.EventPayload{
		"sources": sourceIDs,
		"updated": result.Updated,
		"created": result.Created,
	})
	if err != nil {
		return MergeResult{}, err
	}
	ops = append(ops, evt)
	if err := e.Repo.Batch(ctx, ops); err != nil {
		return MergeResult{}, err
	}
	e.log().Info("work orders merged",
		zap.String("namespace", acc.Namespace),
		zap.String("destination", dest.ID),
		zap.Strings("sources", sourceIDs),
		zap.Int("updated", result.Updated),
		zap.Int("created", result.Created))

	items, err := e.Repo.ListItems(ctx, acc.Namespace, dest.ID)
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Items: items, Updated: result.Updated, Created: result.Created, Sources: sourceIDs}, nil
}

func dedupeSources(destID string, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if id == destID {
			return nil, domain.Invalid("sources", "a work order cannot be merged into itself")
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// checkNotMerged rejects sources already recorded by an earlier merge into
// the same destination.
func (e Engine) checkNotMerged(ctx context.Context, ns, destID string, sourceIDs []string) error {
	history, err := e.Events.List(ctx, ns, events.WorkOrderMerged, destID)
	if err != nil {
		return err
	}
	done := map[string]bool{}
	for _, evt := range history {
		list, _ := evt.Payload["sources"].([]any)
		for _, v := range list {
			if id, ok := v.(string); ok {
				done[id] = true
			}
		}
	}
	for _, id := range sourceIDs {
		if done[id] {
			return fmt.Errorf("source %s into %s: %w", id, destID, domain.ErrAlreadyMerged)
		}
	}
	return nil
}

type foldResult struct {
	Items   []domain.Item
	Updated int
	Created int
	touched map[string]bool
}

// foldItems applies source items in source order onto the destination set.
func foldItems(dest []domain.Item, sourceIDs []string, bySource map[string][]domain.Item, codes map[string]string, destID string, newID func() string) foldResult {
	res := foldResult{touched: map[string]bool{}}
	res.Items = append(res.Items, dest...)
	index := make(map[string]int, len(dest))
	for i, it := range res.Items {
		if _, ok := index[it.No]; !ok {
			index[it.No] = i
		}
	}
	created := map[string]bool{}
	for _, srcID := range sourceIDs {
		srcNo := codes[srcID]
		for _, s := range bySource[srcID] {
			if i, ok := index[s.No]; ok {
				it := &res.Items[i]
				it.Qty += s.Qty
				if it.Remark != "" {
					it.Remark = it.Remark + ", " + srcNo
				} else {
					it.Remark = mergedFromPrefix + srcNo
				}
				if !created[it.ID] && !res.touched[it.ID] {
					res.Updated++
				}
				res.touched[it.ID] = true
				continue
			}
			it := s
			it.ID = newID()
			it.WorkOrderID = destID
			it.Remark = mergedFromPrefix + srcNo
			it.CreatedAt, it.UpdatedAt = "", ""
			res.Items = append(res.Items, it)
			index[it.No] = len(res.Items) - 1
			created[it.ID] = true
			res.touched[it.ID] = true
			res.Created++
		}
	}
	return res
}
