package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

// Draft keeps a local, editable copy of one work order's agreement in step
// with the stored document. Remote snapshots always replace the local copy.
// Every Focus starts a new generation; snapshots and write results of an
// older generation are dropped.
type Draft struct {
	e   Engine
	ctx context.Context

	mu      sync.Mutex
	acc     auth.Access
	gen     uint64
	wo      domain.WorkOrder
	current domain.Agreement
	stored  bool
	sub     *docstore.Subscription
	closed  bool

	updates chan domain.Agreement
}

// OpenDraft focuses a draft on acc.WorkOrderID. The first remote snapshot is
// applied before it returns.
func (e Engine) OpenDraft(ctx context.Context, acc auth.Access) (*Draft, error) {
	d := &Draft{
		e:       e,
		ctx:     ctx,
		acc:     acc,
		updates: make(chan domain.Agreement, 1),
	}
	if err := d.Focus(ctx, acc.WorkOrderID); err != nil {
		return nil, err
	}
	return d, nil
}

// Focus moves the draft to another work order of the same namespace.
func (d *Draft) Focus(ctx context.Context, woID string) error {
	acc, err := d.acc.WithWorkOrder(woID)
	if err != nil {
		return err
	}
	if err := acc.RequireRead(woID); err != nil {
		return err
	}
	wo, err := d.e.Repo.GetWorkOrder(ctx, acc.Namespace, woID)
	if err != nil {
		return err
	}
	sub, err := d.e.Repo.SubscribeAgreement(d.ctx, acc.Namespace, woID)
	if err != nil {
		return err
	}
	var first docstore.Snapshot
	select {
	case first = <-sub.Updates():
	case <-ctx.Done():
		sub.Close()
		return ctx.Err()
	}
	if first.Err != nil {
		sub.Close()
		return first.Err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		sub.Close()
		return nil
	}
	if d.sub != nil {
		d.sub.Close()
	}
	d.gen++
	gen := d.gen
	d.acc = acc
	d.wo = wo
	d.sub = sub
	d.applyLocked(first)
	d.mu.Unlock()

	go d.follow(gen, sub)
	return nil
}

func (d *Draft) follow(gen uint64, sub *docstore.Subscription) {
	for snap := range sub.Updates() {
		d.mu.Lock()
		if d.gen != gen || d.closed {
			d.mu.Unlock()
			return
		}
		if snap.Err != nil {
			d.e.log().Warn("agreement snapshot failed", zap.String("work_order", d.acc.WorkOrderID), zap.Error(snap.Err))
			d.mu.Unlock()
			continue
		}
		d.applyLocked(snap)
		d.mu.Unlock()
	}
}

func (d *Draft) applyLocked(snap docstore.Snapshot) {
	if len(snap.Docs) == 0 {
		d.current = domain.DefaultAgreement(d.wo)
		d.stored = false
	} else {
		a, err := repo.DecodeAgreement(snap.Docs[0].Data)
		if err != nil {
			d.e.log().Warn("drop undecodable agreement", zap.String("work_order", d.acc.WorkOrderID), zap.Error(err))
			return
		}
		d.current = a
		d.stored = true
	}
	d.publishLocked()
}

func (d *Draft) publishLocked() {
	a := d.current.Clone()
	select {
	case d.updates <- a:
		return
	default:
	}
	select {
	case <-d.updates:
	default:
	}
	select {
	case d.updates <- a:
	default:
	}
}

// Current returns a copy of the local draft.
func (d *Draft) Current() domain.Agreement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current.Clone()
}

// Stored reports whether the draft mirrors a stored agreement document.
func (d *Draft) Stored() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stored
}

func (d *Draft) WorkOrderID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acc.WorkOrderID
}

// Updates yields the latest draft after every local or remote change.
func (d *Draft) Updates() <-chan domain.Agreement { return d.updates }

// UpdateField applies a field edit locally and writes it back unless the
// access is a guest view. A failed write restores the previous local value,
// provided the draft is still focused on the same work order.
func (d *Draft) UpdateField(ctx context.Context, field, value string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	prev := d.current.Clone()
	next := d.current.Clone()
	if err := d.e.applyAgreementField(&next, field, value); err != nil {
		d.mu.Unlock()
		return err
	}
	d.current = next
	d.publishLocked()
	acc, gen, stored := d.acc, d.gen, d.stored
	d.mu.Unlock()

	if !acc.Persists() {
		return nil
	}
	ops, err := d.e.agreementWriteOps(acc, acc.WorkOrderID, next, stored, map[string]any{field: agreementFieldValue(next, field)}, events.AgreementUpdated, nil)
	if err == nil {
		err = d.e.Repo.Batch(ctx, ops)
	}
	if err != nil {
		d.rollback(gen, prev)
	}
	return err
}

// ToggleSafetyCheck flips idx. It is a no-op returning false unless the
// access owns the document or holds a signing session.
func (d *Draft) ToggleSafetyCheck(ctx context.Context, idx int) (bool, error) {
	if err := d.e.checkSafetyIndex(idx); err != nil {
		return false, err
	}
	d.mu.Lock()
	if d.closed || !d.acc.CanEditChecklist() {
		d.mu.Unlock()
		return false, nil
	}
	prev := d.current.Clone()
	next := d.current.Clone()
	next.ToggleSafetyCheck(idx)
	d.current = next
	d.publishLocked()
	acc, gen, stored := d.acc, d.gen, d.stored
	d.mu.Unlock()

	if !acc.Persists() {
		return true, nil
	}
	ops, err := d.e.agreementWriteOps(acc, acc.WorkOrderID, next, stored, map[string]any{"safetyChecks": next.SafetyChecks}, events.AgreementUpdated, nil)
	if err == nil {
		err = d.e.Repo.Batch(ctx, ops)
	}
	if err != nil {
		d.rollback(gen, prev)
		return false, err
	}
	return true, nil
}

func (d *Draft) rollback(gen uint64, prev domain.Agreement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.closed {
		return
	}
	d.current = prev
	d.publishLocked()
}

// Close ends the subscription. Updates is not closed; callers stop reading.
func (d *Draft) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.sub != nil {
		d.sub.Close()
	}
}
