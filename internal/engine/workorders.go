package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

// WorkOrderInput are the fields of a new work order.
type WorkOrderInput struct {
	No        string
	Name      string
	Status    string
	SubNo     string
	Applicant string
	Remark    string
}

func (in WorkOrderInput) build(id string) (domain.WorkOrder, error) {
	wo := domain.WorkOrder{
		ID:        id,
		No:        in.No,
		Name:      in.Name,
		SubNo:     in.SubNo,
		Applicant: strings.TrimSpace(in.Applicant),
		Remark:    in.Remark,
	}
	if in.Status != "" {
		st, ok := domain.ParseStatus(in.Status)
		if !ok {
			return wo, domain.Invalid("status", "unknown status "+in.Status)
		}
		wo.Status = st
	}
	wo.Normalize()
	return wo, wo.Validate()
}

// CreateWorkOrder is the quick-add path: only the work order is written, the
// agreement is materialized on first open.
func (e Engine) CreateWorkOrder(ctx context.Context, acc auth.Access, in WorkOrderInput) (domain.WorkOrder, error) {
	if err := acc.RequireOwner("create work order"); err != nil {
		return domain.WorkOrder{}, err
	}
	wo, err := in.build(e.newID())
	if err != nil {
		return domain.WorkOrder{}, err
	}
	op, err := repo.PutWorkOrderOp(acc.Namespace, wo)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	evt, err := e.Events.Op(acc.Namespace, events.WorkOrderCreated, "workorder", wo.ID, acc.ActorID, events.EventPayload{"no": wo.No})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Repo.Batch(ctx, []docstore.Op{op, evt}); err != nil {
		return domain.WorkOrder{}, err
	}
	return e.Repo.GetWorkOrder(ctx, acc.Namespace, wo.ID)
}

// AgreementInput are the agreement fields set when creating from the form.
type AgreementInput struct {
	Contractor           string
	DurationOption       string
	DurationDays         string
	DurationCoop         string
	DurationCalendarDays string
	DurationDate         string
	SafetyChecks         []int
}

// CreateWorkOrderWithAgreement writes the work order and its agreement in one
// batch. The agreement starts with no signatures.
func (e Engine) CreateWorkOrderWithAgreement(ctx context.Context, acc auth.Access, in WorkOrderInput, ag AgreementInput) (domain.WorkOrder, domain.Agreement, error) {
	if err := acc.RequireOwner("create work order"); err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	wo, err := in.build(e.newID())
	if err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	a := domain.DefaultAgreement(wo)
	if strings.TrimSpace(ag.Contractor) == "" {
		return domain.WorkOrder{}, domain.Agreement{}, domain.Invalid("contractor", "contractor is required")
	}
	fields := map[string]string{
		"contractor":           ag.Contractor,
		"durationDays":         ag.DurationDays,
		"durationCoop":         ag.DurationCoop,
		"durationCalendarDays": ag.DurationCalendarDays,
		"durationDate":         ag.DurationDate,
	}
	if ag.DurationOption != "" {
		fields["durationOption"] = ag.DurationOption
	}
	for field, value := range fields {
		if err := e.applyAgreementField(&a, field, value); err != nil {
			return domain.WorkOrder{}, domain.Agreement{}, err
		}
	}
	for _, idx := range ag.SafetyChecks {
		if err := e.checkSafetyIndex(idx); err != nil {
			return domain.WorkOrder{}, domain.Agreement{}, err
		}
		if !a.HasSafetyCheck(idx) {
			a.ToggleSafetyCheck(idx)
		}
	}

	woOp, err := repo.PutWorkOrderOp(acc.Namespace, wo)
	if err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	agOp, err := repo.PutAgreementOp(acc.Namespace, wo.ID, a)
	if err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	evt, err := e.Events.Op(acc.Namespace, events.WorkOrderCreated, "workorder", wo.ID, acc.ActorID, events.EventPayload{"no": wo.No, "agreement": true})
	if err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	if err := e.Repo.Batch(ctx, []docstore.Op{woOp, agOp, evt}); err != nil {
		return domain.WorkOrder{}, domain.Agreement{}, err
	}
	stored, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, wo.ID)
	return stored, a, err
}

// WorkOrderPatch changes selected fields; nil leaves a field alone.
type WorkOrderPatch struct {
	No        *string
	Name      *string
	Status    *string
	SubNo     *string
	Applicant *string
	Remark    *string
}

// UpdateWorkOrder validates the patched work order and, when an agreement
// exists, keeps its woNo and woName in step within the same batch.
func (e Engine) UpdateWorkOrder(ctx context.Context, acc auth.Access, id string, patch WorkOrderPatch) (domain.WorkOrder, error) {
	if err := acc.RequireOwner("update work order"); err != nil {
		return domain.WorkOrder{}, err
	}
	wo, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if patch.No != nil {
		wo.No = *patch.No
	}
	if patch.Name != nil {
		wo.Name = *patch.Name
	}
	if patch.Status != nil {
		st, ok := domain.ParseStatus(*patch.Status)
		if !ok {
			return domain.WorkOrder{}, domain.Invalid("status", "unknown status "+*patch.Status)
		}
		wo.Status = st
	}
	if patch.SubNo != nil {
		wo.SubNo = *patch.SubNo
	}
	if patch.Applicant != nil {
		wo.Applicant = strings.TrimSpace(*patch.Applicant)
	}
	if patch.Remark != nil {
		wo.Remark = *patch.Remark
	}
	wo.Normalize()
	if err := wo.Validate(); err != nil {
		return domain.WorkOrder{}, err
	}

	op, err := repo.PutWorkOrderOp(acc.Namespace, wo)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	ops := []docstore.Op{op}
	_, err = e.Repo.GetAgreementRaw(ctx, acc.Namespace, id)
	switch {
	case err == nil:
		agOp, err := repo.MergeAgreementOp(acc.Namespace, id, map[string]any{"woNo": wo.No, "woName": wo.Name})
		if err != nil {
			return domain.WorkOrder{}, err
		}
		ops = append(ops, agOp)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.WorkOrder{}, err
	}
	evt, err := e.Events.Op(acc.Namespace, events.WorkOrderUpdated, "workorder", id, acc.ActorID, events.EventPayload{"status": string(wo.Status)})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	ops = append(ops, evt)
	if err := e.Repo.Batch(ctx, ops); err != nil {
		return domain.WorkOrder{}, err
	}
	return e.Repo.GetWorkOrder(ctx, acc.Namespace, id)
}

// DeleteWorkOrder removes the work order together with its items and
// agreement in one batch, so no orphans are left behind.
func (e Engine) DeleteWorkOrder(ctx context.Context, acc auth.Access, id string) error {
	if err := acc.RequireOwner("delete work order"); err != nil {
		return err
	}
	wo, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, id)
	if err != nil {
		return err
	}
	items, err := e.Repo.ListItems(ctx, acc.Namespace, id)
	if err != nil {
		return err
	}
	ops := []docstore.Op{repo.DeleteWorkOrderOp(acc.Namespace, id), repo.DeleteAgreementOp(acc.Namespace, id)}
	for _, it := range items {
		ops = append(ops, repo.DeleteItemOp(acc.Namespace, it.ID))
	}
	evt, err := e.Events.Op(acc.Namespace, events.WorkOrderDeleted, "workorder", id, acc.ActorID, events.EventPayload{"no": wo.No, "items": len(items)})
	if err != nil {
		return err
	}
	ops = append(ops, evt)
	if err := e.Repo.Batch(ctx, ops); err != nil {
		return err
	}
	e.log().Info("work order deleted", zap.String("namespace", acc.Namespace), zap.String("id", id), zap.Int("items", len(items)))
	return nil
}

// GetWorkOrder reads a work order the access may see.
func (e Engine) GetWorkOrder(ctx context.Context, acc auth.Access, id string) (domain.WorkOrder, error) {
	if err := acc.RequireRead(id); err != nil {
		return domain.WorkOrder{}, err
	}
	return e.Repo.GetWorkOrder(ctx, acc.Namespace, id)
}

// ListWorkOrders lists the owner's work orders, optionally by status.
func (e Engine) ListWorkOrders(ctx context.Context, acc auth.Access, status string) ([]domain.WorkOrder, error) {
	if err := acc.RequireOwner("list work orders"); err != nil {
		return nil, err
	}
	var filters []docstore.Filter
	if status != "" {
		st, ok := domain.ParseStatus(status)
		if !ok {
			return nil, domain.Invalid("status", "unknown status "+status)
		}
		filters = append(filters, docstore.Eq("status", string(st)))
	}
	return e.Repo.ListWorkOrders(ctx, acc.Namespace, filters...)
}
