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

const transferredFromPrefix = "轉交自: "

type TransferOptions struct {
	WorkOrderID     string
	TargetNamespace string
}

type TransferResult struct {
	WorkOrder domain.WorkOrder
	// AgreementCopied is false when the source had no agreement and the
	// target received a default draft.
	AgreementCopied bool
}

// Transfer clones a work order and its agreement into another namespace.
// The copy starts over as received; items stay with the source, which is
// left untouched.
func (e Engine) Transfer(ctx context.Context, acc auth.Access, opts TransferOptions) (TransferResult, error) {
	if err := acc.RequireOwner("transfer work order"); err != nil {
		return TransferResult{}, err
	}
	target := strings.TrimSpace(opts.TargetNamespace)
	if target == "" {
		return TransferResult{}, domain.Invalid("target", "target user is required")
	}
	if target == acc.Namespace {
		return TransferResult{}, domain.Invalid("target", "cannot transfer to the owning user")
	}
	src, err := e.Repo.GetWorkOrder(ctx, acc.Namespace, opts.WorkOrderID)
	if err != nil {
		return TransferResult{}, err
	}
	if _, err := e.Repo.GetProfile(ctx, target); err != nil {
		return TransferResult{}, err
	}
	sender, err := e.Profile(ctx, acc.ActorID)
	if err != nil {
		return TransferResult{}, err
	}
	senderName := sender.DisplayName
	if senderName == "" {
		senderName = acc.ActorID
	}

	dst := domain.WorkOrder{
		ID:        e.newID(),
		No:        src.No,
		Name:      src.Name,
		Status:    domain.StatusReceived,
		Applicant: src.Applicant,
		Remark:    transferredFromPrefix + senderName,
	}
	woOp, err := repo.PutWorkOrderOp(target, dst)
	if err != nil {
		return TransferResult{}, err
	}

	var agOp docstore.Op
	copied := true
	raw, err := e.Repo.GetAgreementRaw(ctx, acc.Namespace, src.ID)
	switch {
	case err == nil:
		agOp = repo.RawAgreementOp(target, dst.ID, raw)
	case errors.Is(err, repo.ErrNotFound):
		copied = false
		agOp, err = repo.PutAgreementOp(target, dst.ID, domain.DefaultAgreement(src))
		if err != nil {
			return TransferResult{}, err
		}
	default:
		return TransferResult{}, err
	}

	sentEvt, err := e.Events.Op(acc.Namespace, events.WorkOrderTransferred, "workorder", src.ID, acc.ActorID, events.EventPayload{
		"to":          target,
		"workOrderId": dst.ID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	recvEvt, err := e.Events.Op(target, events.WorkOrderReceived, "workorder", dst.ID, acc.ActorID, events.EventPayload{
		"from":        acc.Namespace,
		"workOrderId": src.ID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	if err := e.Repo.Batch(ctx, []docstore.Op{woOp, agOp, sentEvt, recvEvt}); err != nil {
		return TransferResult{}, err
	}
	e.log().Info("work order transferred",
		zap.String("from", acc.Namespace),
		zap.String("to", target),
		zap.String("source", src.ID),
		zap.String("destination", dst.ID))

	stored, err := e.Repo.GetWorkOrder(ctx, target, dst.ID)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{WorkOrder: stored, AgreementCopied: copied}, nil
}
