package engine

import (
	"context"
	"strings"
	"time"

	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
)

// SignResult is the agreement after a signing action. Changed is false when
// the action left the slot as it was.
type SignResult struct {
	Agreement domain.Agreement
	Changed   bool
}

type slotAction struct {
	name  string
	role  string
	label string
}

func (e Engine) slot(action, role string) (slotAction, error) {
	label, ok := e.Config.RoleLabel(role)
	if !ok {
		return slotAction{}, domain.Invalid("role", "unknown signature role "+role)
	}
	return slotAction{name: action, role: role, label: label}, nil
}

// Sign captures an interactively drawn image into an empty slot.
func (e Engine) Sign(ctx context.Context, acc auth.Access, woID, role, image string) (SignResult, error) {
	if strings.TrimSpace(image) == "" {
		return SignResult{}, domain.Invalid("image", "signature image is required")
	}
	s, err := e.slot("sign", role)
	if err != nil {
		return SignResult{}, err
	}
	return e.capture(ctx, acc, woID, s, func(domain.UserProfile) (string, error) { return image, nil })
}

// Stamp fills an empty slot with the actor's stored personal signature.
func (e Engine) Stamp(ctx context.Context, acc auth.Access, woID, role string) (SignResult, error) {
	s, err := e.slot("stamp", role)
	if err != nil {
		return SignResult{}, err
	}
	return e.capture(ctx, acc, woID, s, func(p domain.UserProfile) (string, error) {
		if p.SignatureURL == "" {
			return "", domain.ErrNoPersonalSignature
		}
		return p.SignatureURL, nil
	})
}

func (e Engine) capture(ctx context.Context, acc auth.Access, woID string, s slotAction, image func(domain.UserProfile) (string, error)) (SignResult, error) {
	if err := acc.RequireRead(woID); err != nil {
		return SignResult{}, err
	}
	profile, err := e.Profile(ctx, acc.ActorID)
	if err != nil {
		return SignResult{}, err
	}
	if err := e.gate().Check(acc, profile, s.label); err != nil {
		return SignResult{}, err
	}
	a, stored, err := e.loadAgreement(ctx, acc.Namespace, woID)
	if err != nil {
		return SignResult{}, err
	}
	if _, captured := a.Signatures.Slot(s.role); captured {
		return SignResult{Agreement: a}, nil
	}
	img, err := image(profile)
	if err != nil {
		return SignResult{}, err
	}
	a.Signatures[s.role] = domain.Signature{Image: img, Date: e.today()}
	if err := e.writeSignatures(ctx, acc, woID, a, stored, events.SignatureCaptured, s); err != nil {
		return SignResult{}, err
	}
	return SignResult{Agreement: a, Changed: true}, nil
}

// Clear empties a captured slot. Only the owning namespace may clear.
func (e Engine) Clear(ctx context.Context, acc auth.Access, woID, role string) (SignResult, error) {
	if err := acc.RequireOwner("clear signature"); err != nil {
		return SignResult{}, err
	}
	s, err := e.slot("clear", role)
	if err != nil {
		return SignResult{}, err
	}
	a, stored, err := e.loadAgreement(ctx, acc.Namespace, woID)
	if err != nil {
		return SignResult{}, err
	}
	if _, captured := a.Signatures.Slot(role); !captured {
		return SignResult{Agreement: a}, nil
	}
	delete(a.Signatures, role)
	if err := e.writeSignatures(ctx, acc, woID, a, stored, events.SignatureCleared, s); err != nil {
		return SignResult{}, err
	}
	return SignResult{Agreement: a, Changed: true}, nil
}

// Redate changes only the date of a captured slot. Owner only.
func (e Engine) Redate(ctx context.Context, acc auth.Access, woID, role, date string) (SignResult, error) {
	if err := acc.RequireOwner("redate signature"); err != nil {
		return SignResult{}, err
	}
	s, err := e.slot("redate", role)
	if err != nil {
		return SignResult{}, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return SignResult{}, domain.Invalid("date", "must be a YYYY-MM-DD date")
	}
	a, stored, err := e.loadAgreement(ctx, acc.Namespace, woID)
	if err != nil {
		return SignResult{}, err
	}
	sig, captured := a.Signatures.Slot(role)
	if !captured {
		return SignResult{}, domain.Invalid("role", "slot "+role+" has no signature to redate")
	}
	if sig.Date == date {
		return SignResult{Agreement: a}, nil
	}
	sig.Date = date
	a.Signatures[role] = sig
	if err := e.writeSignatures(ctx, acc, woID, a, stored, events.SignatureRedated, s); err != nil {
		return SignResult{}, err
	}
	return SignResult{Agreement: a, Changed: true}, nil
}

func (e Engine) writeSignatures(ctx context.Context, acc auth.Access, woID string, a domain.Agreement, stored bool, evtType string, s slotAction) error {
	ops, err := e.agreementWriteOps(acc, woID, a, stored, map[string]any{"signatures": a.Signatures}, evtType, events.EventPayload{
		"role":   s.role,
		"action": s.name,
		"guest":  acc.Guest,
	})
	if err != nil {
		return err
	}
	return e.Repo.Batch(ctx, ops)
}
