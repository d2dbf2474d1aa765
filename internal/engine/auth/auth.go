package auth

import (
	"fmt"

	"worksafe/internal/domain"
)

// Access is who is acting on which namespace. Owners act on their own
// namespace; guests hold a share capability for one work order of someone
// else's namespace.
type Access struct {
	ActorID     string
	Namespace   string
	WorkOrderID string
	Guest       bool
	// SigningSession marks an on-site signing round for the focused document.
	SigningSession bool
}

// Owner is full access to the actor's own namespace.
func Owner(actorID string) Access {
	return Access{ActorID: actorID, Namespace: actorID}
}

// Guest is capability access to one work order in namespace.
func Guest(actorID, namespace, workOrderID string) Access {
	return Access{ActorID: actorID, Namespace: namespace, WorkOrderID: workOrderID, Guest: true}
}

// WithWorkOrder focuses the access on a work order. A guest cannot move off
// the work order of its capability.
func (a Access) WithWorkOrder(id string) (Access, error) {
	if a.Guest && a.WorkOrderID != "" && a.WorkOrderID != id {
		return a, ForbiddenError{Action: "open another work order"}
	}
	a.WorkOrderID = id
	return a, nil
}

func (a Access) IsOwner() bool {
	return !a.Guest && a.ActorID != "" && a.ActorID == a.Namespace
}

// ForbiddenError indicates the access may not perform an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, domain.ErrGuestForbidden)
}

func (e ForbiddenError) Unwrap() error { return domain.ErrGuestForbidden }

// RequireOwner rejects everyone but the namespace owner.
func (a Access) RequireOwner(action string) error {
	if !a.IsOwner() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireRead allows the owner, or a guest whose capability names workOrderID.
func (a Access) RequireRead(workOrderID string) error {
	if a.IsOwner() {
		return nil
	}
	if a.Guest && a.Namespace != "" && a.WorkOrderID == workOrderID {
		return nil
	}
	return ForbiddenError{Action: "read work order " + workOrderID}
}

// CanEditChecklist reports whether the safety checklist may change.
func (a Access) CanEditChecklist() bool {
	return a.IsOwner() || a.SigningSession
}

// Persists reports whether draft edits of this access are written back.
func (a Access) Persists() bool {
	return a.IsOwner()
}

// SigningGate decides who may write a signature slot.
type SigningGate struct {
	// RequireRole makes owners without a role label unable to sign.
	RequireRole bool
}

// Check runs before Sign and Stamp. Guests are exempt; the capability is the
// authorization. Owners with a role must match the slot label exactly.
func (g SigningGate) Check(a Access, profile domain.UserProfile, slotLabel string) error {
	if a.Guest {
		return nil
	}
	if profile.Role == "" {
		if g.RequireRole {
			return domain.ErrRoleNotConfigured
		}
		return nil
	}
	if profile.Role != slotLabel {
		return fmt.Errorf("%w: have %q, slot needs %q", domain.ErrRoleMismatch, profile.Role, slotLabel)
	}
	return nil
}
