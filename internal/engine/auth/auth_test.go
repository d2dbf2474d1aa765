package auth

import (
	"errors"
	"testing"

	"worksafe/internal/domain"
)

func TestAccessScopes(t *testing.T) {
	owner := Owner("u1")
	if !owner.IsOwner() || owner.RequireRead("any") != nil || owner.RequireOwner("clear") != nil {
		t.Fatalf("owner should have full access")
	}
	guest := Guest("u2", "u1", "w1")
	if guest.IsOwner() {
		t.Fatalf("guest is not an owner")
	}
	if err := guest.RequireRead("w1"); err != nil {
		t.Fatalf("guest should read its work order: %v", err)
	}
	if err := guest.RequireRead("w2"); !errors.Is(err, domain.ErrGuestForbidden) {
		t.Fatalf("guest read outside capability: %v", err)
	}
	if err := guest.RequireOwner("clear"); !errors.Is(err, domain.ErrGuestForbidden) {
		t.Fatalf("guest clear should be forbidden: %v", err)
	}
	if _, err := guest.WithWorkOrder("w2"); err == nil {
		t.Fatalf("guest refocus should fail")
	}
	if guest.CanEditChecklist() {
		t.Fatalf("guest without signing session cannot edit checklist")
	}
	guest.SigningSession = true
	if !guest.CanEditChecklist() || guest.Persists() {
		t.Fatalf("signing guest edits checklist locally only")
	}
}

func TestSigningGate(t *testing.T) {
	label := "承包商 帶班者"
	owner := Owner("u1")
	cases := []struct {
		name string
		gate SigningGate
		acc  Access
		role string
		want error
	}{
		{"matching role", SigningGate{}, owner, label, nil},
		{"mismatch", SigningGate{}, owner, "中鋼公司 承辦人員", domain.ErrRoleMismatch},
		{"no role allowed", SigningGate{}, owner, "", nil},
		{"no role required", SigningGate{RequireRole: true}, owner, "", domain.ErrRoleNotConfigured},
		{"guest exempt", SigningGate{RequireRole: true}, Guest("", "u1", "w1"), "中鋼公司 承辦人員", nil},
	}
	for _, tc := range cases {
		err := tc.gate.Check(tc.acc, domain.UserProfile{Role: tc.role}, label)
		if tc.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}
