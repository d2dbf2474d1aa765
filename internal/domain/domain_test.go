package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"ab-12 cd34":   "AB12CD34",
		"abcdefghijkl": "ABCDEFGH",
		"工令x1":         "X1",
		"":             "",
		"a.b.c":        "ABC",
	}
	for in, want := range cases {
		got := NormalizeCode(in)
		if got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
		if again := NormalizeCode(got); again != got {
			t.Errorf("not idempotent for %q: %q", in, again)
		}
	}
	if got := NormalizeSubNo("b-7x"); got != "B7" {
		t.Fatalf("NormalizeSubNo = %q", got)
	}
}

func TestWorkOrderSubNoRules(t *testing.T) {
	wo := WorkOrder{No: "ab12cd34", Name: "pipe", Status: StatusReceived, SubNo: "zz"}
	wo.Normalize()
	if wo.SubNo != "" {
		t.Fatalf("sub code should be cleared outside in-progress")
	}
	if err := wo.Validate(); err != nil {
		t.Fatalf("received work order invalid: %v", err)
	}

	wo.Status = StatusInProgress
	wo.SubNo = "a"
	wo.Normalize()
	err := wo.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "subNo" {
		t.Fatalf("expected subNo validation error, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("validation error should match ErrValidation")
	}
	wo.SubNo = "a1"
	wo.Normalize()
	if err := wo.Validate(); err != nil || wo.DisplayNo() != "AB12CD34-A1" {
		t.Fatalf("in-progress work order: %v %s", err, wo.DisplayNo())
	}
}

func TestWorkOrderCodeLength(t *testing.T) {
	wo := WorkOrder{No: "ab12", Name: "x"}
	wo.Normalize()
	if err := wo.Validate(); err == nil {
		t.Fatalf("short code accepted")
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{"MO": StatusInProgress, "received": StatusReceived, "已結案": StatusClosed} {
		got, ok := ParseStatus(in)
		if !ok || got != want {
			t.Errorf("ParseStatus(%q) = %q %v", in, got, ok)
		}
	}
	if _, ok := ParseStatus("archived"); ok {
		t.Fatalf("unknown status parsed")
	}
}

func TestItemValidate(t *testing.T) {
	it := Item{WorkOrderID: "w1", No: " a-01 ", Qty: 1, Price: 0}
	it.Normalize()
	if it.No != "A-01" {
		t.Fatalf("item no not upper-cased: %q", it.No)
	}
	if err := it.Validate(); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}
	it.Qty = 0
	if err := it.Validate(); err == nil {
		t.Fatalf("zero qty accepted")
	}
	it.Qty, it.Price = 1, -1
	if err := it.Validate(); err == nil {
		t.Fatalf("negative price accepted")
	}
}

func TestSignaturesDropNullEntries(t *testing.T) {
	var a Agreement
	doc := `{"woNo":"AB12CD34","safetyChecks":[1],"signatures":{"csc_staff":null,"csc_manager":{"img":"data:x","date":"2024-03-01"},"contractor_boss":{"img":"","date":""}}}`
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		t.Fatal(err)
	}
	if len(a.Signatures) != 1 {
		t.Fatalf("expected one captured slot, got %v", a.Signatures)
	}
	if _, ok := a.Signatures.Slot("csc_staff"); ok {
		t.Fatalf("null slot should be empty")
	}
	sig, ok := a.Signatures.Slot("csc_manager")
	if !ok || sig.Date != "2024-03-01" {
		t.Fatalf("captured slot lost: %+v", sig)
	}
	out, _ := json.Marshal(Agreement{})
	var back map[string]any
	json.Unmarshal(out, &back)
	if _, ok := back["signatures"].(map[string]any); !ok {
		t.Fatalf("nil signatures should encode as an object: %s", out)
	}
}

func TestToggleSafetyCheck(t *testing.T) {
	a := DefaultAgreement(WorkOrder{No: "AB12CD34", Name: "n"})
	a.ToggleSafetyCheck(5)
	a.ToggleSafetyCheck(2)
	if !a.HasSafetyCheck(5) || len(a.SafetyChecks) != 2 || a.SafetyChecks[0] != 2 {
		t.Fatalf("unexpected checks %v", a.SafetyChecks)
	}
	a.ToggleSafetyCheck(5)
	if a.HasSafetyCheck(5) || len(a.SafetyChecks) != 1 {
		t.Fatalf("toggle off failed: %v", a.SafetyChecks)
	}
	if a.Contractor != "" || a.DurationOption != DurationWorkDays {
		t.Fatalf("unexpected default draft %+v", a)
	}
}
