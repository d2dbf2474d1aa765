package domain

import "strings"

const (
	WorkOrderCodeLen = 8
	SubNoLen         = 2
)

func keepCode(s string, max int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == max {
				break
			}
		}
	}
	return b.String()
}

// NormalizeCode upper-cases a work order code, strips it to [A-Z0-9] and
// truncates it to 8 characters.
func NormalizeCode(s string) string { return keepCode(s, WorkOrderCodeLen) }

// NormalizeSubNo is NormalizeCode for the 2 character sub code.
func NormalizeSubNo(s string) string { return keepCode(s, SubNoLen) }

// NormalizeItemNo upper-cases a catalog item code.
func NormalizeItemNo(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Normalize cleans codes in place and clears the sub code unless the work
// order is in progress.
func (w *WorkOrder) Normalize() {
	w.No = NormalizeCode(w.No)
	w.Name = strings.TrimSpace(w.Name)
	if w.Status == "" {
		w.Status = StatusReceived
	}
	if w.Status == StatusInProgress {
		w.SubNo = NormalizeSubNo(w.SubNo)
	} else {
		w.SubNo = ""
	}
}

// Validate checks a normalized work order.
func (w WorkOrder) Validate() error {
	if w.No == "" {
		return Invalid("no", "work order code is required")
	}
	if len(w.No) != WorkOrderCodeLen {
		return Invalid("no", "work order code must be 8 letters or digits")
	}
	if w.Name == "" {
		return Invalid("name", "name is required")
	}
	if !w.Status.Valid() {
		return Invalid("status", "unknown status "+string(w.Status))
	}
	if w.Status == StatusInProgress && len(w.SubNo) < SubNoLen {
		return Invalid("subNo", "sub code of 2 characters is required while in progress")
	}
	if w.Status != StatusInProgress && w.SubNo != "" {
		return Invalid("subNo", "sub code is only allowed while in progress")
	}
	return nil
}

// Normalize cleans item fields in place.
func (it *Item) Normalize() {
	it.No = NormalizeItemNo(it.No)
	it.Name = strings.TrimSpace(it.Name)
}

// Validate checks a normalized item.
func (it Item) Validate() error {
	if it.WorkOrderID == "" {
		return Invalid("workOrderId", "work order is required")
	}
	if it.No == "" {
		return Invalid("no", "item code is required")
	}
	if it.Qty <= 0 {
		return Invalid("qty", "quantity must be positive")
	}
	if it.Price < 0 {
		return Invalid("price", "price must not be negative")
	}
	return nil
}
