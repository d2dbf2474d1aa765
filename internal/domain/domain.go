package domain

import (
	"sort"
	"strings"
)

type Status string

const (
	StatusReceived   Status = "接收工令"
	StatusInProgress Status = "MO"
	StatusCompleted  Status = "已完工"
	StatusClosed     Status = "已結案"
)

var statusAliases = map[string]Status{
	"received":    StatusReceived,
	"in_progress": StatusInProgress,
	"mo":          StatusInProgress,
	"completed":   StatusCompleted,
	"closed":      StatusClosed,
}

// ParseStatus accepts the stored value or its English alias.
func ParseStatus(s string) (Status, bool) {
	if st := Status(strings.TrimSpace(s)); st.Valid() {
		return st, true
	}
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// Valid reports whether s is one of the stored status values.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusInProgress, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

type WorkOrder struct {
	ID        string `json:"id"`
	No        string `json:"no"`
	Name      string `json:"name"`
	Status    Status `json:"status" enum:"接收工令,MO,已完工,已結案"`
	SubNo     string `json:"subNo,omitempty"`
	Applicant string `json:"applicant,omitempty"`
	Remark    string `json:"remark,omitempty"`
	CreatedAt string `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt string `json:"updatedAt,omitempty" format:"date-time"`
}

// DisplayNo is the printed code, with the sub code appended while in progress.
func (w WorkOrder) DisplayNo() string {
	if w.Status == StatusInProgress && w.SubNo != "" {
		return w.No + "-" + w.SubNo
	}
	return w.No
}

type Item struct {
	ID          string  `json:"id"`
	WorkOrderID string  `json:"workOrderId"`
	No          string  `json:"no"`
	Name        string  `json:"name"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	Remark      string  `json:"remark,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt   string  `json:"updatedAt,omitempty" format:"date-time"`
}

// Duration modes of an agreement.
const (
	DurationWorkDays     = "1"
	DurationCalendarDays = "2"
	DurationFixedDate    = "3"
)

type Agreement struct {
	WoNo                 string     `json:"woNo"`
	WoName               string     `json:"woName"`
	Contractor           string     `json:"contractor"`
	DurationOption       string     `json:"durationOption" enum:"1,2,3"`
	DurationDays         string     `json:"durationDays,omitempty"`
	DurationCoop         string     `json:"durationCoop,omitempty"`
	DurationCalendarDays string     `json:"durationCalendarDays,omitempty"`
	DurationDate         string     `json:"durationDate,omitempty"`
	SafetyChecks         []int      `json:"safetyChecks"`
	Signatures           Signatures `json:"signatures"`
}

// DefaultAgreement is the draft used before an agreement document exists.
func DefaultAgreement(wo WorkOrder) Agreement {
	return Agreement{
		WoNo:           wo.No,
		WoName:         wo.Name,
		DurationOption: DurationWorkDays,
		SafetyChecks:   []int{},
		Signatures:     Signatures{},
	}
}

// HasSafetyCheck reports whether idx is selected.
func (a Agreement) HasSafetyCheck(idx int) bool {
	for _, v := range a.SafetyChecks {
		if v == idx {
			return true
		}
	}
	return false
}

// ToggleSafetyCheck flips idx in the checklist, keeping it sorted and unique.
func (a *Agreement) ToggleSafetyCheck(idx int) {
	next := make([]int, 0, len(a.SafetyChecks)+1)
	found := false
	for _, v := range a.SafetyChecks {
		if v == idx {
			found = true
			continue
		}
		next = append(next, v)
	}
	if !found {
		next = append(next, idx)
	}
	sort.Ints(next)
	a.SafetyChecks = next
}

// Clone returns a deep copy.
func (a Agreement) Clone() Agreement {
	out := a
	out.SafetyChecks = append([]int{}, a.SafetyChecks...)
	out.Signatures = make(Signatures, len(a.Signatures))
	for k, v := range a.Signatures {
		out.Signatures[k] = v
	}
	return out
}

type UserProfile struct {
	UID          string `json:"uid"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoURL,omitempty"`
	SignatureURL string `json:"signatureUrl,omitempty"`
	Role         string `json:"role,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt    string `json:"updatedAt,omitempty" format:"date-time"`
}

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  string         `json:"createdAt,omitempty" format:"date-time"`
}

// CatalogEntry is one record of the external product catalog.
type CatalogEntry struct {
	No    string  `json:"no" yaml:"no"`
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}
