package server

import (
	"worksafe/internal/domain"
	"worksafe/internal/engine"
)

// Request payloads

type AgreementRequest struct {
	Contractor           string `json:"contractor"`
	DurationOption       string `json:"durationOption,omitempty" enum:"1,2,3"`
	DurationDays         string `json:"durationDays,omitempty"`
	DurationCoop         string `json:"durationCoop,omitempty"`
	DurationCalendarDays string `json:"durationCalendarDays,omitempty"`
	DurationDate         string `json:"durationDate,omitempty"`
	SafetyChecks         []int  `json:"safetyChecks,omitempty"`
}

type CreateWorkOrderRequest struct {
	No        string            `json:"no"`
	Name      string            `json:"name"`
	Status    string            `json:"status,omitempty"`
	SubNo     string            `json:"subNo,omitempty"`
	Applicant string            `json:"applicant,omitempty"`
	Remark    string            `json:"remark,omitempty"`
	Agreement *AgreementRequest `json:"agreement,omitempty"`
}

type UpdateWorkOrderRequest struct {
	No        *string `json:"no,omitempty"`
	Name      *string `json:"name,omitempty"`
	Status    *string `json:"status,omitempty"`
	SubNo     *string `json:"subNo,omitempty"`
	Applicant *string `json:"applicant,omitempty"`
	Remark    *string `json:"remark,omitempty"`
}

type SaveItemRequest struct {
	No     string   `json:"no"`
	Name   string   `json:"name,omitempty"`
	Qty    float64  `json:"qty"`
	Price  *float64 `json:"price,omitempty"`
	Remark string   `json:"remark,omitempty"`
}

type UpdateProfileRequest struct {
	Email        *string `json:"email,omitempty"`
	DisplayName  *string `json:"displayName,omitempty"`
	PhotoURL     *string `json:"photoURL,omitempty"`
	SignatureURL *string `json:"signatureUrl,omitempty"`
	Role         *string `json:"role,omitempty"`
}

type SetFieldRequest struct {
	Field string `json:"field" enum:"woNo,woName,contractor,durationOption,durationDays,durationCoop,durationCalendarDays,durationDate"`
	Value string `json:"value"`
}

type SignRequest struct {
	Image string `json:"image"`
}

type RedateRequest struct {
	Date string `json:"date" example:"2024-03-01"`
}

type MergeRequest struct {
	Sources      []string `json:"sources"`
	AllowRemerge bool     `json:"allowRemerge,omitempty"`
}

type TransferRequest struct {
	Target string `json:"target"`
}

type ShareRequest struct {
	TTLHours int    `json:"ttlHours,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string `json:"actorId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Response payloads

type CreateWorkOrderResponse struct {
	WorkOrder domain.WorkOrder  `json:"workOrder"`
	Agreement *domain.Agreement `json:"agreement,omitempty"`
}

type AgreementResponse struct {
	WorkOrderID string           `json:"workOrderId"`
	Stored      bool             `json:"stored"`
	Agreement   domain.Agreement `json:"agreement"`
}

// EditResponse reports whether an agreement edit was written back. Shared
// viewers get the edited view with persisted=false.
type EditResponse struct {
	Persisted bool             `json:"persisted"`
	Agreement domain.Agreement `json:"agreement"`
}

type SignResponse struct {
	Changed   bool             `json:"changed"`
	Agreement domain.Agreement `json:"agreement"`
}

type MergeResponse struct {
	Items   []domain.Item `json:"items"`
	Updated int           `json:"updated"`
	Created int           `json:"created"`
}

type TransferResponse struct {
	WorkOrder       domain.WorkOrder `json:"workOrder"`
	AgreementCopied bool             `json:"agreementCopied"`
}

type ShareResponse struct {
	Token     string `json:"token"`
	Link      string `json:"link,omitempty"`
	ExpiresAt string `json:"expiresAt" format:"date-time"`
}

type MeResponse struct {
	ActorID string              `json:"actorId"`
	Source  string              `json:"source"`
	Profile *domain.UserProfile `json:"profile,omitempty"`
	Guest   *GuestScope         `json:"guest,omitempty"`
}

type GuestScope struct {
	Namespace   string `json:"namespace"`
	WorkOrderID string `json:"workOrderId"`
	ExpiresAt   string `json:"expiresAt" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func workOrderInput(req CreateWorkOrderRequest) engine.WorkOrderInput {
	return engine.WorkOrderInput{
		No:        req.No,
		Name:      req.Name,
		Status:    req.Status,
		SubNo:     req.SubNo,
		Applicant: req.Applicant,
		Remark:    req.Remark,
	}
}

func agreementInput(req AgreementRequest) engine.AgreementInput {
	return engine.AgreementInput{
		Contractor:           req.Contractor,
		DurationOption:       req.DurationOption,
		DurationDays:         req.DurationDays,
		DurationCoop:         req.DurationCoop,
		DurationCalendarDays: req.DurationCalendarDays,
		DurationDate:         req.DurationDate,
		SafetyChecks:         req.SafetyChecks,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
