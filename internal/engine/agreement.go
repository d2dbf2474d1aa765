package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

// Agreement fields editable through UpdateAgreementField and Draft.UpdateField.
const (
	FieldWoNo                 = "woNo"
	FieldWoName               = "woName"
	FieldContractor           = "contractor"
	FieldDurationOption       = "durationOption"
	FieldDurationDays         = "durationDays"
	FieldDurationCoop         = "durationCoop"
	FieldDurationCalendarDays = "durationCalendarDays"
	FieldDurationDate         = "durationDate"
)

// GetAgreement returns the stored agreement of a work order. When none is
// stored yet it returns the default draft built from the work order and
// stored=false.
func (e Engine) GetAgreement(ctx context.Context, acc auth.Access, woID string) (domain.Agreement, bool, error) {
	if err := acc.RequireRead(woID); err != nil {
		return domain.Agreement{}, false, err
	}
	return e.loadAgreement(ctx, acc.Namespace, woID)
}

func (e Engine) loadAgreement(ctx context.Context, ns, woID string) (domain.Agreement, bool, error) {
	a, err := e.Repo.GetAgreement(ctx, ns, woID)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agreement{}, false, err
	}
	wo, err := e.Repo.GetWorkOrder(ctx, ns, woID)
	if err != nil {
		return domain.Agreement{}, false, err
	}
	return domain.DefaultAgreement(wo), false, nil
}

// applyAgreementField validates and normalizes one field into a.
func (e Engine) applyAgreementField(a *domain.Agreement, field, value string) error {
	switch field {
	case FieldWoNo:
		a.WoNo = domain.NormalizeCode(value)
	case FieldWoName:
		a.WoName = strings.TrimSpace(value)
	case FieldContractor:
		v := strings.TrimSpace(value)
		if v != "" && len(e.Config.Agreement.Contractors) > 0 && !contains(e.Config.Agreement.Contractors, v) {
			return domain.Invalid(field, "unknown contractor "+v)
		}
		a.Contractor = v
	case FieldDurationOption:
		switch value {
		case domain.DurationWorkDays, domain.DurationCalendarDays, domain.DurationFixedDate:
			a.DurationOption = value
		default:
			return domain.Invalid(field, "must be 1, 2 or 3")
		}
	case FieldDurationDays, FieldDurationCalendarDays:
		v := strings.TrimSpace(value)
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return domain.Invalid(field, "must be a whole number of days")
			}
		}
		if field == FieldDurationDays {
			a.DurationDays = v
		} else {
			a.DurationCalendarDays = v
		}
	case FieldDurationCoop:
		a.DurationCoop = value
	case FieldDurationDate:
		v := strings.TrimSpace(value)
		if v != "" {
			if _, err := time.Parse(dateLayout, v); err != nil {
				return domain.Invalid(field, "must be a YYYY-MM-DD date")
			}
		}
		a.DurationDate = v
	default:
		return domain.Invalid(field, "not an editable agreement field")
	}
	return nil
}

func agreementFieldValue(a domain.Agreement, field string) string {
	switch field {
	case FieldWoNo:
		return a.WoNo
	case FieldWoName:
		return a.WoName
	case FieldContractor:
		return a.Contractor
	case FieldDurationOption:
		return a.DurationOption
	case FieldDurationDays:
		return a.DurationDays
	case FieldDurationCoop:
		return a.DurationCoop
	case FieldDurationCalendarDays:
		return a.DurationCalendarDays
	case FieldDurationDate:
		return a.DurationDate
	}
	return ""
}

func (e Engine) checkSafetyIndex(idx int) error {
	n := len(e.Config.Agreement.SafetyChecks)
	if n == 0 {
		n = 20
	}
	if idx < 0 || idx >= n {
		return domain.Invalid("safetyChecks", "index out of range")
	}
	return nil
}

// agreementWriteOps persists fields of a. A stored agreement gets a field
// merge; a default draft is written whole so it never lands half-filled.
func (e Engine) agreementWriteOps(acc auth.Access, woID string, a domain.Agreement, stored bool, fields map[string]any, evtType string, payload events.EventPayload) ([]docstore.Op, error) {
	var op docstore.Op
	var err error
	if stored {
		op, err = repo.MergeAgreementOp(acc.Namespace, woID, fields)
	} else {
		op, err = repo.PutAgreementOp(acc.Namespace, woID, a)
	}
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = events.EventPayload{"fields": keys(fields)}
	}
	evt, err := e.Events.Op(acc.Namespace, evtType, "agreement", woID, acc.ActorID, payload)
	if err != nil {
		return nil, err
	}
	return []docstore.Op{op, evt}, nil
}

// UpdateAgreementField edits one field outside of a draft session. Guests
// get the edited view back but nothing is written; persisted reports which.
func (e Engine) UpdateAgreementField(ctx context.Context, acc auth.Access, woID, field, value string) (domain.Agreement, bool, error) {
	a, stored, err := e.GetAgreement(ctx, acc, woID)
	if err != nil {
		return domain.Agreement{}, false, err
	}
	if err := e.applyAgreementField(&a, field, value); err != nil {
		return domain.Agreement{}, false, err
	}
	if !acc.Persists() {
		return a, false, nil
	}
	ops, err := e.agreementWriteOps(acc, woID, a, stored, map[string]any{field: agreementFieldValue(a, field)}, events.AgreementUpdated, nil)
	if err != nil {
		return domain.Agreement{}, false, err
	}
	if err := e.Repo.Batch(ctx, ops); err != nil {
		return domain.Agreement{}, false, err
	}
	return a, true, nil
}

// ToggleSafetyCheck flips one checklist entry. Without ownership or a signing
// session it changes nothing and reports changed=false.
func (e Engine) ToggleSafetyCheck(ctx context.Context, acc auth.Access, woID string, idx int) (domain.Agreement, bool, error) {
	if err := e.checkSafetyIndex(idx); err != nil {
		return domain.Agreement{}, false, err
	}
	a, stored, err := e.GetAgreement(ctx, acc, woID)
	if err != nil {
		return domain.Agreement{}, false, err
	}
	if !acc.CanEditChecklist() {
		return a, false, nil
	}
	a.ToggleSafetyCheck(idx)
	if !acc.Persists() {
		return a, true, nil
	}
	ops, err := e.agreementWriteOps(acc, woID, a, stored, map[string]any{"safetyChecks": a.SafetyChecks}, events.AgreementUpdated, nil)
	if err != nil {
		return domain.Agreement{}, false, err
	}
	if err := e.Repo.Batch(ctx, ops); err != nil {
		return domain.Agreement{}, false, err
	}
	return a, true, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
