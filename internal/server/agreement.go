package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"worksafe/internal/engine"
	"worksafe/internal/engine/auth"
	"worksafe/internal/share"
)

const (
	timeLayout           = time.RFC3339
	defaultShareTTLHours = 72
)

type agreementOutput struct {
	Body AgreementResponse `json:"body"`
}

type signOutput struct {
	Body SignResponse `json:"body"`
}

type editOutput struct {
	Body EditResponse `json:"body"`
}

type signaturePath struct {
	ID   string `path:"id"`
	Role string `path:"role"`
}

func registerAgreement(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-agreement",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/agreement",
		Summary:     "Get agreement",
		Description: "Returns the stored agreement, or the default draft with stored=false.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*agreementOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, stored, err := e.GetAgreement(ctx, acc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &agreementOutput{Body: AgreementResponse{WorkOrderID: input.ID, Stored: stored, Agreement: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-agreement-field",
		Method:      http.MethodPatch,
		Path:        "/work-orders/{id}/agreement/fields",
		Summary:     "Set one agreement field",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SetFieldRequest `json:"body"`
	}) (*editOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, persisted, err := e.UpdateAgreementField(ctx, acc, input.ID, input.Body.Field, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return &editOutput{Body: EditResponse{Persisted: persisted, Agreement: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-safety-check",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/agreement/safety-checks/{idx}/toggle",
		Summary:     "Toggle a safety checklist entry",
		Description: "Shared viewers need the X-Signing-Session header; their toggles are not written back.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID  string `path:"id"`
		Idx int    `path:"idx"`
	}) (*signOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, changed, err := e.ToggleSafetyCheck(ctx, acc, input.ID, input.Idx)
		if err != nil {
			return nil, handleError(err)
		}
		return &signOutput{Body: SignResponse{Changed: changed, Agreement: a}}, nil
	})
}

func registerSigning(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sign",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/signatures/{role}/sign",
		Summary:     "Capture a drawn signature",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		signaturePath
		Body SignRequest `json:"body"`
	}) (*signOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Sign(ctx, acc, input.ID, input.Role, input.Body.Image)
		return signResult(res, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "stamp",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/signatures/{role}/stamp",
		Summary:     "Stamp the personal signature",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *signaturePath) (*signOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Stamp(ctx, acc, input.ID, input.Role)
		return signResult(res, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-signature",
		Method:      http.MethodDelete,
		Path:        "/work-orders/{id}/signatures/{role}",
		Summary:     "Clear a signature slot",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *signaturePath) (*signOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Clear(ctx, acc, input.ID, input.Role)
		return signResult(res, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "redate-signature",
		Method:      http.MethodPut,
		Path:        "/work-orders/{id}/signatures/{role}/date",
		Summary:     "Change the date of a captured signature",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		signaturePath
		Body RedateRequest `json:"body"`
	}) (*signOutput, error) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Redate(ctx, acc, input.ID, input.Role, input.Body.Date)
		return signResult(res, err)
	})
}

func signResult(res engine.SignResult, err error) (*signOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &signOutput{Body: SignResponse{Changed: res.Changed, Agreement: res.Agreement}}, nil
}

// registerAgreementStream pushes the agreement on open and after every
// stored change until the client goes away.
func registerAgreementStream(api huma.API, e engine.Engine) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-agreement",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/agreement/stream",
		Summary:     "Follow an agreement",
	}, map[string]any{
		"agreement": AgreementResponse{},
		"error":     apiErrorBody{},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}, send sse.Sender) {
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			_ = send.Data(streamError(authErr))
			return
		}
		acc, err := acc.WithWorkOrder(input.ID)
		if err != nil {
			_ = send.Data(streamError(err))
			return
		}
		d, err := e.OpenDraft(ctx, acc)
		if err != nil {
			_ = send.Data(streamError(err))
			return
		}
		defer d.Close()
		// The first snapshot is already queued on Updates.
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-d.Updates():
				if err := send.Data(AgreementResponse{WorkOrderID: input.ID, Stored: d.Stored(), Agreement: a}); err != nil {
					return
				}
			}
		}
	})
}

func streamError(err error) apiErrorBody {
	if ae, ok := handleError(err).(*apiError); ok {
		return ae.Body
	}
	return apiErrorBody{Code: "internal_error", Message: err.Error()}
}

func registerMergeTransfer(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "merge-work-orders",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/merge",
		Summary:     "Fold the items of other work orders into this one",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body MergeRequest `json:"body"`
	}) (*struct {
		Body MergeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Merge(ctx, acc, engine.MergeOptions{
			DestinationID: input.ID,
			SourceIDs:     input.Body.Sources,
			AllowRemerge:  input.Body.AllowRemerge,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MergeResponse `json:"body"`
		}{Body: MergeResponse{Items: nonNilSlice(res.Items), Updated: res.Updated, Created: res.Created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/transfer",
		Summary:     "Copy a work order and its agreement to another user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body TransferRequest `json:"body"`
	}) (*struct {
		Body TransferResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		acc, authErr := accessFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Transfer(ctx, acc, engine.TransferOptions{WorkOrderID: input.ID, TargetNamespace: input.Body.Target})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransferResponse `json:"body"`
		}{Body: TransferResponse{WorkOrder: res.WorkOrder, AgreementCopied: res.AgreementCopied}}, nil
	})
}

func registerShare(api huma.API, e engine.Engine, issuer *share.Issuer) {
	huma.Register(api, huma.Operation{
		OperationID: "share-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/share",
		Summary:     "Issue a signing link for one work order",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ShareRequest `json:"body"`
	}) (*struct {
		Body ShareResponse `json:"body"`
	}, error) {
		if issuer == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "share_disabled", "share links are not enabled", nil)
		}
		actorID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		acc := auth.Owner(actorID)
		if _, err := e.GetWorkOrder(ctx, acc, input.ID); err != nil {
			return nil, handleError(err)
		}
		hours := input.Body.TTLHours
		if hours <= 0 && e.Config != nil {
			hours = e.Config.Share.TTLHours
		}
		if hours <= 0 {
			hours = defaultShareTTLHours
		}
		token, err := issuer.Issue(acc.Namespace, input.ID, time.Duration(hours)*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		grant, err := issuer.Verify(token)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ShareResponse{Token: token, ExpiresAt: grant.ExpiresAt.UTC().Format(timeLayout)}
		if input.Body.BaseURL != "" {
			link, err := share.Link(input.Body.BaseURL, grant, token)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			resp.Link = link
		}
		return &struct {
			Body ShareResponse `json:"body"`
		}{Body: resp}, nil
	})
}
