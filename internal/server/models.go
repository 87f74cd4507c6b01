package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/engine"
)

type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

type modelPath struct {
	ModelID string `path:"model_id"`
}

type AllowListResponse struct {
	Required  bool     `json:"required"`
	Addresses []string `json:"addresses"`
}

type AllowedResponse struct {
	Allowed bool `json:"allowed"`
}

type FeePercentageResponse struct {
	Percentage string `json:"percentage"`
	Override   bool   `json:"override"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusBadGateway,
}

func registerModels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-model",
		Method:        http.MethodPost,
		Path:          "/models",
		Summary:       "Register model",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterModelRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fee, herr := parseAmount("fee", input.Body.Fee)
		if herr != nil {
			return nil, herr
		}
		owner := input.Body.Owner
		if owner == "" {
			owner = actor
		}
		template := []byte(input.Body.Template)
		var err error
		var resp ModelResponse
		if input.Body.AllowList != nil {
			m, rerr := e.RegisterModelWithAllowList(ctx, actor, owner, fee, template, input.Body.AllowList)
			resp, err = modelResponse(m), rerr
		} else {
			m, rerr := e.RegisterModel(ctx, actor, owner, fee, template)
			resp, err = modelResponse(m), rerr
		}
		if err != nil {
			return nil, handleError(err)
		}
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/models",
		Summary:     "List models",
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner"`
	}) (*output[[]ModelResponse], error) {
		items, err := e.ListModels(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapModels(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-model",
		Method:      http.MethodGet,
		Path:        "/models/{model_id}",
		Summary:     "Get model",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *modelPath) (*output[ModelResponse], error) {
		m, err := e.GetModel(ctx, input.ModelID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(modelResponse(m)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-model-fee",
		Method:      http.MethodPut,
		Path:        "/models/{model_id}/fee",
		Summary:     "Set model fee",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ModelID string        `path:"model_id"`
		Body    SetFeeRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		fee, herr := parseAmount("fee", input.Body.Fee)
		if herr != nil {
			return nil, herr
		}
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.SetModelFee(ctx, actor, input.ModelID, fee)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-model-owner",
		Method:      http.MethodPut,
		Path:        "/models/{model_id}/owner",
		Summary:     "Transfer model ownership",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ModelID string               `path:"model_id"`
		Body    SetModelOwnerRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.SetModelAddr(ctx, actor, input.ModelID, input.Body.Owner)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-model-rate",
		Method:      http.MethodPut,
		Path:        "/models/{model_id}/rate",
		Summary:     "Set solution mineable rate",
		Description: "Owner role only. A positive rate mints emission rewards on claim.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ModelID string         `path:"model_id"`
		Body    SetRateRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		rate, herr := parseFraction("rate", input.Body.Rate)
		if herr != nil {
			return nil, herr
		}
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.SetSolutionMineableRate(ctx, actor, input.ModelID, rate)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-model-allow-list-required",
		Method:      http.MethodPut,
		Path:        "/models/{model_id}/allow-list-required",
		Summary:     "Require or drop the solver allow list",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ModelID string                      `path:"model_id"`
		Body    SetAllowListRequiredRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		if herr := requireBody(ctx); herr != nil {
			return nil, herr
		}
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.SetModelAllowListRequired(ctx, actor, input.ModelID, input.Body.Required)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-model-allow-list",
		Method:      http.MethodGet,
		Path:        "/models/{model_id}/allow-list",
		Summary:     "Model allow list",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *modelPath) (*output[AllowListResponse], error) {
		m, err := e.GetModel(ctx, input.ModelID)
		if err != nil {
			return nil, handleError(err)
		}
		addrs, err := e.ModelAllowList(ctx, input.ModelID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AllowListResponse{Required: m.AllowListRequired, Addresses: nonNilSlice(addrs)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-model-allow-list",
		Method:      http.MethodGet,
		Path:        "/models/{model_id}/allow-list/{address}",
		Summary:     "Whether an address may solve tasks for the model",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ModelID string `path:"model_id"`
		Address string `path:"address"`
	}) (*output[AllowedResponse], error) {
		ok, err := e.IsAllowedForModel(ctx, input.ModelID, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AllowedResponse{Allowed: ok}), nil
	})

	for _, add := range []bool{true, false} {
		add := add
		op := huma.Operation{
			OperationID: "add-model-allow-list",
			Method:      http.MethodPost,
			Path:        "/models/{model_id}/allow-list",
			Summary:     "Add addresses to the allow list",
			Errors:      mutationErrors,
		}
		if !add {
			op.OperationID = "remove-model-allow-list"
			op.Path = "/models/{model_id}/allow-list/remove"
			op.Summary = "Remove addresses from the allow list"
		}
		huma.Register(api, op, func(ctx context.Context, input *struct {
			ModelID string           `path:"model_id"`
			Body    AddressesRequest `json:"body"`
		}) (*output[AddressesRequest], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			change := e.AddToModelAllowList
			if !add {
				change = e.RemoveFromModelAllowList
			}
			changed, err := change(ctx, actor, input.ModelID, input.Body.Addresses)
			if err != nil {
				return nil, handleError(err)
			}
			return respond(AddressesRequest{Addresses: nonNilSlice(changed)}), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-model-fee-override",
		Method:      http.MethodPut,
		Path:        "/models/{model_id}/fee-override",
		Summary:     "Override the model fee percentage for one model",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ModelID string             `path:"model_id"`
		Body    FeeOverrideRequest `json:"body"`
	}) (*output[ModelResponse], error) {
		pct, herr := parseFraction("percentage", input.Body.Percentage)
		if herr != nil {
			return nil, herr
		}
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.SetSolutionModelFeePercentageOverride(ctx, actor, input.ModelID, pct)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-model-fee-override",
		Method:      http.MethodDelete,
		Path:        "/models/{model_id}/fee-override",
		Summary:     "Clear the model fee percentage override",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *modelPath) (*output[ModelResponse], error) {
		return updateModel(ctx, e, input.ModelID, func(actor string) error {
			return e.ClearSolutionModelFeePercentageOverride(ctx, actor, input.ModelID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-model-fee-percentage",
		Method:      http.MethodGet,
		Path:        "/models/{model_id}/fee-percentage",
		Summary:     "Effective model fee percentage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *modelPath) (*output[FeePercentageResponse], error) {
		pct, err := e.ModelFeePercentage(ctx, input.ModelID)
		if err != nil {
			return nil, handleError(err)
		}
		override, err := e.HasSolutionModelFeePercentageOverride(ctx, input.ModelID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(FeePercentageResponse{Percentage: fraction(pct), Override: override}), nil
	})
}

// updateModel runs a model mutation as the caller and returns the updated model.
func updateModel(ctx context.Context, e engine.Engine, modelID string, fn func(actor string) error) (*output[ModelResponse], error) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	if err := fn(actor); err != nil {
		return nil, handleError(err)
	}
	m, err := e.GetModel(ctx, modelID)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(modelResponse(m)), nil
}
