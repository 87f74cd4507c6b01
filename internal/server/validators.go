package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

type addressPath struct {
	Address string `path:"address"`
}

type withdrawalPath struct {
	Count int64 `path:"count"`
}

func registerValidators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validator-deposit",
		Method:      http.MethodPost,
		Path:        "/validators/deposit",
		Summary:     "Deposit stake",
		Description: "Escrows amount from the caller and credits it to validator.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body DepositRequest `json:"body"`
	}) (*output[ValidatorResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, herr := parseAmount("amount", input.Body.Amount)
		if herr != nil {
			return nil, herr
		}
		validator := input.Body.Validator
		if validator == "" {
			validator = actor
		}
		val, err := e.ValidatorDeposit(ctx, actor, validator, v)
		if err != nil {
			return nil, handleError(err)
		}
		return validatorOutput(ctx, e, val)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "validator-withdraw-initiate",
		Method:        http.MethodPost,
		Path:          "/validators/withdrawals",
		Summary:       "Start a stake withdrawal",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body WithdrawInitiateRequest `json:"body"`
	}) (*output[WithdrawalResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, herr := parseAmount("amount", input.Body.Amount)
		if herr != nil {
			return nil, herr
		}
		w, err := e.InitiateValidatorWithdraw(ctx, actor, v)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(withdrawalResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validator-withdraw-cancel",
		Method:      http.MethodDelete,
		Path:        "/validators/withdrawals/{count}",
		Summary:     "Cancel a pending withdrawal",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *withdrawalPath) (*output[map[string]string], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelValidatorWithdraw(ctx, actor, input.Count); err != nil {
			return nil, handleError(err)
		}
		return respond(map[string]string{"status": "cancelled"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validator-withdraw-complete",
		Method:      http.MethodPost,
		Path:        "/validators/withdrawals/{count}/complete",
		Summary:     "Complete an unlocked withdrawal",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Count int64                   `path:"count"`
		Body  WithdrawCompleteRequest `json:"body"`
	}) (*output[AmountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		to := input.Body.To
		if to == "" {
			to = actor
		}
		paid, err := e.ValidatorWithdraw(ctx, actor, input.Count, to)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AmountResponse{Amount: amount(paid)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validator-minimum",
		Method:      http.MethodGet,
		Path:        "/validators/minimum",
		Summary:     "Available stake required to count as active",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*output[AmountResponse], error) {
		minimum, err := e.ValidatorMinimum(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AmountResponse{Amount: amount(minimum)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validators",
		Method:      http.MethodGet,
		Path:        "/validators",
		Summary:     "List validators",
	}, func(ctx context.Context, _ *struct{}) (*output[[]ValidatorResponse], error) {
		minimum, err := e.ValidatorMinimum(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListValidators(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ValidatorResponse, 0, len(items))
		for _, v := range items {
			out = append(out, validatorResponse(v, minimum))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validator",
		Method:      http.MethodGet,
		Path:        "/validators/{address}",
		Summary:     "Get validator",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *addressPath) (*output[ValidatorResponse], error) {
		addr, err := domain.NormalizeAddress(input.Address)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"address": input.Address})
		}
		v, err := e.GetValidator(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		return validatorOutput(ctx, e, v)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validator-withdrawals",
		Method:      http.MethodGet,
		Path:        "/validators/{address}/withdrawals",
		Summary:     "Pending withdrawals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *addressPath) (*output[[]WithdrawalResponse], error) {
		addr, err := domain.NormalizeAddress(input.Address)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"address": input.Address})
		}
		items, err := e.ListWithdrawals(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]WithdrawalResponse, 0, len(items))
		for _, w := range items {
			out = append(out, withdrawalResponse(w))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validator-solutions",
		Method:      http.MethodGet,
		Path:        "/validators/{address}/solutions",
		Summary:     "Most recent solutions by a validator",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Limit   int    `query:"limit" default:"50"`
	}) (*output[[]SolutionResponse], error) {
		addr, err := domain.NormalizeAddress(input.Address)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"address": input.Address})
		}
		items, err := e.ListSolutionsByValidator(ctx, addr, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSolutions(items)), nil
	})
}

func validatorOutput(ctx context.Context, e engine.Engine, v domain.Validator) (*output[ValidatorResponse], error) {
	minimum, err := e.ValidatorMinimum(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(validatorResponse(v, minimum)), nil
}
