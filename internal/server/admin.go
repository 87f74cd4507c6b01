package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

type WhoAmIResponse struct {
	Address string   `json:"address"`
	Source  string   `json:"source"`
	Roles   []string `json:"roles"`
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-params",
		Method:      http.MethodGet,
		Path:        "/params",
		Summary:     "Market parameters",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		p, err := e.Params(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p.Map()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-param",
		Method:      http.MethodPut,
		Path:        "/params/{key}",
		Summary:     "Set one market parameter",
		Description: "Owner role only. Amounts in base units, percentages as fractions, durations in seconds.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Key  string          `path:"key"`
		Body SetParamRequest `json:"body"`
	}) (*output[map[string]string], error) {
		return adminParams(ctx, e, func(actor string) error {
			return e.SetParameter(ctx, actor, input.Key, input.Body.Value)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-solution-stake-amount",
		Method:      http.MethodPut,
		Path:        "/admin/solution-stake-amount",
		Summary:     "Set the stake locked per solution",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SetStakeAmountRequest `json:"body"`
	}) (*output[map[string]string], error) {
		v, herr := parseAmount("amount", input.Body.Amount)
		if herr != nil {
			return nil, herr
		}
		return adminParams(ctx, e, func(actor string) error {
			return e.SetSolutionStakeAmount(ctx, actor, v)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-master-contester-vote-adder",
		Method:      http.MethodPut,
		Path:        "/admin/master-contester-vote-adder",
		Summary:     "Set the extra contestation weight of master contesters",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SetVoteAdderRequest `json:"body"`
	}) (*output[map[string]string], error) {
		return adminParams(ctx, e, func(actor string) error {
			return e.SetMasterContesterVoteAdder(ctx, actor, input.Body.Adder)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-paused",
		Method:      http.MethodPut,
		Path:        "/admin/paused",
		Summary:     "Pause or resume the market",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body PauseRequest `json:"body"`
	}) (*output[map[string]string], error) {
		if herr := requireBody(ctx); herr != nil {
			return nil, herr
		}
		return adminParams(ctx, e, func(actor string) error {
			return e.SetPaused(ctx, actor, input.Body.Paused)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-accrued-fees",
		Method:      http.MethodPost,
		Path:        "/admin/fees/withdraw",
		Summary:     "Send accrued fees to the treasury",
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[AmountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.WithdrawAccruedFees(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AmountResponse{Amount: amount(v)}), nil
	})

	for _, grant := range []bool{true, false} {
		grant := grant
		op := huma.Operation{
			OperationID: "grant-role",
			Method:      http.MethodPost,
			Path:        "/admin/roles/grant",
			Summary:     "Grant role",
			Errors:      mutationErrors,
		}
		if !grant {
			op.OperationID = "revoke-role"
			op.Path = "/admin/roles/revoke"
			op.Summary = "Revoke role"
		}
		huma.Register(api, op, func(ctx context.Context, input *struct {
			Body RoleRequest `json:"body"`
		}) (*output[[]string], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			change := e.GrantRole
			if !grant {
				change = e.RevokeRole
			}
			if err := change(ctx, actor, input.Body.Address, input.Body.Role); err != nil {
				return nil, handleError(err)
			}
			addr, _ := domain.NormalizeAddress(input.Body.Address)
			roles, err := e.Roles(ctx, addr)
			if err != nil {
				return nil, handleError(err)
			}
			return respond(nonNilSlice(roles)), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated address and its roles",
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			_, authErr := actorFromContext(ctx)
			return nil, authErr
		}
		roles, err := e.Roles(ctx, p.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(WhoAmIResponse{Address: p.Address, Source: p.Source, Roles: nonNilSlice(roles)}), nil
	})
}

// adminParams runs a parameter mutation as the caller and returns the stored parameters.
func adminParams(ctx context.Context, e engine.Engine, fn func(actor string) error) (*output[map[string]string], error) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	if err := fn(actor); err != nil {
		return nil, handleError(err)
	}
	p, err := e.Params(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(p.Map()), nil
}
