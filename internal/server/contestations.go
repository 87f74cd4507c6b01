package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/engine"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerSolutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-solution",
		Method:        http.MethodPost,
		Path:          "/solutions",
		Summary:       "Submit solution",
		Description:   "Requires a commitment signaled in an earlier block and locks the solution stake.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitSolutionRequest `json:"body"`
	}) (*output[SolutionResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sol, err := e.SubmitSolution(ctx, actor, input.Body.TaskID, input.Body.CID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(solutionResponse(sol)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-submit-solution",
		Method:        http.MethodPost,
		Path:          "/solutions/bulk",
		Summary:       "Submit solutions for several tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BulkSubmitSolutionRequest `json:"body"`
	}) (*output[[]SolutionResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.BulkSubmitSolution(ctx, actor, input.Body.TaskIDs, input.Body.CIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSolutions(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-solution",
		Method:      http.MethodGet,
		Path:        "/solutions/{task_id}",
		Summary:     "Get solution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[SolutionResponse], error) {
		sol, err := e.GetSolution(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(solutionResponse(sol)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-solution",
		Method:      http.MethodPost,
		Path:        "/solutions/{task_id}/claim",
		Summary:     "Claim an uncontested solution",
		Description: "Anyone may claim once the claim delay has passed. Pays fees and rewards.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *taskPath) (*output[SolutionResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ClaimSolution(ctx, actor, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		sol, err := e.GetSolution(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(solutionResponse(sol)), nil
	})
}

func registerContestations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-contestation",
		Method:        http.MethodPost,
		Path:          "/contestations/{task_id}",
		Summary:       "Contest a solution",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *taskPath) (*output[ContestationResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitContestation(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(contestationResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-contestation",
		Method:      http.MethodPost,
		Path:        "/contestations/{task_id}/suggest",
		Summary:     "Flag a solution for master contesters",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *taskPath) (*output[map[string]string], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SuggestContestation(ctx, actor, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return respond(map[string]string{"status": "suggested"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vote-contestation",
		Method:      http.MethodPost,
		Path:        "/contestations/{task_id}/votes",
		Summary:     "Vote on a contestation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   ContestationVoteRequest `json:"body"`
	}) (*output[ContestationResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if herr := requireBody(ctx); herr != nil {
			return nil, herr
		}
		if err := e.VoteOnContestation(ctx, actor, input.TaskID, input.Body.Yea); err != nil {
			return nil, handleError(err)
		}
		c, err := e.GetContestation(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(contestationResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finish-contestation",
		Method:      http.MethodPost,
		Path:        "/contestations/{task_id}/finish",
		Summary:     "Process up to max_iterations votes of a closed contestation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		Body   FinishRequest `json:"body"`
	}) (*output[FinishResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.ContestationVoteFinish(ctx, actor, input.TaskID, input.Body.MaxIterations)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(FinishResponse{Start: r.Start, End: r.End, Outcome: r.Outcome, Resolved: r.Resolved}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contestation",
		Method:      http.MethodGet,
		Path:        "/contestations/{task_id}",
		Summary:     "Get contestation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[ContestationResponse], error) {
		c, err := e.GetContestation(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(contestationResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contestation-votes",
		Method:      http.MethodGet,
		Path:        "/contestations/{task_id}/votes",
		Summary:     "Contestation votes in cast order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[[]ContestationVoteResponse], error) {
		votes, err := e.ListContestationVotes(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapContestationVotes(votes)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-vote",
		Method:      http.MethodGet,
		Path:        "/contestations/{task_id}/can-vote/{address}",
		Summary:     "Vote eligibility code for an address",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		Address string `path:"address"`
	}) (*output[CanVoteResponse], error) {
		code, err := e.ValidatorCanVote(ctx, input.Address, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(CanVoteResponse{Code: code, Reason: canVoteReasons[code]}), nil
	})
}
