package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/engine"
	"taskmarket/internal/repo"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Submit task",
		Description:   "Escrows the fee from the caller.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitTaskRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts, herr := taskOptions(input.Body.Owner, input.Body.Model, input.Body.Fee, input.Body.Input)
		if herr != nil {
			return nil, herr
		}
		t, err := e.SubmitTask(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-submit-task",
		Method:        http.MethodPost,
		Path:          "/tasks/bulk",
		Summary:       "Submit identical tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BulkSubmitTaskRequest `json:"body"`
	}) (*output[[]TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts, herr := taskOptions(input.Body.Owner, input.Body.Model, input.Body.Fee, input.Body.Input)
		if herr != nil {
			return nil, herr
		}
		items, err := e.BulkSubmitTask(ctx, actor, opts, input.Body.Count)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapTasks(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks in submission order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Model  string `query:"model"`
		Owner  string `query:"owner"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*output[paginatedTasks], error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.ListTasks(ctx, repo.TaskFilter{
			ModelID: input.Model,
			Owner:   input.Owner,
			Limit:   limit + 1,
			Cursor:  input.Cursor,
		})
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"cursor": input.Cursor})
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = fmt.Sprintf("%d|%s", last.BlockNumber, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, mapTasks(items)...)
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*output[TaskResponse], error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "signal-commitment",
		Method:        http.MethodPost,
		Path:          "/commitments",
		Summary:       "Signal a solution commitment",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SignalCommitmentRequest `json:"body"`
	}) (*output[CommitmentResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SignalCommitment(ctx, actor, input.Body.Hash)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(CommitmentResponse{Hash: c.Hash, Validator: c.Validator, BlockNumber: c.BlockNumber}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-commitment",
		Method:      http.MethodPost,
		Path:        "/commitments/generate",
		Summary:     "Compute the commitment hash for a solution",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body GenerateCommitmentRequest `json:"body"`
	}) (*output[CommitmentResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		validator := input.Body.Validator
		if validator == "" {
			validator = actor
		}
		taskID, err := engine.NormalizeHash(input.Body.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(CommitmentResponse{Hash: engine.GenerateCommitment(validator, taskID, input.Body.CID)}), nil
	})
}

func taskOptions(owner, model, fee, input string) (engine.SubmitTaskOptions, huma.StatusError) {
	v, herr := parseAmount("fee", fee)
	if herr != nil {
		return engine.SubmitTaskOptions{}, herr
	}
	return engine.SubmitTaskOptions{Owner: owner, Model: model, Fee: v, Input: []byte(input)}, nil
}
