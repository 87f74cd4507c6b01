package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/domain"
	"taskmarket/internal/election"
)

type MasterContesterStatus struct {
	Address         string `json:"address"`
	MasterContester bool   `json:"master_contester"`
}

type VoterStatusResponse struct {
	Voter          string          `json:"voter"`
	Epoch          int64           `json:"epoch"`
	Voted          bool            `json:"voted"`
	LastVoteWeight string          `json:"last_vote_weight"`
	Ballot         *BallotResponse `json:"ballot,omitempty"`
}

func pathAddress(v string) (string, huma.StatusError) {
	addr, err := domain.NormalizeAddress(v)
	if err != nil {
		return "", badRequest(err.Error(), map[string]any{"address": v})
	}
	return addr, nil
}

func registerElection(api huma.API, r *election.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "election-vote",
		Method:      http.MethodPost,
		Path:        "/election/votes",
		Summary:     "Vote with one lock position",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ElectionVoteRequest `json:"body"`
	}) (*output[BallotResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := r.Vote(ctx, actor, input.Body.Candidates, input.Body.PositionID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ballotResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-vote-multiple",
		Method:      http.MethodPost,
		Path:        "/election/votes/multiple",
		Summary:     "Vote with several lock positions",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ElectionVoteMultipleRequest `json:"body"`
	}) (*output[BallotResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := r.VoteMultiple(ctx, actor, input.Body.Candidates, input.Body.PositionIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ballotResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-finalize",
		Method:      http.MethodPost,
		Path:        "/election/finalize",
		Summary:     "Close the elapsed epoch and install the elected set",
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[ElectionStatusResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := r.FinalizeEpoch(ctx, actor); err != nil {
			return nil, handleError(err)
		}
		return electionStatus(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-set-count",
		Method:      http.MethodPut,
		Path:        "/election/count",
		Summary:     "Set the number of master contesters elected per epoch",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SetCountRequest `json:"body"`
	}) (*output[ElectionStatusResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := r.SetMasterContesterCount(ctx, actor, input.Body.Count); err != nil {
			return nil, handleError(err)
		}
		return electionStatus(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-emergency-add",
		Method:      http.MethodPost,
		Path:        "/election/master-contesters",
		Summary:     "Emergency add a master contester",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body AddressRequest `json:"body"`
	}) (*output[[]domain.MasterContester], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := r.EmergencyAddMasterContester(ctx, actor, input.Body.Address); err != nil {
			return nil, handleError(err)
		}
		return masterContesters(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-emergency-remove",
		Method:      http.MethodDelete,
		Path:        "/election/master-contesters/{address}",
		Summary:     "Emergency remove a master contester",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *addressPath) (*output[[]domain.MasterContester], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := r.EmergencyRemoveMasterContester(ctx, actor, input.Address); err != nil {
			return nil, handleError(err)
		}
		return masterContesters(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-master-contesters",
		Method:      http.MethodGet,
		Path:        "/election/master-contesters",
		Summary:     "Current master contesters",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.MasterContester], error) {
		return masterContesters(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-is-master-contester",
		Method:      http.MethodGet,
		Path:        "/election/master-contesters/{address}",
		Summary:     "Whether an address is a master contester",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *addressPath) (*output[MasterContesterStatus], error) {
		addr, herr := pathAddress(input.Address)
		if herr != nil {
			return nil, herr
		}
		ok, err := r.IsMasterContester(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(MasterContesterStatus{Address: addr, MasterContester: ok}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-top",
		Method:      http.MethodGet,
		Path:        "/election/top",
		Summary:     "Leading candidates this epoch",
	}, func(ctx context.Context, _ *struct{}) (*output[[]CandidateResponse], error) {
		items, err := r.TopCandidates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapCandidates(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-candidate-votes",
		Method:      http.MethodGet,
		Path:        "/election/candidates/{address}",
		Summary:     "Accumulated weight for a candidate this epoch",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *addressPath) (*output[CandidateResponse], error) {
		addr, herr := pathAddress(input.Address)
		if herr != nil {
			return nil, herr
		}
		w, err := r.CandidateVotes(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(CandidateResponse{Address: addr, Weight: amount(w)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-status",
		Method:      http.MethodGet,
		Path:        "/election/status",
		Summary:     "Epoch number, start and time remaining",
	}, func(ctx context.Context, _ *struct{}) (*output[ElectionStatusResponse], error) {
		return electionStatus(ctx, r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "election-ballots",
		Method:      http.MethodGet,
		Path:        "/election/ballots/{address}",
		Summary:     "A voter's ballot for an epoch",
		Description: "Defaults to the current epoch.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Epoch   int64  `query:"epoch" minimum:"0"`
	}) (*output[VoterStatusResponse], error) {
		addr, herr := pathAddress(input.Address)
		if herr != nil {
			return nil, herr
		}
		epoch := input.Epoch
		if epoch == 0 {
			st, err := r.CurrentEpoch(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			epoch = st.Epoch
		}
		resp := VoterStatusResponse{Voter: addr, Epoch: epoch}
		voted, err := r.HasVoted(ctx, epoch, addr)
		if err != nil {
			return nil, handleError(err)
		}
		if voted {
			b, err := r.VotesCast(ctx, epoch, addr)
			if err != nil {
				return nil, handleError(err)
			}
			br := ballotResponse(b)
			resp.Voted, resp.Ballot = true, &br
		}
		last, err := r.LastVoteWeight(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		resp.LastVoteWeight = amount(last)
		return respond(resp), nil
	})
}

func electionStatus(ctx context.Context, r *election.Registry) (*output[ElectionStatusResponse], error) {
	st, err := r.CurrentEpoch(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	until, err := r.TimeUntilNextEpoch(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	fresh, err := r.IsNewEpoch(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(electionStatusResponse(st, until, fresh)), nil
}

func masterContesters(ctx context.Context, r *election.Registry) (*output[[]domain.MasterContester], error) {
	items, err := r.MasterContesters(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(nonNilSlice(items)), nil
}
