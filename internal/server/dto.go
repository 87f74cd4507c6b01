package server

import (
	"encoding/json"
	"time"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

// Amounts cross the wire as decimal token strings ("0.001"); percentages as
// decimal fractions ("0.1").

// Request payloads

type RegisterModelRequest struct {
	Owner     string   `json:"owner,omitempty" doc:"Defaults to the caller"`
	Fee       string   `json:"fee"`
	Template  string   `json:"template"`
	AllowList []string `json:"allow_list,omitempty" doc:"When present the model requires an allow list"`
}

type SetFeeRequest struct {
	Fee string `json:"fee"`
}

type SetModelOwnerRequest struct {
	Owner string `json:"owner"`
}

type SetRateRequest struct {
	Rate string `json:"rate"`
}

type AddressesRequest struct {
	Addresses []string `json:"addresses"`
}

type SetAllowListRequiredRequest struct {
	Required bool `json:"required"`
}

type FeeOverrideRequest struct {
	Percentage string `json:"percentage"`
}

type SubmitTaskRequest struct {
	Owner string `json:"owner,omitempty" doc:"Defaults to the caller"`
	Model string `json:"model"`
	Fee   string `json:"fee"`
	Input string `json:"input,omitempty"`
}

type BulkSubmitTaskRequest struct {
	Owner string `json:"owner,omitempty" doc:"Defaults to the caller"`
	Model string `json:"model"`
	Fee   string `json:"fee"`
	Input string `json:"input,omitempty"`
	Count int    `json:"count" minimum:"1"`
}

type SignalCommitmentRequest struct {
	Hash string `json:"hash"`
}

type GenerateCommitmentRequest struct {
	Validator string `json:"validator,omitempty" doc:"Defaults to the caller"`
	TaskID    string `json:"task_id"`
	CID       string `json:"cid"`
}

type SubmitSolutionRequest struct {
	TaskID string `json:"task_id"`
	CID    string `json:"cid"`
}

type BulkSubmitSolutionRequest struct {
	TaskIDs []string `json:"task_ids"`
	CIDs    []string `json:"cids"`
}

type ContestationVoteRequest struct {
	Yea bool `json:"yea"`
}

type FinishRequest struct {
	MaxIterations int64 `json:"max_iterations"`
}

type DepositRequest struct {
	Validator string `json:"validator,omitempty" doc:"Defaults to the caller"`
	Amount    string `json:"amount"`
}

type WithdrawInitiateRequest struct {
	Amount string `json:"amount"`
}

type WithdrawCompleteRequest struct {
	To string `json:"to,omitempty" doc:"Defaults to the caller"`
}

type SetParamRequest struct {
	Value string `json:"value"`
}

type SetStakeAmountRequest struct {
	Amount string `json:"amount"`
}

type SetVoteAdderRequest struct {
	Adder int64 `json:"adder" minimum:"0"`
}

type PauseRequest struct {
	Paused bool `json:"paused"`
}

type RoleRequest struct {
	Address string `json:"address"`
	Role    string `json:"role" enum:"owner,pauser"`
}

type ElectionVoteRequest struct {
	Candidates []string `json:"candidates"`
	PositionID uint64   `json:"position_id"`
}

type ElectionVoteMultipleRequest struct {
	Candidates  []string `json:"candidates"`
	PositionIDs []uint64 `json:"position_ids"`
}

type SetCountRequest struct {
	Count int `json:"count" minimum:"0"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

// Response payloads

type ModelResponse struct {
	ID                 string  `json:"id"`
	Owner              string  `json:"owner"`
	Fee                string  `json:"fee"`
	Rate               string  `json:"rate"`
	CID                string  `json:"cid"`
	AllowListRequired  bool    `json:"allow_list_required"`
	FeePercentOverride *string `json:"fee_percent_override,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string `json:"id"`
	ModelID     string `json:"model_id"`
	Owner       string `json:"owner"`
	Sender      string `json:"sender"`
	Fee         string `json:"fee"`
	Input       string `json:"input,omitempty"`
	BlockNumber int64  `json:"block_number"`
	SubmittedAt int64  `json:"submitted_at"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type CommitmentResponse struct {
	Hash        string `json:"hash"`
	Validator   string `json:"validator,omitempty"`
	BlockNumber int64  `json:"block_number,omitempty"`
}

type SolutionResponse struct {
	TaskID      string `json:"task_id"`
	Validator   string `json:"validator"`
	CID         string `json:"cid"`
	BlockNumber int64  `json:"block_number"`
	SubmittedAt int64  `json:"submitted_at"`
	Stake       string `json:"stake"`
	Claimed     bool   `json:"claimed"`
	Status      string `json:"status"`
}

type ContestationResponse struct {
	TaskID           string `json:"task_id"`
	Contestor        string `json:"contestor"`
	BlockNumber      int64  `json:"block_number"`
	CreatedAt        int64  `json:"created_at"`
	SlashAmount      string `json:"slash_amount"`
	FinishStartIndex int64  `json:"finish_start_index"`
	SettleIndex      int64  `json:"settle_index"`
	YeaWeight        int64  `json:"yea_weight"`
	NayWeight        int64  `json:"nay_weight"`
	YeaCount         int64  `json:"yea_count"`
	NayCount         int64  `json:"nay_count"`
	Outcome          string `json:"outcome,omitempty"`
	Resolved         bool   `json:"resolved"`
}

type ContestationVoteResponse struct {
	Index   int64  `json:"index"`
	Voter   string `json:"voter"`
	Yea     bool   `json:"yea"`
	Weight  int64  `json:"weight"`
	Slashed string `json:"slashed"`
	Auto    bool   `json:"auto"`
	VotedAt int64  `json:"voted_at"`
}

type FinishResponse struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Outcome  string `json:"outcome,omitempty"`
	Resolved bool   `json:"resolved"`
}

type CanVoteResponse struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type ValidatorResponse struct {
	Address                string `json:"address"`
	Staked                 string `json:"staked"`
	Available              string `json:"available"`
	PendingWithdraw        string `json:"pending_withdraw"`
	Since                  int64  `json:"since"`
	LastSolutionAt         int64  `json:"last_solution_at"`
	LastContestationLossAt int64  `json:"last_contestation_loss_at"`
	Active                 bool   `json:"active"`
}

type WithdrawalResponse struct {
	Validator string `json:"validator"`
	Count     int64  `json:"count"`
	Amount    string `json:"amount"`
	UnlockAt  int64  `json:"unlock_at"`
}

type AmountResponse struct {
	Amount string `json:"amount"`
}

type StatusResponse struct {
	Height           int64  `json:"height"`
	TotalSupply      string `json:"total_supply"`
	TargetSupply     string `json:"target_supply"`
	SlashingMode     bool   `json:"slashing_mode"`
	SlashAmount      string `json:"slash_amount"`
	Reward           string `json:"reward"`
	ValidatorMinimum string `json:"validator_minimum"`
	AccruedFees      string `json:"accrued_fees"`
	TotalHeld        string `json:"total_held"`
	Paused           bool   `json:"paused"`
}

type CandidateResponse struct {
	Address string `json:"address"`
	Weight  string `json:"weight"`
}

type BallotResponse struct {
	Epoch      int64    `json:"epoch"`
	Voter      string   `json:"voter"`
	Candidates []string `json:"candidates"`
	Positions  []uint64 `json:"positions"`
	Weight     string   `json:"weight"`
	CastAt     int64    `json:"cast_at"`
}

type ElectionStatusResponse struct {
	Epoch            int64 `json:"epoch"`
	EpochStart       int64 `json:"epoch_start"`
	Count            int   `json:"count"`
	SecondsUntilNext int64 `json:"seconds_until_next"`
	NewEpoch         bool  `json:"new_epoch" doc:"The current epoch has elapsed and awaits finalization"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Block      int64          `json:"block"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func amount(v math.Int) string {
	return domain.FormatAmount(v)
}

func fraction(d math.LegacyDec) string {
	if d.IsNil() {
		return "0"
	}
	return d.String()
}

func modelResponse(m domain.Model) ModelResponse {
	resp := ModelResponse{
		ID:                m.ID,
		Owner:             m.Owner,
		Fee:               amount(m.Fee),
		Rate:              fraction(m.Rate),
		CID:               m.CID,
		AllowListRequired: m.AllowListRequired,
		CreatedAt:         m.CreatedAt,
	}
	if m.FeePercentOverride != nil {
		v := fraction(*m.FeePercentOverride)
		resp.FeePercentOverride = &v
	}
	return resp
}

func mapModels(items []domain.Model) []ModelResponse {
	out := make([]ModelResponse, 0, len(items))
	for _, m := range items {
		out = append(out, modelResponse(m))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ModelID:     t.ModelID,
		Owner:       t.Owner,
		Sender:      t.Sender,
		Fee:         amount(t.Fee),
		Input:       string(t.Input),
		BlockNumber: t.BlockNumber,
		SubmittedAt: t.SubmittedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func solutionResponse(s domain.Solution) SolutionResponse {
	return SolutionResponse{
		TaskID:      s.TaskID,
		Validator:   s.Validator,
		CID:         s.CID,
		BlockNumber: s.BlockNumber,
		SubmittedAt: s.SubmittedAt,
		Stake:       amount(s.Stake),
		Claimed:     s.Claimed,
		Status:      s.Status,
	}
}

func mapSolutions(items []domain.Solution) []SolutionResponse {
	out := make([]SolutionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, solutionResponse(s))
	}
	return out
}

func contestationResponse(c domain.Contestation) ContestationResponse {
	return ContestationResponse{
		TaskID:           c.TaskID,
		Contestor:        c.Contestor,
		BlockNumber:      c.BlockNumber,
		CreatedAt:        c.CreatedAt,
		SlashAmount:      amount(c.SlashAmount),
		FinishStartIndex: c.FinishStartIndex,
		SettleIndex:      c.SettleIndex,
		YeaWeight:        c.YeaWeight,
		NayWeight:        c.NayWeight,
		YeaCount:         c.YeaCount,
		NayCount:         c.NayCount,
		Outcome:          c.Outcome,
		Resolved:         c.Resolved,
	}
}

func mapContestationVotes(items []domain.ContestationVote) []ContestationVoteResponse {
	out := make([]ContestationVoteResponse, 0, len(items))
	for _, v := range items {
		out = append(out, ContestationVoteResponse{
			Index:   v.Index,
			Voter:   v.Voter,
			Yea:     v.Yea,
			Weight:  v.Weight,
			Slashed: amount(v.Slashed),
			Auto:    v.Auto,
			VotedAt: v.VotedAt,
		})
	}
	return out
}

var canVoteReasons = map[int]string{
	engine.CanVote:             "ok",
	engine.CannotVoteStake:     "insufficient stake",
	engine.CannotVoteNoContest: "no contestation",
	engine.CannotVoteVoted:     "already voted",
	engine.CannotVoteClosed:    "voting closed",
	engine.CannotVoteTooRecent: "stake too recent",
}

func validatorResponse(v domain.Validator, minimum math.Int) ValidatorResponse {
	avail := v.Available()
	return ValidatorResponse{
		Address:                v.Address,
		Staked:                 amount(v.Staked),
		Available:              amount(avail),
		PendingWithdraw:        amount(v.PendingWithdraw),
		Since:                  v.Since,
		LastSolutionAt:         v.LastSolutionAt,
		LastContestationLossAt: v.LastContestationLossAt,
		Active:                 avail.IsPositive() && avail.GTE(minimum),
	}
}

func withdrawalResponse(w domain.PendingWithdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		Validator: w.Validator,
		Count:     w.Count,
		Amount:    amount(w.Amount),
		UnlockAt:  w.UnlockAt,
	}
}

func statusResponse(s engine.Status) StatusResponse {
	return StatusResponse{
		Height:           s.Height,
		TotalSupply:      amount(s.TotalSupply),
		TargetSupply:     amount(s.TargetSupply),
		SlashingMode:     s.SlashingMode,
		SlashAmount:      amount(s.SlashAmount),
		Reward:           amount(s.Reward),
		ValidatorMinimum: amount(s.ValidatorMinimum),
		AccruedFees:      amount(s.AccruedFees),
		TotalHeld:        amount(s.TotalHeld),
		Paused:           s.Paused,
	}
}

func ballotResponse(b domain.Ballot) BallotResponse {
	return BallotResponse{
		Epoch:      b.Epoch,
		Voter:      b.Voter,
		Candidates: nonNilSlice(b.Candidates),
		Positions:  nonNilSlice(b.Positions),
		Weight:     amount(b.Weight),
		CastAt:     b.CastAt,
	}
}

func mapCandidates(items []domain.Candidate) []CandidateResponse {
	out := make([]CandidateResponse, 0, len(items))
	for _, c := range items {
		out = append(out, CandidateResponse{Address: c.Address, Weight: amount(c.Weight)})
	}
	return out
}

func electionStatusResponse(st domain.ElectionState, until time.Duration, fresh bool) ElectionStatusResponse {
	return ElectionStatusResponse{
		Epoch:            st.Epoch,
		EpochStart:       st.EpochStart,
		Count:            st.Count,
		SecondsUntilNext: int64(until / time.Second),
		NewEpoch:         fresh,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = map[string]any{"raw": e.Payload}
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Block:      e.Block,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Payload:    payload,
	}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
