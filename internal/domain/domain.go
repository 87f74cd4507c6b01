package domain

import "cosmossdk.io/math"

type Model struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	Fee                math.Int        `json:"fee"`
	Rate               math.LegacyDec  `json:"rate"`
	CID                string          `json:"cid"`
	AllowListRequired  bool            `json:"allow_list_required"`
	FeePercentOverride *math.LegacyDec `json:"fee_percent_override,omitempty"`
	CreatedAt          string          `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ModelID     string   `json:"model_id"`
	Owner       string   `json:"owner"`
	Sender      string   `json:"sender"`
	Fee         math.Int `json:"fee"`
	Input       []byte   `json:"input,omitempty"`
	BlockNumber int64    `json:"block_number"`
	SubmittedAt int64    `json:"submitted_at"`
}

type Commitment struct {
	Hash        string `json:"hash"`
	Validator   string `json:"validator"`
	BlockNumber int64  `json:"block_number"`
}

const (
	SolutionSubmitted       = "submitted"
	SolutionContested       = "contested"
	SolutionClaimed         = "claimed"
	SolutionContestUpheld   = "contest_upheld"
	SolutionContestRejected = "contest_rejected"
)

type Solution struct {
	TaskID      string   `json:"task_id"`
	Validator   string   `json:"validator"`
	CID         string   `json:"cid"`
	BlockNumber int64    `json:"block_number"`
	SubmittedAt int64    `json:"submitted_at"`
	Stake       math.Int `json:"stake"`
	Claimed     bool     `json:"claimed"`
	Status      string   `json:"status" enum:"submitted,contested,claimed,contest_upheld,contest_rejected"`
}

type Validator struct {
	Address                string   `json:"address"`
	Staked                 math.Int `json:"staked"`
	Since                  int64    `json:"since"`
	PendingWithdraw        math.Int `json:"pending_withdraw"`
	LastSolutionAt         int64    `json:"last_solution_at"`
	LastContestationLossAt int64    `json:"last_contestation_loss_at"`
}

// Available is the stake not earmarked by pending withdrawals.
func (v Validator) Available() math.Int {
	if v.Staked.LT(v.PendingWithdraw) {
		return math.ZeroInt()
	}
	return v.Staked.Sub(v.PendingWithdraw)
}

type PendingWithdrawal struct {
	Validator string   `json:"validator"`
	Count     int64    `json:"count"`
	Amount    math.Int `json:"amount"`
	UnlockAt  int64    `json:"unlock_at"`
}

const (
	OutcomeUpheld   = "upheld"
	OutcomeRejected = "rejected"
)

type Contestation struct {
	TaskID           string   `json:"task_id"`
	Contestor        string   `json:"contestor"`
	BlockNumber      int64    `json:"block_number"`
	CreatedAt        int64    `json:"created_at"`
	SlashAmount      math.Int `json:"slash_amount"`
	FinishStartIndex int64    `json:"finish_start_index"`
	SettleIndex      int64    `json:"settle_index"`
	YeaWeight        int64    `json:"yea_weight"`
	NayWeight        int64    `json:"nay_weight"`
	YeaCount         int64    `json:"yea_count"`
	NayCount         int64    `json:"nay_count"`
	YeaSlashed       math.Int `json:"yea_slashed"`
	NaySlashed       math.Int `json:"nay_slashed"`
	Outcome          string   `json:"outcome,omitempty" enum:"upheld,rejected"`
	Resolved         bool     `json:"resolved"`
}

type ContestationVote struct {
	TaskID  string   `json:"task_id"`
	Index   int64    `json:"index"`
	Voter   string   `json:"voter"`
	Yea     bool     `json:"yea"`
	Weight  int64    `json:"weight"`
	Slashed math.Int `json:"slashed"`
	Auto    bool     `json:"auto"`
	VotedAt int64    `json:"voted_at"`
}

type MarketState struct {
	Height      int64    `json:"height"`
	StartTime   int64    `json:"start_time"`
	AccruedFees math.Int `json:"accrued_fees"`
	TotalHeld   math.Int `json:"total_held"`
	LastTaskID  string   `json:"last_task_id,omitempty"`
}

// Params are the mutable market parameters. Durations are in seconds.
type Params struct {
	SolutionStakeAmount                math.Int       `json:"solution_stake_amount"`
	MasterContesterVoteAdder           int64          `json:"master_contester_vote_adder"`
	MinClaimSolutionTime               int64          `json:"min_claim_solution_time"`
	MinContestationVotePeriodTime      int64          `json:"min_contestation_vote_period_time"`
	ContestationVoteExtensionTime      int64          `json:"contestation_vote_extension_time"`
	MaxContestationValidatorStakeSince int64          `json:"max_contestation_validator_stake_since"`
	ExitValidatorMinUnlockTime         int64          `json:"exit_validator_min_unlock_time"`
	SolutionRateLimit                  int64          `json:"solution_rate_limit"`
	SolutionFeePercentage              math.LegacyDec `json:"solution_fee_percentage"`
	SolutionModelFeePercentage         math.LegacyDec `json:"solution_model_fee_percentage"`
	TreasuryRewardPercentage           math.LegacyDec `json:"treasury_reward_percentage"`
	TaskOwnerRewardPercentage          math.LegacyDec `json:"task_owner_reward_percentage"`
	ValidatorMinimumPercentage         math.LegacyDec `json:"validator_minimum_percentage"`
	SlashAmountPercentage              math.LegacyDec `json:"slash_amount_percentage"`
	SlashingThreshold                  math.Int       `json:"slashing_threshold"`
	MaxSupply                          math.Int       `json:"max_supply"`
	Treasury                           string         `json:"treasury"`
	Paused                             bool           `json:"paused"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Block      int64  `json:"block"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Candidate struct {
	Address string   `json:"address"`
	Weight  math.Int `json:"weight"`
}

type Ballot struct {
	Epoch      int64    `json:"epoch"`
	Voter      string   `json:"voter"`
	Candidates []string `json:"candidates"`
	Positions  []uint64 `json:"positions"`
	Weight     math.Int `json:"weight"`
	CastAt     int64    `json:"cast_at"`
}

type ElectionState struct {
	Epoch      int64 `json:"epoch"`
	EpochStart int64 `json:"epoch_start"`
	Count      int   `json:"count"`
}

type MasterContester struct {
	Address string `json:"address"`
	Source  string `json:"source" enum:"election,emergency"`
	Epoch   int64  `json:"epoch"`
	AddedAt string `json:"added_at" format:"date-time"`
}

type Position struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Weight    math.Int `json:"weight"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}
