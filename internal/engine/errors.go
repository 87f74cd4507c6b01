package engine

import errorsmod "cosmossdk.io/errors"

const Codespace = "market"

var (
	ErrPaused                   = errorsmod.Register(Codespace, 2, "market is paused")
	ErrInvalidAmount            = errorsmod.Register(Codespace, 3, "invalid amount")
	ErrInvalidAddress           = errorsmod.Register(Codespace, 4, "invalid address")
	ErrInvalidParameter         = errorsmod.Register(Codespace, 5, "invalid parameter")
	ErrInvalidCount             = errorsmod.Register(Codespace, 6, "invalid count")
	ErrInvalidIterations        = errorsmod.Register(Codespace, 7, "max iterations must be positive")
	ErrPercentageTooHigh        = errorsmod.Register(Codespace, 8, "percentage above 100%")
	ErrInvalidHash              = errorsmod.Register(Codespace, 9, "invalid hash")
	ErrModelExists              = errorsmod.Register(Codespace, 10, "model already exists")
	ErrModelNotFound            = errorsmod.Register(Codespace, 11, "model not found")
	ErrNotModelOwner            = errorsmod.Register(Codespace, 12, "caller is not the model owner")
	ErrNotAllowed               = errorsmod.Register(Codespace, 13, "address not on model allow list")
	ErrFeeBelowModelFee         = errorsmod.Register(Codespace, 20, "fee below model fee")
	ErrTaskNotFound             = errorsmod.Register(Codespace, 21, "task not found")
	ErrCommitmentExists         = errorsmod.Register(Codespace, 22, "commitment already signaled")
	ErrCommitmentNotFound       = errorsmod.Register(Codespace, 23, "commitment not found")
	ErrCommitmentTooRecent      = errorsmod.Register(Codespace, 24, "commitment must be from an earlier block")
	ErrNotValidator             = errorsmod.Register(Codespace, 30, "caller is not an active validator")
	ErrInsufficientStake        = errorsmod.Register(Codespace, 31, "insufficient stake")
	ErrRateLimited              = errorsmod.Register(Codespace, 32, "solution rate limit")
	ErrWithdrawalNotFound       = errorsmod.Register(Codespace, 33, "pending withdrawal not found")
	ErrWithdrawalLocked         = errorsmod.Register(Codespace, 34, "withdrawal still locked")
	ErrSolutionExists           = errorsmod.Register(Codespace, 40, "solution already submitted")
	ErrSolutionNotFound         = errorsmod.Register(Codespace, 41, "solution not found")
	ErrAlreadyClaimed           = errorsmod.Register(Codespace, 42, "solution already claimed")
	ErrClaimTooEarly            = errorsmod.Register(Codespace, 43, "claim time not reached")
	ErrRecentContestationLoss   = errorsmod.Register(Codespace, 44, "validator lost a contestation after submitting")
	ErrContestationExists       = errorsmod.Register(Codespace, 50, "contestation already exists")
	ErrContestationNotFound     = errorsmod.Register(Codespace, 51, "contestation not found")
	ErrContestationWindowClosed = errorsmod.Register(Codespace, 52, "contestation window closed")
	ErrSelfContestation         = errorsmod.Register(Codespace, 53, "cannot contest own solution")
	ErrAlreadyVoted             = errorsmod.Register(Codespace, 54, "already voted on contestation")
	ErrVotingClosed             = errorsmod.Register(Codespace, 55, "contestation voting closed")
	ErrStakeTooRecent           = errorsmod.Register(Codespace, 56, "stake too recent to vote")
	ErrVotingOpen               = errorsmod.Register(Codespace, 57, "contestation voting still open")
	ErrContestationResolved     = errorsmod.Register(Codespace, 58, "contestation already resolved")
	ErrNoFeesAccrued            = errorsmod.Register(Codespace, 60, "no accrued fees")
	ErrLedger                   = errorsmod.Register(Codespace, 70, "token ledger failure")
)

// Vote eligibility codes returned by ValidatorCanVote.
const (
	CanVote             = 0
	CannotVoteStake     = 1
	CannotVoteNoContest = 2
	CannotVoteVoted     = 3
	CannotVoteClosed    = 4
	CannotVoteTooRecent = 5
)

func canVoteError(code int) error {
	switch code {
	case CannotVoteStake:
		return ErrNotValidator
	case CannotVoteNoContest:
		return ErrContestationNotFound
	case CannotVoteVoted:
		return ErrAlreadyVoted
	case CannotVoteClosed:
		return ErrVotingClosed
	case CannotVoteTooRecent:
		return ErrStakeTooRecent
	}
	return nil
}
