package election

import errorsmod "cosmossdk.io/errors"

const Codespace = "election"

var (
	ErrEmptyCandidates        = errorsmod.Register(Codespace, 2, "candidate list is empty")
	ErrDuplicateCandidate     = errorsmod.Register(Codespace, 3, "duplicate candidate")
	ErrInvalidCandidate       = errorsmod.Register(Codespace, 4, "invalid candidate address")
	ErrNotTokenOwner          = errorsmod.Register(Codespace, 5, "caller does not own the position")
	ErrAlreadyVotedThisEpoch  = errorsmod.Register(Codespace, 6, "already voted this epoch")
	ErrNoVotingPower          = errorsmod.Register(Codespace, 7, "no voting power")
	ErrEpochNotEnded          = errorsmod.Register(Codespace, 8, "epoch has not ended")
	ErrCountOutOfBounds       = errorsmod.Register(Codespace, 9, "master contester count out of bounds")
	ErrAlreadyMasterContester = errorsmod.Register(Codespace, 10, "already a master contester")
	ErrNotMasterContester     = errorsmod.Register(Codespace, 11, "not a master contester")
	ErrVotingPower            = errorsmod.Register(Codespace, 12, "voting power source failed")
	ErrDuplicatePosition      = errorsmod.Register(Codespace, 13, "duplicate position")
)
