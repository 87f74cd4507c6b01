package engine

import (
	"encoding/binary"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func word(v math.Int) []byte {
	return common.LeftPadBytes(v.BigInt().Bytes(), 32)
}

func blockWord(n int64) []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b[24:], uint64(n))
	return b
}

// ModelID hashes owner, fee and the model template.
func ModelID(owner string, fee math.Int, template []byte) string {
	return crypto.Keccak256Hash(common.HexToAddress(owner).Bytes(), word(fee), template).Hex()
}

// ModelCID is the content hash of a model template.
func ModelCID(template []byte) string {
	return crypto.Keccak256Hash(template).Hex()
}

// TaskID chains each task to the previous one so equal submissions in a block differ.
func TaskID(modelID string, fee math.Int, owner string, block int64, input []byte, prevTaskID string) string {
	return crypto.Keccak256Hash(
		common.HexToHash(modelID).Bytes(),
		word(fee),
		common.HexToAddress(owner).Bytes(),
		blockWord(block),
		input,
		common.HexToHash(prevTaskID).Bytes(),
	).Hex()
}

// GenerateCommitment returns the hash a validator signals before revealing cid.
func GenerateCommitment(validator, taskID, cid string) string {
	return crypto.Keccak256Hash(common.HexToAddress(validator).Bytes(), common.HexToHash(taskID).Bytes(), []byte(cid)).Hex()
}

// NormalizeHash validates a 0x-prefixed 32-byte hex hash.
func NormalizeHash(s string) (string, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != common.HashLength {
		return "", errorsmod.Wrapf(ErrInvalidHash, "%q", s)
	}
	return common.BytesToHash(b).Hex(), nil
}
