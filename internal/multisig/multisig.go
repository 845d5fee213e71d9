// Package multisig implements the m-of-n signature gate in front of admin
// instructions. An instruction is identified by a hash of its name and
// parameters; signatures accumulate against the current hash and the
// instruction executes when the threshold is reached.
package multisig

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/atmx/option-pool/internal/model"
)

// MaxSigners bounds the signer set.
const MaxSigners = 16

var (
	ErrNotAuthorized     = errors.New("multisig: signer not authorized")
	ErrAlreadySigned     = errors.New("multisig: signer already signed")
	ErrAlreadyExecuted   = errors.New("multisig: instruction already executed")
	ErrInvalidThreshold  = errors.New("multisig: invalid threshold")
	ErrDuplicateSigner   = errors.New("multisig: duplicate signer")
	ErrInvalidSignerList = errors.New("multisig: invalid signer list")
)

// State describes where an instruction hash stands.
type State string

const (
	StateCollecting State = "collecting"
	StateExecuted   State = "executed"
)

// New creates a multisig over signers requiring threshold signatures.
func New(signers []string, threshold uint8) (*model.Multisig, error) {
	if len(signers) == 0 || len(signers) > MaxSigners {
		return nil, fmt.Errorf("%w: %d signers", ErrInvalidSignerList, len(signers))
	}
	if threshold == 0 || int(threshold) > len(signers) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(signers))
	}
	seen := make(map[string]struct{}, len(signers))
	for _, s := range signers {
		if s == "" {
			return nil, fmt.Errorf("%w: empty signer", ErrInvalidSignerList)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, s)
		}
		seen[s] = struct{}{}
	}

	return &model.Multisig{
		Signers:   append([]string(nil), signers...),
		Threshold: threshold,
		Signed:    make([]bool, len(signers)),
	}, nil
}

// Hash identifies an instruction by name and parameters. params is
// JSON-encoded, so callers that need to repeat an identical instruction
// include a nonce.
func Hash(instruction string, params any) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("multisig: encode params: %w", err)
	}

	var sum [32]byte
	h := blake3.New()
	_, _ = h.Write([]byte(instruction))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	_, _ = h.Digest().Read(sum[:])
	return hex.EncodeToString(sum[:]), nil
}

// Sign records signer's approval of hash and returns the number of
// signatures still missing. Zero means the instruction executes now; the
// caller performs it in the same commit as the updated multisig.
//
// A hash different from the pending one discards collected signatures.
func Sign(ms *model.Multisig, signer, hash string) (int, error) {
	idx := indexOf(ms.Signers, signer)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotAuthorized, signer)
	}
	if len(ms.Signed) != len(ms.Signers) {
		ms.Signed = make([]bool, len(ms.Signers))
		ms.NumSigned = 0
	}

	if ms.InstructionHash != hash {
		reset(ms, hash)
	} else if ms.Executed {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyExecuted, shortHash(hash))
	}

	if ms.Signed[idx] {
		return Remaining(ms), fmt.Errorf("%w: %s", ErrAlreadySigned, signer)
	}

	ms.Signed[idx] = true
	ms.NumSigned++
	if ms.NumSigned >= ms.Threshold {
		ms.Executed = true
		return 0, nil
	}
	return Remaining(ms), nil
}

// CheckExecuted returns ErrAlreadyExecuted if hash is the instruction ms
// has already run.
func CheckExecuted(ms *model.Multisig, hash string) error {
	if ms.Executed && ms.InstructionHash == hash {
		return fmt.Errorf("%w: %s", ErrAlreadyExecuted, shortHash(hash))
	}
	return nil
}

// Remaining returns the signatures still needed for the pending hash.
func Remaining(ms *model.Multisig) int {
	if ms.Executed || ms.NumSigned >= ms.Threshold {
		return 0
	}
	return int(ms.Threshold - ms.NumSigned)
}

// StateOf reports the state of the pending instruction.
func StateOf(ms *model.Multisig) State {
	if ms.Executed {
		return StateExecuted
	}
	return StateCollecting
}

// IsSigner reports whether signer belongs to the set.
func IsSigner(ms *model.Multisig, signer string) bool {
	return indexOf(ms.Signers, signer) >= 0
}

func reset(ms *model.Multisig, hash string) {
	for i := range ms.Signed {
		ms.Signed[i] = false
	}
	ms.NumSigned = 0
	ms.Executed = false
	ms.InstructionHash = hash
}

func indexOf(signers []string, signer string) int {
	for i, s := range signers {
		if s == signer {
			return i
		}
	}
	return -1
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
