package multisig

import (
	"errors"
	"testing"
)

type addCustody struct {
	Pool  string `json:"pool"`
	Asset string `json:"asset"`
}

func mustHash(t *testing.T, params any) string {
	t.Helper()
	h, err := Hash("add_custody", params)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		signers   []string
		threshold uint8
		want      error
	}{
		{"empty", nil, 1, ErrInvalidSignerList},
		{"zero threshold", []string{"a"}, 0, ErrInvalidThreshold},
		{"threshold above n", []string{"a", "b"}, 3, ErrInvalidThreshold},
		{"duplicate", []string{"a", "a"}, 1, ErrDuplicateSigner},
		{"blank signer", []string{"a", ""}, 1, ErrInvalidSignerList},
		{"too many", make([]string, MaxSigners+1), 1, ErrInvalidSignerList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.signers, tt.threshold); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	ms, err := New([]string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms.Signed) != 3 || ms.Threshold != 2 || StateOf(ms) != StateCollecting {
		t.Errorf("unexpected multisig %+v", ms)
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := mustHash(t, addCustody{"main", "SOL"})
	b := mustHash(t, addCustody{"main", "SOL"})
	c := mustHash(t, addCustody{"main", "USDC"})
	if a != b {
		t.Error("identical instructions must hash identically")
	}
	if a == c {
		t.Error("different params must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 32-byte hex digest, got %d chars", len(a))
	}

	other, err := Hash("withdraw", addCustody{"main", "SOL"})
	if err != nil {
		t.Fatal(err)
	}
	if other == a {
		t.Error("instruction name must be part of the hash")
	}
}

func TestSign_TwoOfThree(t *testing.T) {
	ms, _ := New([]string{"alice", "bob", "carol"}, 2)
	h := mustHash(t, addCustody{"main", "SOL"})

	left, err := Sign(ms, "alice", h)
	if err != nil || left != 1 {
		t.Fatalf("first signature: left=%d err=%v", left, err)
	}

	if _, err := Sign(ms, "alice", h); !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("expected ErrAlreadySigned, got %v", err)
	}

	left, err = Sign(ms, "bob", h)
	if err != nil || left != 0 {
		t.Fatalf("second signature: left=%d err=%v", left, err)
	}
	if StateOf(ms) != StateExecuted {
		t.Error("threshold reached, instruction should be executed")
	}

	// Replay of an executed instruction by a fresh signer.
	if _, err := Sign(ms, "carol", h); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("expected ErrAlreadyExecuted, got %v", err)
	}
}

func TestSign_NotAuthorized(t *testing.T) {
	ms, _ := New([]string{"alice"}, 1)
	if _, err := Sign(ms, "mallory", "h"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if ms.NumSigned != 0 || ms.InstructionHash != "" {
		t.Error("unauthorized signature must not touch state")
	}
}

func TestSign_NewHashResets(t *testing.T) {
	ms, _ := New([]string{"alice", "bob", "carol"}, 2)
	h1 := mustHash(t, addCustody{"main", "SOL"})
	h2 := mustHash(t, addCustody{"main", "USDC"})

	if _, err := Sign(ms, "alice", h1); err != nil {
		t.Fatal(err)
	}
	left, err := Sign(ms, "bob", h2)
	if err != nil || left != 1 {
		t.Fatalf("switching hash should restart collection: left=%d err=%v", left, err)
	}
	if ms.Signed[0] || !ms.Signed[1] || ms.InstructionHash != h2 {
		t.Errorf("unexpected state after reset %+v", ms)
	}

	// An executed instruction can be followed by a different one.
	if _, err := Sign(ms, "carol", h2); err != nil {
		t.Fatal(err)
	}
	left, err = Sign(ms, "alice", h1)
	if err != nil || left != 1 || StateOf(ms) != StateCollecting {
		t.Errorf("new instruction after execution: left=%d err=%v state=%s", left, err, StateOf(ms))
	}
}

func TestSign_ThresholdOne(t *testing.T) {
	ms, _ := New([]string{"admin"}, 1)
	left, err := Sign(ms, "admin", "abc")
	if err != nil || left != 0 || !ms.Executed {
		t.Errorf("single signer should execute immediately: left=%d err=%v", left, err)
	}
	if !IsSigner(ms, "admin") || IsSigner(ms, "other") {
		t.Error("IsSigner mismatch")
	}
}
