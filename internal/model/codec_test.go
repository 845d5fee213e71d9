package model

import (
	"errors"
	"testing"
)

func TestEncodeDecode_Custody(t *testing.T) {
	c := &Custody{Pool: "main", Asset: "SOL", Oracle: "sol-usd", Decimals: 9, TotalBalance: 100, LockedBalance: 10}

	env, err := Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.Kind != KindCustody || env.Key != "main/SOL" {
		t.Fatalf("unexpected envelope header %s %s", env.Kind, env.Key)
	}

	r, err := Decode(env, KindCustody)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := r.(*Custody)
	if !ok {
		t.Fatalf("expected *Custody, got %T", r)
	}
	if *got != *c {
		t.Errorf("round trip mismatch: %+v vs %+v", got, c)
	}
}

func TestDecode_KindMismatch(t *testing.T) {
	env, err := Encode(&User{Owner: "alice", OptionIndex: 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(env, KindPosition); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("expected ErrKindMismatch, got %v", err)
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	env := Envelope{Kind: "vault", Key: "x", Body: []byte(`{}`)}
	if _, err := Decode(env, "vault"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestClone_IsDeep(t *testing.T) {
	ms := &Multisig{Signers: []string{"a", "b"}, Threshold: 2, Signed: []bool{true, false}}
	cp := Clone(ms).(*Multisig)
	cp.Signed[1] = true
	cp.Signers[0] = "z"
	if ms.Signed[1] || ms.Signers[0] != "a" {
		t.Error("clone shares slices with the original")
	}

	pool := &Pool{Name: "main", Custodies: []string{"SOL"}}
	pc := Clone(pool).(*Pool)
	pc.Custodies = append(pc.Custodies, "USDC")
	if len(pool.Custodies) != 1 {
		t.Error("pool clone shares custody list")
	}
}

func TestPositionCovered(t *testing.T) {
	call := &Position{Custody: "SOL", LockedCustody: "SOL"}
	put := &Position{Custody: "SOL", LockedCustody: "USDC"}
	if !call.Covered() || put.Covered() {
		t.Error("Covered must be true only when target and locked custody match")
	}
	if PositionKey("alice", 7) != "alice/7" {
		t.Errorf("unexpected position key %s", PositionKey("alice", 7))
	}
}

func TestContractIsKeeper(t *testing.T) {
	open := &Contract{}
	if !open.IsKeeper("anyone") {
		t.Error("empty keeper set should permit any agent")
	}
	restricted := &Contract{Keepers: []string{"bot-1"}}
	if !restricted.IsKeeper("bot-1") || restricted.IsKeeper("bot-2") {
		t.Error("keeper membership check failed")
	}
}
