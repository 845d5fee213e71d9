package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned when a stored envelope carries a tag that
	// is not one of the record kinds.
	ErrUnknownKind = errors.New("model: unknown record kind")

	// ErrKindMismatch is returned when a record is loaded as the wrong kind.
	ErrKindMismatch = errors.New("model: record kind mismatch")
)

// Envelope is the persisted form of a Record.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Key  string          `json:"key"`
	Body json.RawMessage `json:"body"`
}

// Encode wraps a record in its tagged envelope.
func Encode(r Record) (Envelope, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s %s: %w", r.Kind(), r.Key(), err)
	}
	return Envelope{Kind: r.Kind(), Key: r.Key(), Body: body}, nil
}

// New returns a zero record of the given kind.
func New(kind Kind) (Record, error) {
	switch kind {
	case KindContract:
		return &Contract{}, nil
	case KindPool:
		return &Pool{}, nil
	case KindCustody:
		return &Custody{}, nil
	case KindUser:
		return &User{}, nil
	case KindPosition:
		return &Position{}, nil
	case KindMultisig:
		return &Multisig{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Decode validates the envelope tag against want and decodes its body.
func Decode(env Envelope, want Kind) (Record, error) {
	if env.Kind != want {
		return nil, fmt.Errorf("%w: key %s is %q, want %q", ErrKindMismatch, env.Key, env.Kind, want)
	}
	r, err := New(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Body, r); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", env.Kind, env.Key, err)
	}
	return r, nil
}

// Clone returns a deep copy of r so callers can mutate it freely.
func Clone(r Record) Record {
	switch v := r.(type) {
	case *Contract:
		c := *v
		c.Keepers = append([]string(nil), v.Keepers...)
		return &c
	case *Pool:
		c := *v
		c.Custodies = append([]string(nil), v.Custodies...)
		return &c
	case *Custody:
		c := *v
		return &c
	case *User:
		c := *v
		return &c
	case *Position:
		c := *v
		return &c
	case *Multisig:
		c := *v
		c.Signers = append([]string(nil), v.Signers...)
		c.Signed = append([]bool(nil), v.Signed...)
		return &c
	}
	panic(fmt.Sprintf("model: clone of unknown record %T", r))
}
