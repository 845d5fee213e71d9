// Package model defines the persisted records of the option pool.
// All amounts are fixed-width integers; no float is ever persisted.
// Prices are scaled by PriceDecimals, token amounts by the decimals of the
// custody that holds them.
package model

import (
	"fmt"
	"strings"
)

// PriceDecimals is the number of decimals used for strike, spot, settlement
// prices and payoff values ("quote units").
const PriceDecimals = 6

// PriceExponent is the exponent matching PriceDecimals.
const PriceExponent int32 = -PriceDecimals

// Kind tags a record in the keyed store.
type Kind string

const (
	KindContract Kind = "contract"
	KindPool     Kind = "pool"
	KindCustody  Kind = "custody"
	KindUser     Kind = "user"
	KindPosition Kind = "position"
	KindMultisig Kind = "multisig"
)

// Record is the closed set of entities the store holds. Only types in this
// package implement it.
type Record interface {
	Kind() Kind
	Key() string
	isRecord()
}

// ContractKey is the key of the singleton Contract record.
const ContractKey = "contract"

// MultisigKey is the key of the singleton Multisig record.
const MultisigKey = "multisig"

// Contract holds the process-wide authorities created at initialization.
type Contract struct {
	Admin     string   `json:"admin"`
	Keepers   []string `json:"keepers"` // permissioned auto-exercise agents; empty = anyone
	CreatedAt int64    `json:"created_at"`
}

func (*Contract) Kind() Kind  { return KindContract }
func (*Contract) Key() string { return ContractKey }
func (*Contract) isRecord()   {}

// IsKeeper reports whether agent may run auto-exercise.
func (c *Contract) IsKeeper(agent string) bool {
	if len(c.Keepers) == 0 {
		return true
	}
	for _, k := range c.Keepers {
		if k == agent {
			return true
		}
	}
	return false
}

// Pool is a named, append-only collection of custodies.
type Pool struct {
	Name      string   `json:"name"`
	Custodies []string `json:"custodies"` // asset ids in registration order
	CreatedAt int64    `json:"created_at"`
}

func (*Pool) Kind() Kind    { return KindPool }
func (p *Pool) Key() string { return p.Name }
func (*Pool) isRecord()     {}

// HasCustody reports whether asset is registered in the pool.
func (p *Pool) HasCustody(asset string) bool {
	for _, a := range p.Custodies {
		if a == asset {
			return true
		}
	}
	return false
}

// Custody is the per-asset collateral account of a pool.
// Invariant: LockedBalance <= TotalBalance.
type Custody struct {
	Pool          string `json:"pool"`
	Asset         string `json:"asset"`
	Oracle        string `json:"oracle"`
	Decimals      uint8  `json:"decimals"`
	TokenAccount  string `json:"token_account"`
	TotalBalance  uint64 `json:"total_balance"`
	LockedBalance uint64 `json:"locked_balance"`
}

func (*Custody) Kind() Kind    { return KindCustody }
func (c *Custody) Key() string { return CustodyKey(c.Pool, c.Asset) }
func (*Custody) isRecord()     {}

// Exponent returns the token exponent of the custody (-decimals).
func (c *Custody) Exponent() int32 { return -int32(c.Decimals) }

// CustodyKey returns the store key of the custody for asset in pool.
func CustodyKey(pool, asset string) string { return pool + "/" + asset }

// TokenAccountPrefix marks token-ledger accounts that back custodies.
const TokenAccountPrefix = "custody:"

// TokenAccountFor returns the token-ledger account backing a custody.
func TokenAccountFor(pool, asset string) string { return TokenAccountPrefix + pool + ":" + asset }

// IsTokenAccount reports whether id is in the custody account namespace.
// Such accounts are moved only by the engine, never by callers.
func IsTokenAccount(id string) bool { return strings.HasPrefix(id, TokenAccountPrefix) }

// User tracks the monotonic position counter of an owner.
type User struct {
	Owner       string `json:"owner"`
	OptionIndex uint64 `json:"option_index"`
}

func (*User) Kind() Kind    { return KindUser }
func (u *User) Key() string { return u.Owner }
func (*User) isRecord()     {}

// OptionType is the side of a position.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// PremiumUnit is the asset the buyer paid the premium in.
type PremiumUnit string

const (
	PremiumBase  PremiumUnit = "base"
	PremiumQuote PremiumUnit = "quote"
)

// Position is a single sold option. Exercised == 0 iff Valid; once Valid is
// false it never flips back.
type Position struct {
	Owner         string      `json:"owner"`
	Index         uint64      `json:"index"`
	Pool          string      `json:"pool"`
	Custody       string      `json:"custody"`        // target (priced) asset
	LockedCustody string      `json:"locked_custody"` // asset holding the collateral
	Quantity      uint64      `json:"quantity"`       // target token units
	Amount        uint64      `json:"amount"`         // locked notional, locked-custody units
	StrikePrice   uint64      `json:"strike_price"`   // quote units
	Expiry        int64       `json:"expiry"`
	OptionType    OptionType  `json:"option_type"`
	Premium       uint64      `json:"premium"`
	PremiumUnit   PremiumUnit `json:"premium_unit"`
	Valid         bool        `json:"valid"`
	Exercised     int64       `json:"exercised"`
	Claimed       uint64      `json:"claimed"` // tokens paid out of the locked custody
	Profit        uint64      `json:"profit"`  // payoff value, quote units
	CreatedAt     int64       `json:"created_at"`
}

func (*Position) Kind() Kind    { return KindPosition }
func (p *Position) Key() string { return PositionKey(p.Owner, p.Index) }
func (*Position) isRecord()     {}

// PositionKey returns the store key of owner's index-th position.
func PositionKey(owner string, index uint64) string {
	return fmt.Sprintf("%s/%d", owner, index)
}

// Covered reports whether collateral is held in the priced asset itself.
// Settlement uses the call formula exactly when this is true.
func (p *Position) Covered() bool { return p.Custody == p.LockedCustody }

// Multisig is the threshold-signature proposal gating admin instructions.
type Multisig struct {
	Signers         []string `json:"signers"`
	Threshold       uint8    `json:"threshold"`
	Signed          []bool   `json:"signed"`
	NumSigned       uint8    `json:"num_signed"`
	InstructionHash string   `json:"instruction_hash"`
	Executed        bool     `json:"executed"`
}

func (*Multisig) Kind() Kind  { return KindMultisig }
func (*Multisig) Key() string { return MultisigKey }
func (*Multisig) isRecord()   {}

// LedgerEntry is an immutable audit record of a committed operation.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string `json:"id"`
	Action    string `json:"action"` // sell, exercise, auto_exercise, expire, deposit, withdraw, add_custody, add_pool
	Owner     string `json:"owner"`
	Pool      string `json:"pool"`
	Asset     string `json:"asset"`
	Index     uint64 `json:"index"`
	Amount    uint64 `json:"amount"`
	Price     uint64 `json:"price"` // quote units, 0 when not applicable
	Timestamp int64  `json:"timestamp"`
}
