// Package ledger is the token-transfer collaborator: it holds per-account
// token balances and moves them between accounts. The option book tells it
// what to move; it never decides.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atmx/option-pool/internal/decimalmath"
)

var (
	// ErrInsufficientFunds is returned when a source account cannot cover a
	// transfer. The whole batch is rejected.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidTransfer is returned for malformed transfers.
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")
)

// Transfer moves Amount of Asset from one account to another.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// Reverse returns the transfer undoing t.
func (t Transfer) Reverse() Transfer {
	return Transfer{From: t.To, To: t.From, Asset: t.Asset, Amount: t.Amount}
}

// Ledger holds balances and applies transfer batches atomically.
type Ledger interface {
	// Balance returns the balance of account in asset (0 if unknown).
	Balance(ctx context.Context, account, asset string) (uint64, error)

	// Apply performs every transfer or none of them.
	Apply(ctx context.Context, transfers []Transfer) error
}

// Reverse returns the batch undoing transfers, in reverse order.
func Reverse(transfers []Transfer) []Transfer {
	out := make([]Transfer, 0, len(transfers))
	for i := len(transfers) - 1; i >= 0; i-- {
		out = append(out, transfers[i].Reverse())
	}
	return out
}

func validate(t Transfer) error {
	if t.From == "" || t.To == "" || t.Asset == "" {
		return fmt.Errorf("%w: empty account or asset", ErrInvalidTransfer)
	}
	if t.From == t.To {
		return fmt.Errorf("%w: %s to itself", ErrInvalidTransfer, t.From)
	}
	return nil
}

type accountKey struct {
	account string
	asset   string
}

// Memory is an in-memory Ledger for tests and single-process deployments.
type Memory struct {
	mu       sync.Mutex
	balances map[accountKey]uint64
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[accountKey]uint64)}
}

// Mint credits account out of thin air. Used to fund test wallets and by
// the dev faucet route.
func (m *Memory) Mint(account, asset string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := accountKey{account, asset}
	bal, err := decimalmath.CheckedAdd(m.balances[k], amount)
	if err != nil {
		return fmt.Errorf("mint %s %s: %w", account, asset, err)
	}
	m.balances[k] = bal
	return nil
}

func (m *Memory) Balance(_ context.Context, account, asset string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountKey{account, asset}], nil
}

func (m *Memory) Apply(_ context.Context, transfers []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage on a scratch copy of the touched balances.
	staged := make(map[accountKey]uint64)
	get := func(k accountKey) uint64 {
		if v, ok := staged[k]; ok {
			return v
		}
		return m.balances[k]
	}

	for _, t := range transfers {
		if err := validate(t); err != nil {
			return err
		}
		if t.Amount == 0 {
			continue
		}
		from := accountKey{t.From, t.Asset}
		to := accountKey{t.To, t.Asset}

		src := get(from)
		if src < t.Amount {
			return fmt.Errorf("%w: %s has %d %s, needs %d",
				ErrInsufficientFunds, t.From, src, t.Asset, t.Amount)
		}
		dst, err := decimalmath.CheckedAdd(get(to), t.Amount)
		if err != nil {
			return fmt.Errorf("credit %s %s: %w", t.To, t.Asset, err)
		}
		staged[from] = src - t.Amount
		staged[to] = dst
	}

	for k, v := range staged {
		m.balances[k] = v
	}
	return nil
}
