package book

import (
	"errors"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/limits"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/multisig"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/pricing"
	"github.com/atmx/option-pool/internal/series"
	"github.com/atmx/option-pool/internal/store"
)

var (
	ErrInvalidOptionIndex      = errors.New("book: invalid option index")
	ErrInvalidSignerBalance    = errors.New("book: insufficient signer balance")
	ErrInvalidTime             = errors.New("book: invalid time")
	ErrInvalidOwner            = errors.New("book: caller does not own the position")
	ErrInvalidPriceRequirement = errors.New("book: price requirement not met")
	ErrOptionAlreadyExercised  = errors.New("book: option already exercised")
	ErrOptionNotValid          = errors.New("book: option not valid")
	ErrAdminAuthority          = errors.New("book: admin authority required")
	ErrUnauthorizedAgent       = errors.New("book: agent not permitted to auto-exercise")
	ErrInvalidParams           = errors.New("book: invalid parameters")
	ErrAlreadyInitialized      = errors.New("book: already initialized")
	ErrNotInitialized          = errors.New("book: not initialized")
	ErrPoolExists              = errors.New("book: pool already exists")
)

// Category groups errors by how a caller should react to them.
type Category string

const (
	CategoryBalance       Category = "balance"
	CategoryAuthorization Category = "authorization"
	CategoryTemporal      Category = "temporal"
	CategoryState         Category = "state"
	CategoryArithmetic    Category = "arithmetic"
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not_found"
	CategoryInternal      Category = "internal"
)

var categories = []struct {
	cat  Category
	errs []error
}{
	{CategoryBalance, []error{
		ErrInvalidSignerBalance,
		custody.ErrInvalidPoolBalance,
		custody.ErrInvalidLockedBalance,
		ledger.ErrInsufficientFunds,
	}},
	{CategoryAuthorization, []error{
		ErrInvalidOwner,
		ErrAdminAuthority,
		ErrUnauthorizedAgent,
		multisig.ErrNotAuthorized,
	}},
	{CategoryTemporal, []error{
		ErrInvalidTime,
		oracle.ErrStalePrice,
	}},
	{CategoryState, []error{
		ErrOptionAlreadyExercised,
		ErrOptionNotValid,
		ErrAlreadyInitialized,
		ErrNotInitialized,
		ErrPoolExists,
		multisig.ErrAlreadySigned,
		multisig.ErrAlreadyExecuted,
		custody.ErrAlreadyRegistered,
		custody.ErrInvalidCustodyState,
		model.ErrKindMismatch,
		model.ErrUnknownKind,
	}},
	{CategoryArithmetic, []error{
		decimalmath.ErrOverflow,
		decimalmath.ErrNegative,
	}},
	{CategoryValidation, []error{
		ErrInvalidParams,
		ErrInvalidOptionIndex,
		ErrInvalidPriceRequirement,
		oracle.ErrInvalidPrice,
		oracle.ErrPriceConfidence,
		pricing.ErrInvalidInput,
		pricing.ErrZeroPremium,
		limits.ErrOwnerLimitExceeded,
		limits.ErrUtilizationExceeded,
		multisig.ErrInvalidThreshold,
		multisig.ErrDuplicateSigner,
		multisig.ErrInvalidSignerList,
		custody.ErrPoolMismatch,
		series.ErrInvalidTicker,
		series.ErrInvalidStrike,
		ledger.ErrInvalidTransfer,
	}},
	{CategoryNotFound, []error{
		store.ErrNotFound,
		oracle.ErrUnknownOracle,
	}},
}

// Classify returns the category of err, or CategoryInternal for errors
// that are not part of the engine's vocabulary.
func Classify(err error) Category {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryInternal
}
