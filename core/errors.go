package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Exchange error taxonomy. Every deal operation fails with exactly one of
// these, wrapped with context via fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidParty marks a zero account or an unauthorized caller.
	ErrInvalidParty = errors.New("invalid party")
	// ErrInvalidBundle marks mismatched, empty, or zero-amount asset lists.
	ErrInvalidBundle = errors.New("invalid bundle")
	// ErrInvalidDealState marks a transition requested in the wrong state.
	ErrInvalidDealState = errors.New("invalid deal state")
	// ErrUnknownDeal marks a deal id that is not live (never issued, confirmed,
	// or broken).
	ErrUnknownDeal = errors.New("unknown deal")
	// ErrTransferRejected marks a balance movement the ledger refused at
	// confirm time. The deal record and all balances are left untouched.
	ErrTransferRejected = errors.New("transfer rejected")
	// ErrPolicyRejected marks a bundle-validation hook veto.
	ErrPolicyRejected = errors.New("policy rejected")
)
