// Package settlement holds the clients for the external settlement
// services: the native ledger (single-step transfers) and the per-rail
// minting services (bridged retrievals and deposit-address issuance).
// Interfaces are narrow so tests can inject mock implementations.
package settlement

import (
	"context"
	"time"
)

// TransferRequest is the native ledger's same-asset transfer primitive.
type TransferRequest struct {
	FromSubaccount string    `json:"from_subaccount,omitempty"`
	To             string    `json:"to"`
	Amount         uint64    `json:"amount"`
	Fee            uint64    `json:"fee"`
	Memo           string    `json:"memo,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Ledger settles the primary rail in one authenticated step. Transfer
// returns the ledger block height on success.
type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) (height uint64, err error)
}

// RetrieveRequest asks a minting service to burn the wrapped asset and
// release the underlying one to an external destination.
type RetrieveRequest struct {
	Amount         uint64 `json:"amount"`
	Destination    string `json:"destination"`
	FromSubaccount string `json:"from_subaccount,omitempty"`
	Fee            uint64 `json:"fee,omitempty"`
}

// Minter bridges a secondary rail. Retrieve returns the service's reference
// id for the burn; GetDepositAddress is an idempotent query.
type Minter interface {
	Retrieve(ctx context.Context, req RetrieveRequest) (ref string, err error)
	GetDepositAddress(ctx context.Context, account string) (string, error)
}
