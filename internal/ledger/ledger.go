// Package ledger books the double-entry settlement legs produced when an
// auction closes with a winner: a platform_fee debit against the platform
// account and a seller_payout credit against the seller's account. It
// generalizes a Redis running-balance ledger into a Postgres per-order
// ledger whose rows are immutable once written.
package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loftbid/liveauction/internal/domain"
)

const platformAccountID = "platform"

// store is the subset of persistence the ledger needs, kept narrow so the
// auction engine can inject the same *store.Store without a circular
// import.
type store interface {
	InsertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []domain.LedgerEntry) error
}

// Ledger books settlement legs within an already-open transaction; it never
// opens its own transaction, since an order's ledger entries must commit
// atomically with the order row itself.
type Ledger struct {
	store store
}

// New builds a Ledger over the given store.
func New(s store) *Ledger {
	return &Ledger{store: s}
}

func sellerAccountID(sellerID int64) string {
	return "seller:" + strconv.FormatInt(sellerID, 10)
}

// BookSettlement inserts the two legs of an order's settlement: a debit
// against the platform account for the fee, and a credit against the
// seller's account for the payout. The two legs always sum to the order's
// final price, satisfying the platform-fee-plus-payout invariant by
// construction.
func (l *Ledger) BookSettlement(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	now := time.Now().UTC()
	entries := []domain.LedgerEntry{
		{
			OrderID:   o.ID,
			AccountID: platformAccountID,
			Kind:      domain.LedgerPlatformFee,
			Amount:    o.PlatformFee,
			CreatedAt: now,
		},
		{
			OrderID:   o.ID,
			AccountID: sellerAccountID(o.SellerID),
			Kind:      domain.LedgerSellerPayout,
			Amount:    o.SellerPayout,
			CreatedAt: now,
		},
	}
	return l.store.InsertLedgerEntries(ctx, tx, entries)
}
