package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftbid/liveauction/internal/domain"
)

type fakeStore struct {
	inserted []domain.LedgerEntry
}

func (f *fakeStore) InsertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []domain.LedgerEntry) error {
	f.inserted = append(f.inserted, entries...)
	return nil
}

func TestBookSettlementBooksBothLegsSummingToFinalPrice(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs)

	order := domain.Order{
		ID:           uuid.New(),
		SellerID:     42,
		FinalPrice:   decimal.NewFromInt(100),
		PlatformFee:  decimal.NewFromInt(7),
		SellerPayout: decimal.NewFromInt(93),
	}

	err := l.BookSettlement(context.Background(), nil, order)
	require.NoError(t, err)
	require.Len(t, fs.inserted, 2)

	var fee, payout domain.LedgerEntry
	for _, e := range fs.inserted {
		assert.Equal(t, order.ID, e.OrderID)
		switch e.Kind {
		case domain.LedgerPlatformFee:
			fee = e
		case domain.LedgerSellerPayout:
			payout = e
		}
	}

	assert.Equal(t, platformAccountID, fee.AccountID)
	assert.Equal(t, "seller:42", payout.AccountID)
	assert.True(t, fee.Amount.Add(payout.Amount).Equal(order.FinalPrice))
}
