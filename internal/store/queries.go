package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/domain"
)

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, display_name, roles, created_at FROM users WHERE id = $1`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Roles, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, apperr.New(apperr.NotFound, "user not found")
		}
		return domain.User{}, apperr.Wrap(apperr.Internal, "failed to load user", err)
	}
	return u, nil
}

// GetChannel loads a channel by id.
func (s *Store) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, host_id, status, highlighted_product_id, created_at, ended_at FROM channels WHERE id = $1`, id)
	var c domain.Channel
	if err := row.Scan(&c.ID, &c.HostID, &c.Status, &c.HighlightedProduct, &c.CreatedAt, &c.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Channel{}, apperr.New(apperr.NotFound, "channel not found")
		}
		return domain.Channel{}, apperr.Wrap(apperr.Internal, "failed to load channel", err)
	}
	return c, nil
}

// HighlightProduct sets (or clears, when productID is nil) the channel's
// highlighted product within tx.
func (s *Store) HighlightProduct(ctx context.Context, tx pgx.Tx, channelID int64, productID *int64) error {
	_, err := tx.Exec(ctx, `UPDATE channels SET highlighted_product_id = $2 WHERE id = $1`, channelID, productID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update highlighted product", err)
	}
	return nil
}

// HighlightProductDirect is the non-transactional form used by the command
// surface, which has no other writes to batch with this one.
func (s *Store) HighlightProductDirect(ctx context.Context, channelID int64, productID *int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE channels SET highlighted_product_id = $2 WHERE id = $1`, channelID, productID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update highlighted product", err)
	}
	return nil
}

// GetProduct loads a product snapshot by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, shop_id, name, price, is_active FROM products WHERE id = $1`, id)
	var p domain.Product
	if err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Price, &p.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, apperr.New(apperr.NotFound, "product not found")
		}
		return domain.Product{}, apperr.Wrap(apperr.Internal, "failed to load product", err)
	}
	return p, nil
}

// InsertAuction creates a new active auction row within tx.
func (s *Store) InsertAuction(ctx context.Context, tx pgx.Tx, a domain.Auction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auctions (id, channel_id, seller_id, product_id, starting_price, buyout_price,
			current_bid, highest_bidder_id, duration_seconds, started_at, ends_at, extended_count, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.ChannelID, a.SellerID, a.ProductID, a.StartingPrice, a.BuyoutPrice,
		a.CurrentBid, a.HighestBidderID, a.DurationSeconds, a.StartedAt, a.EndsAt, a.ExtendedCount, a.Status)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert auction", err)
	}
	return nil
}

// GetAuctionForUpdate loads an auction row locked with FOR UPDATE; callers
// must hold tx open for the duration of the mutation. This is the
// cross-process source of truth backstopping the engine's in-process
// per-auction mutex.
func (s *Store) GetAuctionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Auction, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, channel_id, seller_id, product_id, starting_price, buyout_price,
			current_bid, highest_bidder_id, duration_seconds, started_at, ends_at, extended_count, status
		FROM auctions WHERE id = $1 FOR UPDATE`, id)
	var a domain.Auction
	if err := row.Scan(&a.ID, &a.ChannelID, &a.SellerID, &a.ProductID, &a.StartingPrice, &a.BuyoutPrice,
		&a.CurrentBid, &a.HighestBidderID, &a.DurationSeconds, &a.StartedAt, &a.EndsAt, &a.ExtendedCount, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, apperr.New(apperr.NotFound, "auction not found")
		}
		return domain.Auction{}, apperr.Wrap(apperr.Internal, "failed to load auction", err)
	}
	return a, nil
}

// GetAuction loads an auction without locking, for read-only paths.
func (s *Store) GetAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, seller_id, product_id, starting_price, buyout_price,
			current_bid, highest_bidder_id, duration_seconds, started_at, ends_at, extended_count, status
		FROM auctions WHERE id = $1`, id)
	var a domain.Auction
	if err := row.Scan(&a.ID, &a.ChannelID, &a.SellerID, &a.ProductID, &a.StartingPrice, &a.BuyoutPrice,
		&a.CurrentBid, &a.HighestBidderID, &a.DurationSeconds, &a.StartedAt, &a.EndsAt, &a.ExtendedCount, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, apperr.New(apperr.NotFound, "auction not found")
		}
		return domain.Auction{}, apperr.Wrap(apperr.Internal, "failed to load auction", err)
	}
	return a, nil
}

// AppendBid inserts the bid row and updates the auction's current_bid,
// highest_bidder_id and, when extending, ends_at, all within tx.
func (s *Store) AppendBid(ctx context.Context, tx pgx.Tx, bid domain.Bid, newEndsAt *time.Time, extended bool) error {
	_, err := tx.Exec(ctx, `INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at) VALUES ($1,$2,$3,$4,$5)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.PlacedAt)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert bid", err)
	}

	if extended {
		_, err = tx.Exec(ctx, `UPDATE auctions SET current_bid = $2, highest_bidder_id = $3, ends_at = $4, extended_count = extended_count + 1 WHERE id = $1`,
			bid.AuctionID, bid.Amount, bid.BidderID, *newEndsAt)
	} else {
		_, err = tx.Exec(ctx, `UPDATE auctions SET current_bid = $2, highest_bidder_id = $3 WHERE id = $1`,
			bid.AuctionID, bid.Amount, bid.BidderID)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update auction after bid", err)
	}
	return nil
}

// SetAuctionStatus transitions an auction's status within tx.
func (s *Store) SetAuctionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AuctionStatus) error {
	_, err := tx.Exec(ctx, `UPDATE auctions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update auction status", err)
	}
	return nil
}

// InsertOrder creates the order row produced when an auction closes with a
// winner, within the same transaction as the status transition.
func (s *Store) InsertOrder(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, auction_id, buyer_id, seller_id, final_price, platform_fee, seller_payout,
			payment_status, payment_deadline, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.AuctionID, o.BuyerID, o.SellerID, o.FinalPrice, o.PlatformFee, o.SellerPayout,
		o.PaymentStatus, o.PaymentDeadline, o.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert order", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, auction_id, buyer_id, seller_id, final_price, platform_fee, seller_payout,
			payment_status, payment_deadline, paid_at, shipped_at, created_at
		FROM orders WHERE id = $1`, id)
	var o domain.Order
	if err := row.Scan(&o.ID, &o.AuctionID, &o.BuyerID, &o.SellerID, &o.FinalPrice, &o.PlatformFee, &o.SellerPayout,
		&o.PaymentStatus, &o.PaymentDeadline, &o.PaidAt, &o.ShippedAt, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, apperr.New(apperr.NotFound, "order not found")
		}
		return domain.Order{}, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return o, nil
}

// GetOrderForUpdate loads an order locked FOR UPDATE within tx.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Order, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, auction_id, buyer_id, seller_id, final_price, platform_fee, seller_payout,
			payment_status, payment_deadline, paid_at, shipped_at, created_at
		FROM orders WHERE id = $1 FOR UPDATE`, id)
	var o domain.Order
	if err := row.Scan(&o.ID, &o.AuctionID, &o.BuyerID, &o.SellerID, &o.FinalPrice, &o.PlatformFee, &o.SellerPayout,
		&o.PaymentStatus, &o.PaymentDeadline, &o.PaidAt, &o.ShippedAt, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, apperr.New(apperr.NotFound, "order not found")
		}
		return domain.Order{}, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return o, nil
}

// SetOrderPaymentStatus updates an order's payment status, stamping paid_at
// when transitioning to paid.
func (s *Store) SetOrderPaymentStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	var err error
	if status == domain.PaymentPaid {
		_, err = tx.Exec(ctx, `UPDATE orders SET payment_status = $2, paid_at = now() WHERE id = $1`, id, status)
	} else {
		_, err = tx.Exec(ctx, `UPDATE orders SET payment_status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update order payment status", err)
	}
	return nil
}

// MarkOrderShipped stamps shipped_at on an order.
func (s *Store) MarkOrderShipped(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET shipped_at = now() WHERE id = $1 AND payment_status = 'paid'`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to mark order shipped", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "order is not paid or does not exist")
	}
	return nil
}

// InsertLedgerEntries books the double-entry settlement legs for an order.
func (s *Store) InsertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []domain.LedgerEntry) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (order_id, account_id, kind, amount, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
			e.OrderID, e.AccountID, e.Kind, e.Amount, e.CreatedAt)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "failed to insert ledger entry", err)
		}
	}
	return nil
}

// SumLedgerByAccount returns the net balance of an account across all
// ledger entries, crediting seller_payout and debiting platform_fee.
func (s *Store) SumLedgerByAccount(ctx context.Context, accountID string) (decimal.Decimal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'seller_payout' THEN amount ELSE -amount END), 0)
		FROM ledger_entries WHERE account_id = $1`, accountID)
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, apperr.Wrap(apperr.Internal, "failed to sum ledger", err)
	}
	return total, nil
}

// InsertScheduledDeadline creates a durable timer within tx.
func (s *Store) InsertScheduledDeadline(ctx context.Context, tx pgx.Tx, kind domain.DeadlineKind, targetID string, fireAt time.Time) error {
	_, err := tx.Exec(ctx, `INSERT INTO scheduled_deadlines (kind, target_id, fire_at) VALUES ($1,$2,$3)`, kind, targetID, fireAt)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to schedule deadline", err)
	}
	return nil
}

// ClaimDueDeadlines atomically claims up to limit due, unclaimed deadlines
// by setting claimed_at, so at most one scheduler instance dispatches each.
func (s *Store) ClaimDueDeadlines(ctx context.Context, limit int) ([]domain.ScheduledDeadline, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_deadlines
		SET claimed_at = now()
		WHERE id IN (
			SELECT id FROM scheduled_deadlines
			WHERE fire_at <= now() AND claimed_at IS NULL AND dead_letter = false
			ORDER BY fire_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, target_id, fire_at, claimed_at, retry_count, last_error, dead_letter`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to claim deadlines", err)
	}
	defer rows.Close()

	var out []domain.ScheduledDeadline
	for rows.Next() {
		var d domain.ScheduledDeadline
		var lastErr *string
		if err := rows.Scan(&d.ID, &d.Kind, &d.TargetID, &d.FireAt, &d.ClaimedAt, &d.RetryCount, &lastErr, &d.DeadLetter); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan claimed deadline", err)
		}
		if lastErr != nil {
			d.LastError = *lastErr
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReleaseExpiredLeases clears claimed_at on deadlines whose claim is older
// than leaseSeconds, recovering work orphaned by a crashed scheduler
// instance.
func (s *Store) ReleaseExpiredLeases(ctx context.Context, leaseSeconds int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_deadlines
		SET claimed_at = NULL
		WHERE claimed_at IS NOT NULL
			AND claimed_at < now() - ($1 || ' seconds')::interval
			AND dead_letter = false`, leaseSeconds)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to release expired leases", err)
	}
	return tag.RowsAffected(), nil
}

// CompleteDeadline deletes a successfully dispatched deadline row.
func (s *Store) CompleteDeadline(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_deadlines WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to complete deadline", err)
	}
	return nil
}

// RetryDeadline releases the claim, increments retry_count, pushes fire_at
// out to nextFireAt, and records the failure, or marks the row dead_letter
// once maxRetries is reached.
func (s *Store) RetryDeadline(ctx context.Context, id int64, cause error, maxRetries int, nextFireAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_deadlines
		SET claimed_at = NULL,
			fire_at = $4,
			retry_count = retry_count + 1,
			last_error = $2,
			dead_letter = (retry_count + 1) >= $3
		WHERE id = $1`, id, cause.Error(), maxRetries, nextFireAt)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to record deadline retry", err)
	}
	return nil
}

// InsertChatMessage stores a channel chat line.
func (s *Store) InsertChatMessage(ctx context.Context, m domain.ChatMessage) (domain.ChatMessage, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (channel_id, author_id, content, created_at)
		VALUES ($1,$2,$3,$4) RETURNING id`, m.ChannelID, m.AuthorID, m.Content, m.CreatedAt)
	if err := row.Scan(&m.ID); err != nil {
		return domain.ChatMessage{}, apperr.Wrap(apperr.Internal, "failed to insert chat message", err)
	}
	return m, nil
}

// ListChatMessages returns the most recent, non-deleted messages for a
// channel, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, channelID int64, limit int) ([]domain.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, author_id, content, created_at, deleted_at
		FROM (
			SELECT * FROM chat_messages
			WHERE channel_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, channelID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list chat messages", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan chat message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
