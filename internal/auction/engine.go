// Package auction implements the Auction Engine component: the bid
// acceptance algorithm, the close/settlement algorithm, and the per-auction
// locking that keeps both consistent under concurrent bids.
package auction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/domain"
	"github.com/loftbid/liveauction/internal/eventbus"
	"github.com/loftbid/liveauction/internal/ledger"
	"github.com/loftbid/liveauction/internal/metrics"
)

var tracer trace.Tracer = otel.Tracer("liveauction/auction")

// Store is the subset of the persistent store the engine drives. Defined
// here so tests can supply a fake without importing the store package.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	GetAuctionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Auction, error)
	InsertAuction(ctx context.Context, tx pgx.Tx, a domain.Auction) error
	AppendBid(ctx context.Context, tx pgx.Tx, bid domain.Bid, newEndsAt *time.Time, extended bool) error
	SetAuctionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AuctionStatus) error
	InsertOrder(ctx context.Context, tx pgx.Tx, o domain.Order) error
	InsertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []domain.LedgerEntry) error
	InsertScheduledDeadline(ctx context.Context, tx pgx.Tx, kind domain.DeadlineKind, targetID string, fireAt time.Time) error
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// Config carries the engine's tunable knobs, loaded once at boot.
type Config struct {
	ExtendWindow    time.Duration // re-extend the auction if a bid lands within this of EndsAt
	ExtendBy        time.Duration // amount the auction is extended by
	MinIncrement    decimal.Decimal
	PlatformFeeBps  int
	PaymentWindow   time.Duration
}

// Engine owns the bid-acceptance and close algorithms. One Engine instance
// is shared process-wide; correctness under concurrent bids on the same
// auction comes from the combination of an in-process per-auction mutex
// and the store's SELECT ... FOR UPDATE, which remains the source of truth
// across multiple engine processes.
type Engine struct {
	store  Store
	bus    *eventbus.Bus
	ledger *ledger.Ledger
	cfg    Config

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New builds an Engine.
func New(store Store, bus *eventbus.Bus, ldg *ledger.Ledger, cfg Config) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		ledger: ldg,
		cfg:    cfg,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (e *Engine) lockFor(id uuid.UUID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// withAuctionLock serializes every mutation against a single auction id
// within this process, then opens the transaction that re-confirms state
// against the database via FOR UPDATE.
func (e *Engine) withAuctionLock(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx, a domain.Auction) error) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	return e.store.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := e.store.GetAuctionForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(tx, a)
	})
}

// StartParams describes a caller's request to open a new auction.
type StartParams struct {
	ChannelID     int64
	SellerID      int64
	ProductID     int64
	StartingPrice decimal.Decimal
	BuyoutPrice   *decimal.Decimal
	DurationSec   int
}

// Start creates and schedules a new active auction.
func (e *Engine) Start(ctx context.Context, p StartParams) (domain.Auction, error) {
	ctx, span := tracer.Start(ctx, "auction.Start")
	defer span.End()

	if !domain.AllowedDurations[p.DurationSec] {
		return domain.Auction{}, apperr.New(apperr.BadRequest, "unsupported auction duration")
	}
	if p.BuyoutPrice != nil && p.BuyoutPrice.LessThanOrEqual(p.StartingPrice) {
		return domain.Auction{}, apperr.New(apperr.BadRequest, "buyout price must exceed starting price")
	}

	product, err := e.store.GetProduct(ctx, p.ProductID)
	if err != nil {
		return domain.Auction{}, err
	}
	if !product.IsActive {
		return domain.Auction{}, apperr.New(apperr.Conflict, "product is not active")
	}

	now := time.Now().UTC()
	a := domain.Auction{
		ID:            uuid.New(),
		ChannelID:     p.ChannelID,
		SellerID:      p.SellerID,
		ProductID:     p.ProductID,
		StartingPrice: p.StartingPrice,
		BuyoutPrice:   p.BuyoutPrice,
		CurrentBid:    p.StartingPrice,
		DurationSeconds: p.DurationSec,
		StartedAt:     now,
		EndsAt:        now.Add(time.Duration(p.DurationSec) * time.Second),
		Status:        domain.AuctionActive,
	}

	span.SetAttributes(attribute.String("auction.id", a.ID.String()), attribute.Int64("channel.id", p.ChannelID))

	err = e.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := e.store.InsertAuction(ctx, tx, a); err != nil {
			return err
		}
		return e.store.InsertScheduledDeadline(ctx, tx, domain.DeadlineAuctionClose, a.ID.String(), a.EndsAt)
	})
	if err != nil {
		return domain.Auction{}, err
	}

	log.WithFields(log.Fields{"auction_id": a.ID, "channel_id": a.ChannelID}).Info("auction started")
	e.bus.Publish(a.ChannelID, eventbus.KindAuctionStarted, a)
	return a, nil
}

// BidParams describes an incoming bid request.
type BidParams struct {
	AuctionID uuid.UUID
	BidderID  int64
	Amount    decimal.Decimal
}

// PlaceBid runs the bid acceptance algorithm: validate the auction is still
// active and not yet past its deadline, reject the seller bidding on their
// own auction and self-outbidding, validate amount against the current bid
// plus the minimum increment, accept the bid, and extend the close deadline
// when the bid lands inside the anti-snipe window. A bid at or above the
// buyout price is accepted regardless of the increment, is never extended,
// and closes the auction in the same transaction.
func (e *Engine) PlaceBid(ctx context.Context, p BidParams) (domain.Auction, error) {
	ctx, span := tracer.Start(ctx, "auction.PlaceBid")
	defer span.End()
	span.SetAttributes(attribute.String("auction.id", p.AuctionID.String()), attribute.Int64("bidder.id", p.BidderID))

	var result domain.Auction
	err := e.withAuctionLock(ctx, p.AuctionID, func(tx pgx.Tx, a domain.Auction) error {
		if a.Status != domain.AuctionActive {
			return apperr.New(apperr.Conflict, "auction is not active")
		}
		if !time.Now().UTC().Before(a.EndsAt) {
			return apperr.New(apperr.Conflict, "auction_ended")
		}
		if p.BidderID == a.SellerID {
			return apperr.New(apperr.Forbidden, "seller_cannot_bid")
		}
		if a.HighestBidderID != nil && *a.HighestBidderID == p.BidderID {
			return apperr.New(apperr.Conflict, "cannot outbid yourself")
		}
		isBuyout := a.BuyoutPrice != nil && p.Amount.GreaterThanOrEqual(*a.BuyoutPrice)
		minAccept := a.CurrentBid.Add(e.cfg.MinIncrement)
		if p.Amount.LessThan(minAccept) && !isBuyout {
			return apperr.New(apperr.BadRequest, "bid below minimum accepted amount")
		}

		now := time.Now().UTC()
		bid := domain.Bid{ID: uuid.New(), AuctionID: a.ID, BidderID: p.BidderID, Amount: p.Amount, PlacedAt: now}

		extend := !isBuyout && a.EndsAt.Sub(now) < e.cfg.ExtendWindow
		var newEndsAt *time.Time
		if extend {
			t := now.Add(e.cfg.ExtendBy)
			newEndsAt = &t
		}

		if err := e.store.AppendBid(ctx, tx, bid, newEndsAt, extend); err != nil {
			return err
		}

		a.CurrentBid = p.Amount
		a.HighestBidderID = &p.BidderID
		if extend {
			a.EndsAt = *newEndsAt
			a.ExtendedCount++
			if err := e.store.InsertScheduledDeadline(ctx, tx, domain.DeadlineAuctionClose, a.ID.String(), a.EndsAt); err != nil {
				return err
			}
		}
		result = a

		if extend {
			e.bus.Publish(a.ChannelID, eventbus.KindAuctionExtended, a)
		}
		e.bus.Publish(a.ChannelID, eventbus.KindBidPlaced, bid)

		if isBuyout {
			if err := e.closeLocked(ctx, tx, &a); err != nil {
				return err
			}
			result = a
		}
		return nil
	})
	if err != nil {
		return domain.Auction{}, err
	}

	metrics.BidsAccepted.Inc()
	log.WithFields(log.Fields{
		"auction_id": result.ID,
		"bidder_id":  p.BidderID,
		"amount":     result.CurrentBid.String(),
	}).Info("bid accepted")
	return result, nil
}

// Buyout immediately closes the auction in the bidder's favor at the
// configured buyout price. Structurally, a buyout can never fall below the
// current bid because it is only offered when BuyoutPrice exceeds
// StartingPrice, every accepted bid only increases CurrentBid, and a bid at
// or above BuyoutPrice closes the auction.
func (e *Engine) Buyout(ctx context.Context, auctionID uuid.UUID, bidderID int64) (domain.Auction, error) {
	ctx, span := tracer.Start(ctx, "auction.Buyout")
	defer span.End()

	var result domain.Auction
	err := e.withAuctionLock(ctx, auctionID, func(tx pgx.Tx, a domain.Auction) error {
		if a.Status != domain.AuctionActive {
			return apperr.New(apperr.Conflict, "auction is not active")
		}
		if a.BuyoutPrice == nil {
			return apperr.New(apperr.BadRequest, "auction has no buyout price")
		}

		now := time.Now().UTC()
		bid := domain.Bid{ID: uuid.New(), AuctionID: a.ID, BidderID: bidderID, Amount: *a.BuyoutPrice, PlacedAt: now}
		if err := e.store.AppendBid(ctx, tx, bid, nil, false); err != nil {
			return err
		}
		a.CurrentBid = *a.BuyoutPrice
		a.HighestBidderID = &bidderID
		e.bus.Publish(a.ChannelID, eventbus.KindBidPlaced, bid)

		if err := e.closeLocked(ctx, tx, &a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return domain.Auction{}, err
	}
	log.WithFields(log.Fields{"auction_id": result.ID, "bidder_id": bidderID}).Info("buyout accepted")
	return result, nil
}

// CloseEarly lets the seller end an active auction before its scheduled
// deadline, settling a winner if one exists.
func (e *Engine) CloseEarly(ctx context.Context, auctionID uuid.UUID, sellerID int64) (domain.Auction, error) {
	ctx, span := tracer.Start(ctx, "auction.CloseEarly")
	defer span.End()

	var result domain.Auction
	err := e.withAuctionLock(ctx, auctionID, func(tx pgx.Tx, a domain.Auction) error {
		if a.SellerID != sellerID {
			return apperr.New(apperr.Forbidden, "only the seller may close this auction")
		}
		if a.Status != domain.AuctionActive {
			return apperr.New(apperr.Conflict, "auction is not active")
		}
		if err := e.closeLocked(ctx, tx, &a); err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// Cancel terminates an active auction with no winner settlement, used by
// the seller before any bid has been placed.
func (e *Engine) Cancel(ctx context.Context, auctionID uuid.UUID, sellerID int64) (domain.Auction, error) {
	var result domain.Auction
	err := e.withAuctionLock(ctx, auctionID, func(tx pgx.Tx, a domain.Auction) error {
		if a.SellerID != sellerID {
			return apperr.New(apperr.Forbidden, "only the seller may cancel this auction")
		}
		if a.Status != domain.AuctionActive {
			return apperr.New(apperr.Conflict, "auction is not active")
		}
		if a.HasWinner() {
			return apperr.New(apperr.Conflict, "auction already has bids")
		}
		if err := e.store.SetAuctionStatus(ctx, tx, a.ID, domain.AuctionCancelled); err != nil {
			return err
		}
		a.Status = domain.AuctionCancelled
		result = a
		e.bus.Publish(a.ChannelID, eventbus.KindAuctionCancelled, a)
		return nil
	})
	return result, err
}

// DispatchClose is invoked by the scheduler when an auction's close
// deadline fires. It is idempotent: an auction already in a terminal state
// is a no-op rather than an error, since the scheduler may redeliver.
func (e *Engine) DispatchClose(ctx context.Context, auctionID uuid.UUID) error {
	return e.withAuctionLock(ctx, auctionID, func(tx pgx.Tx, a domain.Auction) error {
		if a.Status != domain.AuctionActive {
			return nil
		}
		if time.Now().UTC().Before(a.EndsAt) {
			return nil
		}
		return e.closeLocked(ctx, tx, &a)
	})
}

// closeLocked performs the settlement algorithm: transition to ended,
// compute the platform fee and seller payout, create the Order and its
// ledger legs, and schedule the payment-window deadline. Caller must hold
// the auction's lock and an open, FOR-UPDATE-backed transaction.
func (e *Engine) closeLocked(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	status := domain.AuctionEnded
	if err := e.store.SetAuctionStatus(ctx, tx, a.ID, status); err != nil {
		return err
	}
	a.Status = status

	if !a.HasWinner() {
		metrics.AuctionsClosed.WithLabelValues("no_winner").Inc()
		e.bus.Publish(a.ChannelID, eventbus.KindAuctionEnded, a)
		return nil
	}

	fee := a.CurrentBid.Mul(decimal.NewFromInt(int64(e.cfg.PlatformFeeBps))).Div(decimal.NewFromInt(10000)).Round(2)
	payout := a.CurrentBid.Sub(fee)
	deadline := time.Now().UTC().Add(e.cfg.PaymentWindow)

	order := domain.Order{
		ID:              uuid.New(),
		AuctionID:       a.ID,
		BuyerID:         *a.HighestBidderID,
		SellerID:        a.SellerID,
		FinalPrice:      a.CurrentBid,
		PlatformFee:     fee,
		SellerPayout:    payout,
		PaymentStatus:   domain.PaymentPending,
		PaymentDeadline: &deadline,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.InsertOrder(ctx, tx, order); err != nil {
		return err
	}
	if err := e.ledger.BookSettlement(ctx, tx, order); err != nil {
		return err
	}
	if err := e.store.InsertScheduledDeadline(ctx, tx, domain.DeadlinePaymentExpire, order.ID.String(), deadline); err != nil {
		return err
	}

	metrics.AuctionsClosed.WithLabelValues("settled").Inc()
	e.bus.Publish(a.ChannelID, eventbus.KindAuctionEnded, a)
	e.bus.Publish(a.ChannelID, eventbus.KindOrderCreated, order)
	log.WithFields(log.Fields{
		"auction_id": a.ID,
		"order_id":   order.ID,
		"final_price": order.FinalPrice.String(),
	}).Info("auction closed with winner")
	return nil
}
