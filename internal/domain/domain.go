// Package domain holds the entity types shared by the store, auction engine,
// scheduler and command surface. Types are explicit tagged structs with
// exhaustive enum-like string constants; unknown values are rejected at the
// transport boundary (see internal/command).
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is a capability granted to a User.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// User is an account holder. Id is immutable once assigned.
type User struct {
	ID          int64     `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Roles       []Role    `json:"roles" db:"roles"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(r Role) bool {
	for _, have := range u.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// ChannelStatus is the lifecycle state of a live session.
type ChannelStatus string

const (
	ChannelScheduled ChannelStatus = "scheduled"
	ChannelActive    ChannelStatus = "active"
	ChannelEnded     ChannelStatus = "ended"
)

// Channel is a seller-owned live session.
type Channel struct {
	ID                  int64         `json:"id" db:"id"`
	HostID              int64         `json:"host_id" db:"host_id"`
	Status              ChannelStatus `json:"status" db:"status"`
	HighlightedProduct  *int64        `json:"highlighted_product_id,omitempty" db:"highlighted_product_id"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	EndedAt             *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
}

// Product is an item belonging to a shop; immutable once an auction has
// taken a snapshot of it.
type Product struct {
	ID       int64           `json:"id" db:"id"`
	ShopID   int64           `json:"shop_id" db:"shop_id"`
	Name     string          `json:"name" db:"name"`
	Price    decimal.Decimal `json:"price" db:"price"`
	IsActive bool            `json:"is_active" db:"is_active"`
}

// AuctionStatus is the lifecycle state of an Auction. ended/paid/cancelled
// are terminal and never transition back to active.
type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionPaid      AuctionStatus = "paid"
	AuctionCancelled AuctionStatus = "cancelled"
)

// AllowedDurations enumerates the permitted auction durations in seconds.
var AllowedDurations = map[int]bool{60: true, 300: true, 600: true, 1800: true}

// Auction is the central aggregate: a single timed bidding session against
// one product snapshot within a channel.
type Auction struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	ChannelID        int64            `json:"channel_id" db:"channel_id"`
	SellerID         int64            `json:"seller_id" db:"seller_id"`
	ProductID        int64            `json:"product_id" db:"product_id"`
	StartingPrice    decimal.Decimal  `json:"starting_price" db:"starting_price"`
	BuyoutPrice      *decimal.Decimal `json:"buyout_price,omitempty" db:"buyout_price"`
	CurrentBid       decimal.Decimal  `json:"current_bid" db:"current_bid"`
	HighestBidderID  *int64           `json:"highest_bidder_id,omitempty" db:"highest_bidder_id"`
	DurationSeconds  int              `json:"duration_seconds" db:"duration_seconds"`
	StartedAt        time.Time        `json:"started_at" db:"started_at"`
	EndsAt           time.Time        `json:"ends_at" db:"ends_at"`
	ExtendedCount    int              `json:"extended_count" db:"extended_count"`
	Status           AuctionStatus    `json:"status" db:"status"`
}

// IsTerminal reports whether the auction can never transition again.
func (a Auction) IsTerminal() bool {
	return a.Status == AuctionEnded || a.Status == AuctionPaid || a.Status == AuctionCancelled
}

// HasWinner reports whether a bid has been accepted.
func (a Auction) HasWinner() bool {
	return a.HighestBidderID != nil
}

// Bid is an immutable accepted bid on an auction.
type Bid struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	AuctionID uuid.UUID       `json:"auction_id" db:"auction_id"`
	BidderID  int64           `json:"bidder_id" db:"bidder_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	PlacedAt  time.Time       `json:"placed_at" db:"placed_at"`
}

// PaymentStatus is the lifecycle state of an Order's payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Order is created atomically when an auction terminates with a winner.
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	AuctionID       uuid.UUID       `json:"auction_id" db:"auction_id"`
	BuyerID         int64           `json:"buyer_id" db:"buyer_id"`
	SellerID        int64           `json:"seller_id" db:"seller_id"`
	FinalPrice      decimal.Decimal `json:"final_price" db:"final_price"`
	PlatformFee     decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	SellerPayout    decimal.Decimal `json:"seller_payout" db:"seller_payout"`
	PaymentStatus   PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentDeadline *time.Time      `json:"payment_deadline,omitempty" db:"payment_deadline"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty" db:"shipped_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Shipped reports the derived display state: shipped_at is set and payment
// has gone through.
func (o Order) Shipped() bool {
	return o.ShippedAt != nil && o.PaymentStatus == PaymentPaid
}

// DeadlineKind distinguishes the two classes of durable timers C6 drives.
type DeadlineKind string

const (
	DeadlineAuctionClose   DeadlineKind = "auction_close"
	DeadlinePaymentExpire  DeadlineKind = "payment_expire"
)

// ScheduledDeadline is a durable, at-most-once-dispatched future side effect.
type ScheduledDeadline struct {
	ID         int64        `json:"id" db:"id"`
	Kind       DeadlineKind `json:"kind" db:"kind"`
	TargetID   string       `json:"target_id" db:"target_id"`
	FireAt     time.Time    `json:"fire_at" db:"fire_at"`
	ClaimedAt  *time.Time   `json:"claimed_at,omitempty" db:"claimed_at"`
	RetryCount int          `json:"retry_count" db:"retry_count"`
	LastError  string       `json:"last_error,omitempty" db:"last_error"`
	DeadLetter bool         `json:"dead_letter" db:"dead_letter"`
}

// ChatMessage is a soft-deletable chat line published on a channel topic.
type ChatMessage struct {
	ID        int64      `json:"id" db:"id"`
	ChannelID int64      `json:"channel_id" db:"channel_id"`
	AuthorID  int64      `json:"author_id" db:"author_id"`
	Content   string     `json:"content" db:"content"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// LedgerEntryKind distinguishes the two settlement legs booked per order.
type LedgerEntryKind string

const (
	LedgerPlatformFee  LedgerEntryKind = "platform_fee"
	LedgerSellerPayout LedgerEntryKind = "seller_payout"
)

// LedgerEntry is one double-entry leg of an order's settlement, booked in
// the same transaction that closes the auction and creates the Order.
type LedgerEntry struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Kind      LedgerEntryKind `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
