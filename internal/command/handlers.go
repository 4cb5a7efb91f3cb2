// Package command implements the Command Surface component: the HTTP API
// through which every mutating operation enters the system. Handlers
// validate the request, translate it into an engine or store call, and
// translate the result (or apperr) back into a JSON response.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/auction"
	"github.com/loftbid/liveauction/internal/auth"
	"github.com/loftbid/liveauction/internal/domain"
	"github.com/loftbid/liveauction/internal/eventbus"
	"github.com/loftbid/liveauction/internal/gateway"
)

// Store is the subset of persistence the command surface reads directly
// (writes to auction state always go through the engine).
type Store interface {
	GetChannel(ctx context.Context, id int64) (domain.Channel, error)
	GetAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error)
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	MarkOrderShipped(ctx context.Context, id uuid.UUID) error
	InsertChatMessage(ctx context.Context, m domain.ChatMessage) (domain.ChatMessage, error)
	ListChatMessages(ctx context.Context, channelID int64, limit int) ([]domain.ChatMessage, error)
	HighlightProductDirect(ctx context.Context, channelID int64, productID *int64) error
}

// MessageLimiter is the subset of ratelimit.Limiter the chat send handler
// drives, narrowed to an interface so it can be faked in tests without a
// Redis client.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID, channelID int64, limit int64, window time.Duration) (bool, error)
}

// commandTimeout bounds every handler's engine/store work so a stuck
// dependency fails the request with a timeout instead of hanging it.
const commandTimeout = 5 * time.Second

// Surface wires the HTTP router for every command operation.
type Surface struct {
	engine        *auction.Engine
	store         Store
	bus           *eventbus.Bus
	presence      *gateway.Presence
	authenticator *auth.Authenticator
	limiter       MessageLimiter
	validate      *validator.Validate
	corsOrigin    string
	messageLimit  int64
	messageWindow time.Duration
	messageMaxLen int
}

// New builds a Surface and wires every route onto router.
func New(engine *auction.Engine, store Store, bus *eventbus.Bus, presence *gateway.Presence, authenticator *auth.Authenticator, limiter MessageLimiter,
	corsOrigin string, messageLimit int, messageWindow time.Duration, messageMaxLen int) *Surface {
	return &Surface{
		engine:        engine,
		store:         store,
		bus:           bus,
		presence:      presence,
		authenticator: authenticator,
		limiter:       limiter,
		validate:      validator.New(),
		corsOrigin:    corsOrigin,
		messageLimit:  int64(messageLimit),
		messageWindow: messageWindow,
		messageMaxLen: messageMaxLen,
	}
}

// withCommandTimeout bounds a handler's downstream work at commandTimeout,
// mapping a context.DeadlineExceeded back through apperr at the boundary
// via writeError's use of apperr.KindOf.
func (s *Surface) withCommandTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), commandTimeout)
}

// Mount registers every route and middleware chain onto router.
func (s *Surface) Mount(router *mux.Router) {
	router.Use(s.corsMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/auctions", s.handleAuctionStart).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auctions/{auction_id}/bids", s.handleAuctionBid).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auctions/{auction_id}/buyout", s.handleAuctionBuyout).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auctions/{auction_id}/close", s.handleAuctionCloseEarly).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auctions/{auction_id}/cancel", s.handleAuctionCancel).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/channels/{channel_id}/highlight", s.handleHighlightProduct).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/channels/{channel_id}/highlight", s.handleUnhighlightProduct).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/channels/{channel_id}/messages", s.handleMessageSend).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/channels/{channel_id}/messages", s.handleMessageList).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/orders/{order_id}/ship", s.handleOrderMarkShipped).Methods(http.MethodPost, http.MethodOptions)
}

func (s *Surface) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startAuctionRequest struct {
	ChannelID     int64  `json:"channel_id" validate:"required"`
	ProductID     int64  `json:"product_id" validate:"required"`
	StartingPrice string `json:"starting_price" validate:"required"`
	BuyoutPrice   string `json:"buyout_price"`
	DurationSec   int    `json:"duration_seconds" validate:"required"`
}

func (s *Surface) handleAuctionStart(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	if err := auth.RequireRole(identity, domain.RoleSeller); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req startAuctionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	startingPrice, err := decimal.NewFromString(req.StartingPrice)
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid starting_price"))
		return
	}
	var buyout *decimal.Decimal
	if req.BuyoutPrice != "" {
		b, err := decimal.NewFromString(req.BuyoutPrice)
		if err != nil {
			s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid buyout_price"))
			return
		}
		buyout = &b
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()
	a, err := s.engine.Start(ctx, auction.StartParams{
		ChannelID:     req.ChannelID,
		SellerID:      identity.UserID,
		ProductID:     req.ProductID,
		StartingPrice: startingPrice,
		BuyoutPrice:   buyout,
		DurationSec:   req.DurationSec,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, a)
}

type placeBidRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (s *Surface) handleAuctionBid(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	auctionID, err := uuid.Parse(mux.Vars(r)["auction_id"])
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid auction_id"))
		return
	}

	var req placeBidRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid amount"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()
	a, err := s.engine.PlaceBid(ctx, auction.BidParams{AuctionID: auctionID, BidderID: identity.UserID, Amount: amount})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Surface) handleAuctionBuyout(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	auctionID, err := uuid.Parse(mux.Vars(r)["auction_id"])
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid auction_id"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()
	a, err := s.engine.Buyout(ctx, auctionID, identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Surface) handleAuctionCloseEarly(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	auctionID, err := uuid.Parse(mux.Vars(r)["auction_id"])
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid auction_id"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()
	a, err := s.engine.CloseEarly(ctx, auctionID, identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Surface) handleAuctionCancel(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	auctionID, err := uuid.Parse(mux.Vars(r)["auction_id"])
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid auction_id"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()
	a, err := s.engine.Cancel(ctx, auctionID, identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

type highlightProductRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
}

func (s *Surface) handleHighlightProduct(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	channelID, err := parseVarInt64(r, "channel_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if channel.HostID != identity.UserID {
		s.writeError(w, r, apperr.New(apperr.Forbidden, "only the host may highlight a product"))
		return
	}

	var req highlightProductRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.store.HighlightProductDirect(ctx, channelID, &req.ProductID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bus.Publish(channelID, eventbus.KindProductHighlighted, req.ProductID)
	s.respondJSON(w, http.StatusOK, map[string]int64{"channel_id": channelID, "product_id": req.ProductID})
}

func (s *Surface) handleUnhighlightProduct(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	channelID, err := parseVarInt64(r, "channel_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if channel.HostID != identity.UserID {
		s.writeError(w, r, apperr.New(apperr.Forbidden, "only the host may unhighlight a product"))
		return
	}

	if err := s.store.HighlightProductDirect(ctx, channelID, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bus.Publish(channelID, eventbus.KindProductUnhighlighted, nil)
	s.respondJSON(w, http.StatusOK, map[string]int64{"channel_id": channelID})
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *Surface) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	channelID, err := parseVarInt64(r, "channel_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.presence.IsActive(channelID, identity.UserID) {
		s.writeError(w, r, apperr.New(apperr.Forbidden, "must be an active participant to send a message"))
		return
	}

	var req sendMessageRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "message content cannot be empty"))
		return
	}
	if len(content) > s.messageMaxLen {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "message exceeds maximum length"))
		return
	}
	if !containsPrintable(content) {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "message content must contain visible characters"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()

	allowed, err := s.limiter.AllowMessage(ctx, identity.UserID, channelID, s.messageLimit, s.messageWindow)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.Internal, "rate limit check failed", err))
		return
	}
	if !allowed {
		s.writeError(w, r, apperr.New(apperr.TooManyRequests, "message rate limit exceeded"))
		return
	}

	msg, err := s.store.InsertChatMessage(ctx, domain.ChatMessage{
		ChannelID: channelID,
		AuthorID:  identity.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	escaped := msg
	escaped.Content = html.EscapeString(msg.Content)
	s.bus.Publish(channelID, eventbus.KindChatMessage, escaped)
	s.respondJSON(w, http.StatusCreated, msg)
}

// containsPrintable reports whether s has at least one rune that is not a
// control character, rejecting messages made up solely of control bytes.
func containsPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func (s *Surface) handleMessageList(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseVarInt64(r, "channel_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()

	messages, err := s.store.ListChatMessages(ctx, channelID, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, messages)
}

func (s *Surface) handleOrderMarkShipped(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	orderID, err := uuid.Parse(mux.Vars(r)["order_id"])
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "invalid order_id"))
		return
	}

	ctx, cancel := s.withCommandTimeout(r)
	defer cancel()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if order.SellerID != identity.UserID {
		s.writeError(w, r, apperr.New(apperr.Forbidden, "only the seller may mark an order shipped"))
		return
	}

	if err := s.store.MarkOrderShipped(ctx, orderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"order_id": orderID.String(), "status": "shipped"})
}

func parseVarInt64(r *http.Request, name string) (int64, error) {
	s := mux.Vars(r)[name]
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid "+name)
	}
	return n, nil
}

func (s *Surface) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "malformed request body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "request validation failed", err))
		return false
	}
	return true
}

func (s *Surface) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("failed to encode response body")
	}
}

type errorEnvelope struct {
	Error struct {
		Kind    apperr.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (s *Surface) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	log.WithFields(log.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
		"kind":   kind,
	}).WithError(err).Warn("command surface returned error")

	message := "internal error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
	} else if kind == apperr.Timeout {
		message = "command deadline exceeded"
	}

	var env errorEnvelope
	env.Error.Kind = kind
	env.Error.Message = message
	s.respondJSON(w, status, env)
}

func errUnauthenticated(message string) error {
	return apperr.New(apperr.Unauthenticated, message)
}
