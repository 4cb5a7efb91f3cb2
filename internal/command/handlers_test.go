package command

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/auth"
	"github.com/loftbid/liveauction/internal/domain"
	"github.com/loftbid/liveauction/internal/eventbus"
)

type fakeStore struct {
	channels map[int64]domain.Channel
	orders   map[uuid.UUID]domain.Order
	messages []domain.ChatMessage
	shipped  []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{channels: map[int64]domain.Channel{}, orders: map[uuid.UUID]domain.Order{}}
}

func (f *fakeStore) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	c, ok := f.channels[id]
	if !ok {
		return domain.Channel{}, apperr.New(apperr.NotFound, "channel not found")
	}
	return c, nil
}

func (f *fakeStore) GetAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	return domain.Auction{}, apperr.New(apperr.NotFound, "not implemented in fake")
}

func (f *fakeStore) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, apperr.New(apperr.NotFound, "order not found")
	}
	return o, nil
}

func (f *fakeStore) MarkOrderShipped(ctx context.Context, id uuid.UUID) error {
	f.shipped = append(f.shipped, id)
	return nil
}

func (f *fakeStore) InsertChatMessage(ctx context.Context, m domain.ChatMessage) (domain.ChatMessage, error) {
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeStore) ListChatMessages(ctx context.Context, channelID int64, limit int) ([]domain.ChatMessage, error) {
	return f.messages, nil
}

func (f *fakeStore) HighlightProductDirect(ctx context.Context, channelID int64, productID *int64) error {
	c := f.channels[channelID]
	c.HighlightedProduct = productID
	f.channels[channelID] = c
	return nil
}

func withIdentity(r *http.Request, id auth.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey{}, id))
}

func TestHandleHighlightProductRejectsNonHost(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	fs.channels[1] = domain.Channel{ID: 1, HostID: 99}
	s.store = fs

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/1/highlight", bytes.NewBufferString(`{"product_id":5}`))
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	req = withIdentity(req, auth.Identity{UserID: 1})
	rec := httptest.NewRecorder()

	s.handleHighlightProduct(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHighlightProductSucceedsForHost(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	fs.channels[1] = domain.Channel{ID: 1, HostID: 42}
	s.store = fs

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/1/highlight", bytes.NewBufferString(`{"product_id":5}`))
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	req = withIdentity(req, auth.Identity{UserID: 42})
	rec := httptest.NewRecorder()

	s.handleHighlightProduct(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, fs.channels[1].HighlightedProduct)
	assert.Equal(t, int64(5), *fs.channels[1].HighlightedProduct)
}

func TestHandleOrderMarkShippedRejectsNonSeller(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	orderID := uuid.New()
	fs.orders[orderID] = domain.Order{ID: orderID, SellerID: 7}
	s.store = fs

	req := httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderID.String()+"/ship", nil)
	req = mux.SetURLVars(req, map[string]string{"order_id": orderID.String()})
	req = withIdentity(req, auth.Identity{UserID: 1})
	rec := httptest.NewRecorder()

	s.handleOrderMarkShipped(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fs.shipped)
}

func TestHandleOrderMarkShippedSucceedsForSeller(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	orderID := uuid.New()
	fs.orders[orderID] = domain.Order{ID: orderID, SellerID: 7}
	s.store = fs

	req := httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderID.String()+"/ship", nil)
	req = mux.SetURLVars(req, map[string]string{"order_id": orderID.String()})
	req = withIdentity(req, auth.Identity{UserID: 7})
	rec := httptest.NewRecorder()

	s.handleOrderMarkShipped(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fs.shipped, 1)
	assert.Equal(t, orderID, fs.shipped[0])
}

func TestHandleMessageSendRejectsInactiveParticipant(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	s.store = fs

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/1/messages", bytes.NewBufferString(`{"content":"hello"}`))
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	req = withIdentity(req, auth.Identity{UserID: 1})
	rec := httptest.NewRecorder()

	s.handleMessageSend(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fs.messages)
}

func TestHandleMessageSendRejectsEmptyAfterTrim(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	s.store = fs
	s.presence.Join(1, 1)

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/1/messages", bytes.NewBufferString(`{"content":"   "}`))
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	req = withIdentity(req, auth.Identity{UserID: 1})
	rec := httptest.NewRecorder()

	s.handleMessageSend(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fs.messages)
}

func TestHandleMessageSendPublishesEscapedChatMessage(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	s.store = fs
	s.presence.Join(1, 1)

	sub := s.bus.Subscribe(1)

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/1/messages", bytes.NewBufferString(`{"content":"  <b>hi</b>  "}`))
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	req = withIdentity(req, auth.Identity{UserID: 1})
	rec := httptest.NewRecorder()

	s.handleMessageSend(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, fs.messages, 1)
	assert.Equal(t, "<b>hi</b>", fs.messages[0].Content)

	ev, ok := sub.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, eventbus.KindChatMessage, ev.Kind)
	published, ok := ev.Payload.(domain.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", published.Content)
}

func TestHandleMessageListReturnsStoredMessages(t *testing.T) {
	s := newTestSurface()
	fs := newFakeStore()
	fs.messages = []domain.ChatMessage{{ID: 1, ChannelID: 1, Content: "hi"}}
	s.store = fs

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/1/messages", nil)
	req = mux.SetURLVars(req, map[string]string{"channel_id": "1"})
	rec := httptest.NewRecorder()

	s.handleMessageList(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseVarInt64RejectsNonNumeric(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/channels/abc/messages", nil)
	req = mux.SetURLVars(req, map[string]string{"channel_id": "abc"})

	_, err := parseVarInt64(req, "channel_id")
	require.Error(t, err)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}
