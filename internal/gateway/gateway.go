// Package gateway implements the Subscription Gateway component: a
// WebSocket duplex endpoint that authenticates the caller, attaches an
// eventbus Subscription for a channel, and pumps events to the socket
// until the client disconnects or goes idle.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/auth"
	"github.com/loftbid/liveauction/internal/eventbus"
	"github.com/loftbid/liveauction/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway upgrades authenticated HTTP requests to WebSocket connections and
// fans out bus events to each connection.
type Gateway struct {
	bus           *eventbus.Bus
	authenticator *auth.Authenticator
	presence      *Presence
	idleTimeout   time.Duration
}

// New builds a Gateway bound to bus and authenticator. presence is shared
// with the command surface so chat validation can see who is connected.
func New(bus *eventbus.Bus, authenticator *auth.Authenticator, presence *Presence, idleTimeout time.Duration) *Gateway {
	return &Gateway{bus: bus, authenticator: authenticator, presence: presence, idleTimeout: idleTimeout}
}

// ServeHTTP upgrades the connection, authenticates via the token query
// parameter (browser WebSocket clients cannot set an Authorization
// header), and subscribes to the requested channel for the connection's
// lifetime.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := g.authenticator.Verify(token)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	rawChannelID := mux.Vars(r)["channel_id"]
	if rawChannelID == "" {
		rawChannelID = r.URL.Query().Get("channel_id")
	}
	channelID, err := strconv.ParseInt(rawChannelID, 10, 64)
	if err != nil {
		http.Error(w, "invalid channel_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	sub := g.bus.Subscribe(channelID)
	g.presence.Join(channelID, identity.UserID)
	g.bus.Publish(channelID, eventbus.KindParticipantJoined, identity.UserID)
	metrics.GatewayConnections.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	go g.writePump(ctx, conn, sub)
	g.readPump(conn)
	cancel()

	g.bus.Unsubscribe(sub)
	g.presence.Leave(channelID, identity.UserID)
	g.bus.Publish(channelID, eventbus.KindParticipantLeft, identity.UserID)
	metrics.GatewayConnections.Dec()
	_ = conn.Close()
}

// writePump drains the subscription and writes each event as a JSON text
// frame until the subscription is closed by the bus (unsubscribed, slow
// consumer, or bus shutdown) or the read side cancels ctx on disconnect.
func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, sub *eventbus.Subscription) {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			reason := sub.Reason()
			if reason == "" {
				return
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)))
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			log.WithError(err).Error("failed to marshal event for websocket")
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readPump enforces the idle timeout via ping/pong: it pings the client every
// half idle timeout, and each pong pushes the read deadline out again.
// Inbound frames are not part of this protocol (clients issue commands over
// the HTTP command surface, not the socket), so frames are drained and
// discarded until the connection closes or goes idle.
func (g *Gateway) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(g.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			case <-stop:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
