// Package metrics exposes the process's Prometheus counters and the text
// exposition handler, wired the same way the rest of this codebase
// optionally mounts /metrics behind an environment flag.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsAccepted counts bids the auction engine has accepted.
	BidsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Total number of bids accepted across all auctions.",
	})

	// AuctionsClosed counts auctions closed, labeled by whether a winner
	// was settled.
	AuctionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_closed_total",
		Help: "Total number of auctions closed (cancellations are not counted).",
	}, []string{"outcome"})

	// GatewayConnections tracks live WebSocket subscriptions.
	GatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Number of currently connected subscription gateway sockets.",
	})
)

func init() {
	prometheus.MustRegister(BidsAccepted, AuctionsClosed, GatewayConnections)
}

// Handler returns the Prometheus text exposition HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
