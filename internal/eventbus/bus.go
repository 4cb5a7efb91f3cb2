// Package eventbus is the in-process publish/subscribe fabric that fans out
// domain events to connected subscription gateways. Each channel id gets its
// own topic with a monotonic sequence number; subscribers read a bounded
// queue and are disconnected rather than allowed to stall a publisher.
package eventbus

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Kind enumerates the event envelope types the bus carries.
type Kind string

const (
	KindAuctionStarted       Kind = "auction.started"
	KindBidPlaced            Kind = "auction.bid_placed"
	KindAuctionExtended      Kind = "auction.extended"
	KindAuctionEnded         Kind = "auction.ended"
	KindAuctionCancelled     Kind = "auction.cancelled"
	KindProductHighlighted   Kind = "product.highlighted"
	KindProductUnhighlighted Kind = "product.unhighlighted"
	KindChatMessage          Kind = "chat.message"
	KindParticipantJoined    Kind = "participant.joined"
	KindParticipantLeft      Kind = "participant.left"
	KindOrderCreated         Kind = "order.created"
	KindOrderExpired         Kind = "order.expired"
)

// Event is one published envelope. Seq is assigned by the topic at publish
// time and is strictly increasing per channel, giving every subscriber on a
// topic the same total order (I6).
type Event struct {
	Seq       uint64      `json:"seq"`
	ChannelID int64       `json:"channel_id"`
	Kind      Kind        `json:"kind"`
	Payload   interface{} `json:"payload"`
}

// DisconnectReason explains why a Subscription's channel was closed by the
// bus rather than by the caller.
type DisconnectReason string

const (
	ReasonUnsubscribed DisconnectReason = "unsubscribed"
	ReasonSlowConsumer DisconnectReason = "slow_consumer"
	ReasonBusClosed    DisconnectReason = "bus_closed"
)

// Subscription is a pull-based handle: callers read events with Next rather
// than supplying a callback, so slow processing on one subscriber can never
// reenter the bus's publish path.
type Subscription struct {
	id        uint64
	channelID int64
	queue     chan Event
	done      chan struct{}
	reason    DisconnectReason
	mu        sync.Mutex
}

// Next blocks until an event is available, the subscription is closed, or
// ctx is done. ok is false once the subscription is permanently drained.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, open := <-s.queue:
		if !open {
			return Event{}, false
		}
		return ev, true
	case <-s.done:
		select {
		case ev, open := <-s.queue:
			if open {
				return ev, true
			}
		default:
		}
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Reason reports why the subscription ended, valid after Next returns false.
func (s *Subscription) Reason() DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) closeWith(reason DisconnectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.reason = reason
	close(s.done)
	close(s.queue)
}

type topic struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[uint64]*Subscription
}

// Bus owns one topic per channel id and a bounded per-subscriber queue
// depth shared by all topics.
type Bus struct {
	mu       sync.RWMutex
	topics   map[int64]*topic
	queueMax int
	nextID   uint64
}

// New builds a Bus whose subscriber queues hold at most queueMax events
// before the subscriber is treated as a slow consumer and dropped.
func New(queueMax int) *Bus {
	return &Bus{
		topics:   make(map[int64]*topic),
		queueMax: queueMax,
	}
}

func (b *Bus) topicFor(channelID int64) *topic {
	b.mu.RLock()
	t, ok := b.topics[channelID]
	b.mu.RUnlock()
	if ok {
		return t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[channelID]; ok {
		return t
	}
	t = &topic{subs: make(map[uint64]*Subscription)}
	b.topics[channelID] = t
	return t
}

// Subscribe attaches a new pull-based Subscription to a channel's topic.
func (b *Bus) Subscribe(channelID int64) *Subscription {
	t := b.topicFor(channelID)
	t.mu.Lock()
	defer t.mu.Unlock()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	sub := &Subscription{
		id:        id,
		channelID: channelID,
		queue:     make(chan Event, b.queueMax),
		done:      make(chan struct{}),
	}
	t.subs[id] = sub
	return sub
}

// Unsubscribe detaches sub from its topic and closes it with
// ReasonUnsubscribed. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	t := b.topicFor(sub.channelID)
	t.mu.Lock()
	delete(t.subs, sub.id)
	t.mu.Unlock()
	sub.closeWith(ReasonUnsubscribed)
}

// Publish assigns the next sequence number for channelID and fans the event
// out to every live subscriber. A subscriber whose queue is full is
// disconnected instead of blocking the publisher, matching the
// non-blocking broadcast pattern used by the realtime fan-out layer this
// bus generalizes.
func (b *Bus) Publish(channelID int64, kind Kind, payload interface{}) Event {
	t := b.topicFor(channelID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	ev := Event{Seq: t.seq, ChannelID: channelID, Kind: kind, Payload: payload}

	for id, sub := range t.subs {
		select {
		case sub.queue <- ev:
		default:
			log.WithFields(log.Fields{
				"channel_id": channelID,
				"sub_id":     id,
				"kind":       kind,
			}).Warn("subscriber queue full, disconnecting slow consumer")
			delete(t.subs, id)
			sub.closeWith(ReasonSlowConsumer)
		}
	}
	return ev
}

// SubscriberCount reports the number of live subscribers on a channel's
// topic.
func (b *Bus) SubscriberCount(channelID int64) int {
	t := b.topicFor(channelID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// CloseAll disconnects every subscriber on every topic, used during
// graceful shutdown.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		t.mu.Lock()
		for id, sub := range t.subs {
			delete(t.subs, id)
			sub.closeWith(ReasonBusClosed)
		}
		t.mu.Unlock()
	}
}
