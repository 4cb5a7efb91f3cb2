// Package scheduler implements the Deadline Scheduler component: a durable
// timer wheel backed by the persistent store. A poll loop claims due,
// unclaimed deadlines, dispatches them to the owning component, and retries
// failures with exponential backoff before giving up to a dead letter
// state. A lease watchdog reclaims deadlines orphaned by a crashed
// scheduler instance.
package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/domain"
)

// Store is the subset of persistence the scheduler drives.
type Store interface {
	ClaimDueDeadlines(ctx context.Context, limit int) ([]domain.ScheduledDeadline, error)
	ReleaseExpiredLeases(ctx context.Context, leaseSeconds int) (int64, error)
	CompleteDeadline(ctx context.Context, id int64) error
	RetryDeadline(ctx context.Context, id int64, cause error, maxRetries int, nextFireAt time.Time) error
}

// Handler dispatches a claimed deadline to the component responsible for
// its kind. A non-nil error causes the scheduler to retry the deadline.
type Handler func(ctx context.Context, d domain.ScheduledDeadline) error

var deadLetterTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "scheduler_dead_letter_total",
	Help: "Total number of scheduled deadlines moved to the dead letter state.",
})

func init() {
	prometheus.MustRegister(deadLetterTotal)
}

// Config carries the scheduler's tunable knobs.
type Config struct {
	PollInterval time.Duration
	LeaseSeconds int
	MaxRetries   int
	ClaimBatch   int
}

// Scheduler polls the store for due deadlines and dispatches them to the
// registered handler for their kind.
type Scheduler struct {
	store    Store
	cfg      Config
	handlers map[domain.DeadlineKind]Handler
}

// New builds a Scheduler. Handlers must be registered with RegisterHandler
// before Run is called.
func New(store Store, cfg Config) *Scheduler {
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 20
	}
	return &Scheduler{store: store, cfg: cfg, handlers: make(map[domain.DeadlineKind]Handler)}
}

// RegisterHandler wires the dispatcher for one deadline kind.
func (s *Scheduler) RegisterHandler(kind domain.DeadlineKind, h Handler) {
	s.handlers[kind] = h
}

// Run polls until ctx is cancelled. It is intended to be launched as its
// own goroutine from cmd/server.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	leaseTicker := time.NewTicker(time.Duration(s.cfg.LeaseSeconds) * time.Second)
	defer leaseTicker.Stop()

	log.WithField("poll_interval", s.cfg.PollInterval).Info("deadline scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("deadline scheduler stopping")
			return
		case <-leaseTicker.C:
			s.reclaimLeases(ctx)
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) reclaimLeases(ctx context.Context) {
	n, err := s.store.ReleaseExpiredLeases(ctx, s.cfg.LeaseSeconds)
	if err != nil {
		log.WithError(err).Error("failed to release expired deadline leases")
		return
	}
	if n > 0 {
		log.WithField("count", n).Warn("reclaimed deadlines from expired leases")
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	due, err := s.store.ClaimDueDeadlines(ctx, s.cfg.ClaimBatch)
	if err != nil {
		log.WithError(err).Error("failed to claim due deadlines")
		return
	}
	for _, d := range due {
		s.dispatch(ctx, d)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, d domain.ScheduledDeadline) {
	handler, ok := s.handlers[d.Kind]
	if !ok {
		log.WithField("kind", d.Kind).Error("no handler registered for deadline kind")
		s.fail(ctx, d, errNoHandler(d.Kind))
		return
	}

	if err := handler(ctx, d); err != nil {
		s.fail(ctx, d, err)
		return
	}

	if err := s.store.CompleteDeadline(ctx, d.ID); err != nil {
		log.WithError(err).WithField("deadline_id", d.ID).Error("failed to complete dispatched deadline")
	}
}

// retryDelay computes the backoff interval for a given retry count using
// the same exponential-backoff primitives the rest of this package relies
// on elsewhere, capped at one minute.
func retryDelay(retryCount int) time.Duration {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = time.Second
	boff.MaxInterval = 60 * time.Second
	boff.Multiplier = 2
	boff.RandomizationFactor = 0.2

	d := boff.NextBackOff()
	for i := 0; i < retryCount; i++ {
		d = boff.NextBackOff()
	}
	if d > boff.MaxInterval {
		d = boff.MaxInterval
	}
	return d
}

func (s *Scheduler) fail(ctx context.Context, d domain.ScheduledDeadline, cause error) {
	next := time.Now().UTC().Add(retryDelay(d.RetryCount))
	if err := s.store.RetryDeadline(ctx, d.ID, cause, s.cfg.MaxRetries, next); err != nil {
		log.WithError(err).WithField("deadline_id", d.ID).Error("failed to record deadline retry")
		return
	}
	if d.RetryCount+1 >= s.cfg.MaxRetries {
		deadLetterTotal.Inc()
		log.WithFields(log.Fields{
			"deadline_id": d.ID,
			"kind":        d.Kind,
			"target_id":   d.TargetID,
		}).Error("deadline moved to dead letter after exhausting retries")
	}
}

type errNoHandler domain.DeadlineKind

func (e errNoHandler) Error() string {
	return "no handler registered for deadline kind " + string(e)
}

// ParseAuctionTarget parses a scheduled deadline's target_id back into the
// UUID it refers to: the auction id for auction_close deadlines, the order
// id for payment_expire deadlines.
func ParseAuctionTarget(targetID string) (uuid.UUID, error) {
	return uuid.Parse(targetID)
}
