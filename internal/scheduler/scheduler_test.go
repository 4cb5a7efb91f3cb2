package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftbid/liveauction/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	due       []domain.ScheduledDeadline
	completed []int64
	retried   []retryCall
	leaseReleased int64
}

type retryCall struct {
	id         int64
	cause      error
	maxRetries int
	nextFireAt time.Time
}

func (f *fakeStore) ClaimDueDeadlines(ctx context.Context, limit int) ([]domain.ScheduledDeadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.due) > limit {
		batch := f.due[:limit]
		f.due = f.due[limit:]
		return batch, nil
	}
	batch := f.due
	f.due = nil
	return batch, nil
}

func (f *fakeStore) ReleaseExpiredLeases(ctx context.Context, leaseSeconds int) (int64, error) {
	return f.leaseReleased, nil
}

func (f *fakeStore) CompleteDeadline(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) RetryDeadline(ctx context.Context, id int64, cause error, maxRetries int, nextFireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, retryCall{id, cause, maxRetries, nextFireAt})
	return nil
}

func TestPollOnceCompletesSuccessfulDeadline(t *testing.T) {
	fs := &fakeStore{due: []domain.ScheduledDeadline{{ID: 1, Kind: domain.DeadlineAuctionClose, TargetID: "a"}}}
	s := New(fs, Config{MaxRetries: 3, ClaimBatch: 10})
	s.RegisterHandler(domain.DeadlineAuctionClose, func(ctx context.Context, d domain.ScheduledDeadline) error {
		return nil
	})

	s.pollOnce(context.Background())

	assert.Equal(t, []int64{1}, fs.completed)
	assert.Empty(t, fs.retried)
}

func TestPollOnceRetriesFailedHandlerWithComputedDelay(t *testing.T) {
	fs := &fakeStore{due: []domain.ScheduledDeadline{{ID: 2, Kind: domain.DeadlineAuctionClose, TargetID: "a", RetryCount: 0}}}
	s := New(fs, Config{MaxRetries: 5, ClaimBatch: 10})
	handlerErr := errors.New("settlement failed")
	s.RegisterHandler(domain.DeadlineAuctionClose, func(ctx context.Context, d domain.ScheduledDeadline) error {
		return handlerErr
	})

	before := time.Now().UTC()
	s.pollOnce(context.Background())

	require.Len(t, fs.retried, 1)
	call := fs.retried[0]
	assert.Equal(t, int64(2), call.id)
	assert.ErrorIs(t, call.cause, handlerErr)
	assert.Equal(t, 5, call.maxRetries)
	assert.True(t, call.nextFireAt.After(before))
	assert.Empty(t, fs.completed)
}

func TestDispatchFailsDeadlineWithNoRegisteredHandler(t *testing.T) {
	fs := &fakeStore{due: []domain.ScheduledDeadline{{ID: 3, Kind: domain.DeadlinePaymentExpire, TargetID: "o"}}}
	s := New(fs, Config{MaxRetries: 3, ClaimBatch: 10})

	s.pollOnce(context.Background())

	require.Len(t, fs.retried, 1)
	assert.Equal(t, int64(3), fs.retried[0].id)
}

func TestRetryDelayStaysWithinConfiguredBounds(t *testing.T) {
	d0 := retryDelay(0)
	d5 := retryDelay(5)
	assert.True(t, d0 > 0)
	assert.True(t, d5 > 0)
	assert.True(t, d5 <= 60*time.Second)
}

func TestParseAuctionTargetRoundTrips(t *testing.T) {
	id := uuid.New()
	got, err := ParseAuctionTarget(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseAuctionTarget("not-a-uuid")
	assert.Error(t, err)
}
