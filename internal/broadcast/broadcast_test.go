package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/shopbot/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubRecipients struct {
	ids []int64
}

func (s *stubRecipients) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var page []int64
	for _, id := range s.ids {
		if id > afterID {
			page = append(page, id)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type stubSender struct {
	mu        sync.Mutex
	delivered map[int64]int
	attempts  map[int64]int
	failFor   map[int64]error
	throttle  map[int64]bool
}

func newStubSender() *stubSender {
	return &stubSender{
		delivered: make(map[int64]int),
		attempts:  make(map[int64]int),
		failFor:   make(map[int64]error),
		throttle:  make(map[int64]bool),
	}
}

func (s *stubSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[chatID]++
	if s.throttle[chatID] && s.attempts[chatID] == 1 {
		return &telegram.RetryAfterError{After: time.Millisecond}
	}
	if err := s.failFor[chatID]; err != nil {
		return err
	}
	s.delivered[chatID]++
	return nil
}

func idsUpTo(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func waitDone(t *testing.T, r *Runner, id uuid.UUID) Job {
	t.Helper()
	r.Wait()
	job, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusDone, job.Status)
	require.NotNil(t, job.FinishedAt)
	return job
}

func TestRunner_DeliversToEveryRecipientAcrossPages(t *testing.T) {
	sender := newStubSender()
	r := NewRunner(context.Background(), &stubRecipients{ids: idsUpTo(250)}, sender, zaptest.NewLogger(t), 0)

	job, err := r.Start("sale today")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)

	job = waitDone(t, r, job.ID)
	assert.Equal(t, 250, job.Sent)
	assert.Equal(t, 0, job.Failed)
	assert.Empty(t, job.Error)
	for _, id := range idsUpTo(250) {
		assert.Equal(t, 1, sender.delivered[id], "recipient %d", id)
	}
}

func TestRunner_CountsFailuresAndContinues(t *testing.T) {
	sender := newStubSender()
	sender.failFor[2] = &telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	sender.failFor[4] = errors.New("connection reset")

	r := NewRunner(context.Background(), &stubRecipients{ids: idsUpTo(5)}, sender, zaptest.NewLogger(t), 0)
	job, err := r.Start("hello")
	require.NoError(t, err)

	job = waitDone(t, r, job.ID)
	assert.Equal(t, 3, job.Sent)
	assert.Equal(t, 2, job.Failed)
}

func TestRunner_RetriesOnceAfterThrottle(t *testing.T) {
	sender := newStubSender()
	sender.throttle[1] = true

	r := NewRunner(context.Background(), &stubRecipients{ids: idsUpTo(2)}, sender, zaptest.NewLogger(t), 0)
	job, err := r.Start("hello")
	require.NoError(t, err)

	job = waitDone(t, r, job.ID)
	assert.Equal(t, 2, job.Sent)
	assert.Equal(t, 2, sender.attempts[1])
	assert.Equal(t, 1, sender.delivered[1])
}

func TestRunner_StopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := newStubSender()
	r := NewRunner(ctx, &stubRecipients{ids: idsUpTo(1000)}, sender, zaptest.NewLogger(t), 10*time.Millisecond)

	job, err := r.Start("hello")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	cancel()

	job = waitDone(t, r, job.ID)
	assert.Less(t, job.Sent, 1000)
	assert.NotEmpty(t, job.Error)
}

func TestRunner_Rejections(t *testing.T) {
	r := NewRunner(context.Background(), &stubRecipients{}, newStubSender(), nil, 0)

	_, err := r.Start("   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = r.Get(uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	unconfigured := NewRunner(context.Background(), &stubRecipients{}, nil, nil, 0)
	_, err = unconfigured.Start("hello")
	assert.ErrorIs(t, err, telegram.ErrNotConfigured)
}
