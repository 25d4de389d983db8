// Package broadcast рассылает одно сообщение всем пользователям в фоне.
package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/shopbot/internal/telegram"
	"go.uber.org/zap"
)

const pageSize = 100

var (
	// ErrEmptyText возвращается для пустого текста рассылки.
	ErrEmptyText = errors.New("broadcast text is empty")
	// ErrJobNotFound возвращается для неизвестного идентификатора рассылки.
	ErrJobNotFound = errors.New("broadcast job not found")
)

// Recipients постранично отдаёт идентификаторы получателей по возрастанию.
type Recipients interface {
	ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// Sender отправляет сообщение одному получателю.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Status описывает состояние рассылки.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Job содержит снимок прогресса рассылки.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	Status     Status     `json:"status"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Runner запускает рассылки и хранит их прогресс в памяти.
type Runner struct {
	ctx        context.Context
	recipients Recipients
	sender     Sender
	logger     *zap.Logger
	delay      time.Duration

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	wg   sync.WaitGroup
}

// NewRunner создаёт Runner. Рассылки прерываются при отмене ctx.
func NewRunner(ctx context.Context, recipients Recipients, sender Sender, logger *zap.Logger, delay time.Duration) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		ctx:        ctx,
		recipients: recipients,
		sender:     sender,
		logger:     logger,
		delay:      delay,
		jobs:       make(map[uuid.UUID]*Job),
	}
}

// Start создаёт рассылку и сразу возвращает её снимок.
func (r *Runner) Start(text string) (Job, error) {
	if strings.TrimSpace(text) == "" {
		return Job{}, ErrEmptyText
	}
	if r.sender == nil {
		return Job{}, telegram.ErrNotConfigured
	}

	job := &Job{
		ID:        uuid.New(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.logger.Info("broadcast started", zap.String("job_id", job.ID.String()), zap.Int("length", len(text)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job, text)
	}()

	return snapshot, nil
}

// Get возвращает снимок рассылки.
func (r *Runner) Get(id uuid.UUID) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Wait дожидается завершения всех запущенных рассылок.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(job *Job, text string) {
	var (
		afterID  int64
		runErr   error
		finished bool
	)

	for !finished {
		ids, err := r.recipients.ListUserIDs(r.ctx, afterID, pageSize)
		if err != nil {
			runErr = err
			break
		}

		for _, id := range ids {
			if r.ctx.Err() != nil {
				runErr = r.ctx.Err()
				finished = true
				break
			}

			ok := r.deliver(id, text)
			r.mu.Lock()
			if ok {
				job.Sent++
			} else {
				job.Failed++
			}
			r.mu.Unlock()

			if !sleep(r.ctx, r.delay) {
				runErr = r.ctx.Err()
				finished = true
				break
			}
		}

		if len(ids) < pageSize {
			finished = true
		} else {
			afterID = ids[len(ids)-1]
		}
	}

	now := time.Now().UTC()
	r.mu.Lock()
	job.Status = StatusDone
	job.FinishedAt = &now
	if runErr != nil {
		job.Error = runErr.Error()
	}
	sent, failed := job.Sent, job.Failed
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
		zap.Duration("elapsed", now.Sub(job.StartedAt)),
	}
	if runErr != nil {
		r.logger.Warn("broadcast interrupted", append(fields, zap.Error(runErr))...)
		return
	}
	r.logger.Info("broadcast finished", fields...)
}

// deliver отправляет сообщение и один раз повторяет попытку после ответа 429.
func (r *Runner) deliver(chatID int64, text string) bool {
	err := r.sender.SendMessage(r.ctx, chatID, text)
	if err == nil {
		return true
	}

	var retryErr *telegram.RetryAfterError
	if errors.As(err, &retryErr) {
		if !sleep(r.ctx, retryErr.After) {
			return false
		}
		err = r.sender.SendMessage(r.ctx, chatID, text)
		if err == nil {
			return true
		}
	}

	r.logger.Debug("broadcast delivery failed", zap.Int64("chat_id", chatID), zap.Error(err))
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
