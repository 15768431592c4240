package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rentflow/rental-backend/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronConfig holds job schedules (six-field cron specs with seconds)
type CronConfig struct {
	DepositRetrySpec string
	PendingSweepSpec string
	// PendingGrace leaves fresh bookings to the synchronous path and webhooks
	PendingGrace time.Duration
	BatchSize    int
	JobTimeout   time.Duration
}

// DefaultCronConfig returns default configuration
func DefaultCronConfig() CronConfig {
	return CronConfig{
		DepositRetrySpec: "0 */15 * * * *",
		PendingSweepSpec: "0 */5 * * * *",
		PendingGrace:     10 * time.Minute,
		BatchSize:        50,
		JobTimeout:       2 * time.Minute,
	}
}

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	bookings   BookingStore
	bookingSvc *BookingService
	metrics    *Metrics
	config     CronConfig
	logger     *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(bookings BookingStore, bookingSvc *BookingService, metrics *Metrics, config CronConfig, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:       cron.New(cron.WithSeconds()),
		bookings:   bookings,
		bookingSvc: bookingSvc,
		metrics:    metrics,
		config:     config,
		logger:     logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.config.DepositRetrySpec, s.depositRetryJob); err != nil {
		return fmt.Errorf("failed to schedule deposit retry job: %w", err)
	}
	s.logger.WithField("spec", s.config.DepositRetrySpec).Info("✓ Scheduled: Retry failed deposit holds")

	if _, err := s.cron.AddFunc(s.config.PendingSweepSpec, s.pendingSweepJob); err != nil {
		return fmt.Errorf("failed to schedule pending sweep job: %w", err)
	}
	s.logger.WithField("spec", s.config.PendingSweepSpec).Info("✓ Scheduled: Confirm paid pending bookings")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) depositRetryJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	s.run("deposit_retry", func() (int, error) { return s.RetryDepositHolds(ctx) })
}

func (s *CronService) pendingSweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	s.run("pending_sweep", func() (int, error) { return s.ConfirmPaidPending(ctx) })
}

func (s *CronService) run(job string, fn func() (int, error)) {
	log := s.logger.WithField("job", job)
	log.Debug("[CRON] Starting job")
	startTime := time.Now()

	n, err := fn()
	if s.metrics != nil {
		s.metrics.CronRuns.WithLabelValues(job, resultLabel(err)).Inc()
	}
	if err != nil {
		log.WithError(err).Error("[CRON ERROR] Job failed")
		return
	}
	log.WithFields(logrus.Fields{
		"handled":  n,
		"duration": time.Since(startTime).String(),
	}).Info("[CRON] ✓ Job finished")
}

// RetryDepositHolds retries deposit holds that failed at pickup.
// Returns the number of holds placed.
func (s *CronService) RetryDepositHolds(ctx context.Context) (int, error) {
	bookings, err := s.bookings.ListAwaitingDepositHold(ctx, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	placed := 0
	for _, b := range bookings {
		if err := s.bookingSvc.HoldDeposit(ctx, b.ID); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Deposit hold retry failed")
			continue
		}
		placed++
	}
	return placed, nil
}

// ConfirmPaidPending confirms pending bookings whose payment already
// succeeded but whose confirmation never happened, e.g. a lost webhook.
// Returns the number of bookings this run confirmed.
func (s *CronService) ConfirmPaidPending(ctx context.Context) (int, error) {
	bookings, err := s.bookings.ListPendingWithSucceededPayment(ctx, s.config.PendingGrace, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, b := range bookings {
		won, err := s.bookingSvc.ConfirmFromPayment(ctx, b.ID, models.PaymentSourceScheduler)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Pending sweep could not confirm booking")
			continue
		}
		if won {
			confirmed++
		}
	}
	return confirmed, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
